package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAIServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "gpt-4o-mini", payload["model"])

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(baseURL string) *Client {
	return New("openai", "", "test-key", baseURL, "v1", 5*time.Second, true)
}

func TestSummarizeAndScore(t *testing.T) {
	t.Parallel()

	server := openAIServer(t, `{"summary": "要約です。", "risk_score": 72, "extra": "ignored"}`)
	defer server.Close()

	res, err := newTestClient(server.URL).SummarizeAndScore(context.Background(), "タイトル", "本文")
	require.NoError(t, err)
	assert.Equal(t, "要約です。", res.Summary)
	assert.Equal(t, 72, res.RiskScore)
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.Equal(t, "v1", res.PromptVersion)
}

func TestSummarizeAndScoreClampsHigh(t *testing.T) {
	t.Parallel()

	server := openAIServer(t, `{"summary": "s", "risk_score": 150}`)
	defer server.Close()

	res, err := newTestClient(server.URL).SummarizeAndScore(context.Background(), "t", "b")
	require.NoError(t, err)
	assert.Equal(t, 100, res.RiskScore)
}

func TestSummarizeAndScoreClampsLow(t *testing.T) {
	t.Parallel()

	server := openAIServer(t, `{"summary": "s", "risk_score": 0}`)
	defer server.Close()

	res, err := newTestClient(server.URL).SummarizeAndScore(context.Background(), "t", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, res.RiskScore)
}

func TestSummarizeAndScoreCodeFence(t *testing.T) {
	t.Parallel()

	server := openAIServer(t, "```json\n{\"summary\": \"s\", \"risk_score\": 42}\n```")
	defer server.Close()

	res, err := newTestClient(server.URL).SummarizeAndScore(context.Background(), "t", "b")
	require.NoError(t, err)
	assert.Equal(t, 42, res.RiskScore)
}

func TestSummarizeAndScoreDisabled(t *testing.T) {
	t.Parallel()

	c := New("openai", "", "test-key", "", "v1", time.Second, false)
	_, err := c.SummarizeAndScore(context.Background(), "t", "b")

	unavailable := &Unavailable{}
	require.ErrorAs(t, err, &unavailable)
	assert.False(t, c.Enabled())
}

func TestSummarizeAndScoreMissingKey(t *testing.T) {
	t.Parallel()

	c := New("openai", "", "", "", "v1", time.Second, true)
	_, err := c.SummarizeAndScore(context.Background(), "t", "b")

	unavailable := &Unavailable{}
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, err.Error(), "api key")
}

func TestSummarizeAndScoreMalformedResponse(t *testing.T) {
	t.Parallel()

	server := openAIServer(t, "this is not json at all")
	defer server.Close()

	_, err := newTestClient(server.URL).SummarizeAndScore(context.Background(), "t", "b")
	unavailable := &Unavailable{}
	require.ErrorAs(t, err, &unavailable)
}

func TestSummarizeAndScoreMissingFields(t *testing.T) {
	t.Parallel()

	for name, content := range map[string]string{
		"no summary":        `{"risk_score": 10}`,
		"no score":          `{"summary": "s"}`,
		"non-numeric score": `{"summary": "s", "risk_score": "high"}`,
	} {
		t.Run(name, func(t *testing.T) {
			server := openAIServer(t, content)
			defer server.Close()

			_, err := newTestClient(server.URL).SummarizeAndScore(context.Background(), "t", "b")
			unavailable := &Unavailable{}
			require.ErrorAs(t, err, &unavailable)
		})
	}
}

func TestSummarizeAndScoreUpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).SummarizeAndScore(context.Background(), "t", "b")
	unavailable := &Unavailable{}
	require.ErrorAs(t, err, &unavailable)
}

func TestSummarizeAndScoreAnthropic(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		resp := map[string]any{
			"content": []map[string]any{
				{"text": `{"summary": "s", "risk_score": 33}`},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := New("anthropic", "", "test-key", server.URL, "v2", time.Second, true)
	res, err := c.SummarizeAndScore(context.Background(), "t", "b")
	require.NoError(t, err)
	assert.Equal(t, 33, res.RiskScore)
	assert.Equal(t, "claude-sonnet-4-20250514", res.Model)
	assert.Equal(t, "v2", res.PromptVersion)
}
