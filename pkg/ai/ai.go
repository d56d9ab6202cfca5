// Package ai calls an external model to summarize an article and
// assign a numeric risk score.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Result is a validated model response.
type Result struct {
	Summary       string `json:"summary"`
	RiskScore     int    `json:"risk_score"`
	Model         string `json:"model"`
	PromptVersion string `json:"prompt_version"`
}

// Unavailable is the soft failure for every AI problem: feature
// disabled, missing credential, transport error, or a malformed
// response. The coordinator reports it as a warning and keeps going.
type Unavailable struct {
	Reason string
	Err    error
}

func (u *Unavailable) Error() string {
	if u.Err != nil {
		return fmt.Sprintf("ai unavailable: %s: %v", u.Reason, u.Err)
	}
	return "ai unavailable: " + u.Reason
}

func (u *Unavailable) Unwrap() error { return u.Err }

// The instruction template requests strict JSON with exactly two
// fields; anything else in the response object is ignored.
const systemPrompt = `あなたは日本語のニュース記事のリスク評価官です。出力は必ず JSON で返してください。
評価軸：被害範囲・被害程度・社会的影響・死傷者/被害金額の大きさ。
You are a risk assessor for news articles. Always reply with strict JSON.`

const userPromptFormat = `次の記事を要約し、1〜100 のリスクスコアを付与してください。スコアは高いほど高リスク。
Summarize the article below and assign a risk score from 1 to 100; higher means riskier.
フィールド / fields: {"summary": string, "risk_score": number(1-100)} のJSONのみ出力してください。Output only that JSON object and nothing else.
タイトル: %s
本文:
%s`

// Client talks to an OpenAI- or Anthropic-compatible endpoint.
type Client struct {
	httpClient    *http.Client
	provider      string // "openai" or "anthropic"
	model         string
	apiKey        string
	baseURL       string
	promptVersion string
	enabled       bool
}

// New creates an AI client.
func New(provider, model, apiKey, baseURL, promptVersion string, timeout time.Duration, enabled bool) *Client {
	if model == "" {
		switch provider {
		case "anthropic":
			model = "claude-sonnet-4-20250514"
		default:
			model = "gpt-4o-mini"
		}
	}
	if promptVersion == "" {
		promptVersion = "v1"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		provider:      provider,
		model:         model,
		apiKey:        apiKey,
		baseURL:       baseURL,
		promptVersion: promptVersion,
		enabled:       enabled,
	}
}

// Enabled reports whether the feature is globally switched on.
func (c *Client) Enabled() bool { return c.enabled }

// SummarizeAndScore runs the model over title and body. The returned
// score is clamped into [1,100] even when the upstream model strays out
// of range. All failures come back as *Unavailable.
func (c *Client) SummarizeAndScore(ctx context.Context, title, body string) (*Result, error) {
	if !c.enabled {
		return nil, &Unavailable{Reason: "ai features are disabled"}
	}
	if c.apiKey == "" {
		return nil, &Unavailable{Reason: "api key is not configured"}
	}

	prompt := fmt.Sprintf(userPromptFormat, title, body)

	var raw string
	var err error
	switch c.provider {
	case "anthropic":
		raw, err = c.callAnthropic(ctx, prompt)
	default:
		raw, err = c.callOpenAI(ctx, prompt)
	}
	if err != nil {
		return nil, &Unavailable{Reason: "model call failed", Err: err}
	}

	payload, err := decodePayload(raw)
	if err != nil {
		return nil, &Unavailable{Reason: "could not parse model response", Err: err}
	}

	summary, ok := payload["summary"].(string)
	if !ok {
		return nil, &Unavailable{Reason: "response is missing a summary"}
	}
	score, ok := payload["risk_score"].(float64)
	if !ok {
		return nil, &Unavailable{Reason: "response is missing a numeric risk_score"}
	}

	return &Result{
		Summary:       strings.TrimSpace(summary),
		RiskScore:     clamp(int(score), 1, 100),
		Model:         c.model,
		PromptVersion: c.promptVersion,
	}, nil
}

// decodePayload tolerates code-fence wrapping around the JSON object.
func decodePayload(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if idx := strings.Index(raw[3:], "\n"); idx >= 0 {
			raw = raw[3+idx+1:]
		}
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
		raw = strings.TrimSpace(raw)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) callOpenAI(ctx context.Context, prompt string) (string, error) {
	baseURL := c.baseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature":     0.2,
		"max_tokens":      500,
		"response_format": map[string]string{"type": "json_object"},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai status %d", resp.StatusCode)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices returned")
	}
	return result.Choices[0].Message.Content, nil
}

func (c *Client) callAnthropic(ctx context.Context, prompt string) (string, error) {
	baseURL := c.baseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	payload := map[string]any{
		"model":      c.model,
		"max_tokens": 500,
		"system":     systemPrompt,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call anthropic: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic status %d", resp.StatusCode)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic: no content returned")
	}
	return result.Content[0].Text, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
