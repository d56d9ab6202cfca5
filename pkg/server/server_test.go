package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miki-thecat/scraper-app/internal/ingest"
	"github.com/miki-thecat/scraper-app/internal/store"
	"github.com/miki-thecat/scraper-app/pkg/ai"
	"github.com/miki-thecat/scraper-app/pkg/feed"
	"github.com/miki-thecat/scraper-app/pkg/parse"
	"github.com/miki-thecat/scraper-app/pkg/provider"
	"github.com/miki-thecat/scraper-app/pkg/ratelimit"
	"github.com/miki-thecat/scraper-app/pkg/scrape"
)

const pageHTML = `<html><head>
<script type="application/ld+json">{"@type":"NewsArticle","headline":"Landslide alert","datePublished":"2026-03-01T09:00:00+09:00","articleBody":"Authorities warned residents to evacuate the hillside area."}</script>
</head><body></body></html>`

type stubFetcher struct {
	pages map[string]string
}

func (f *stubFetcher) Get(ctx context.Context, rawURL string) (*scrape.Result, error) {
	body, ok := f.pages[rawURL]
	if !ok {
		return nil, &scrape.Error{Kind: scrape.KindHTTPStatus, Status: 404, URL: rawURL}
	}
	return &scrape.Result{ResolvedURL: rawURL, Body: []byte(body), ContentType: "text/html"}, nil
}

type stubSummarizer struct {
	enabled bool
	result  *ai.Result
	err     error
}

func (s *stubSummarizer) Enabled() bool { return s.enabled }

func (s *stubSummarizer) SummarizeAndScore(ctx context.Context, title, body string) (*ai.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type testEnv struct {
	store   *store.SQLiteStore
	handler http.Handler
}

func newTestEnv(t *testing.T, fetcher ingest.Fetcher, summarizer ingest.Summarizer, ratePerMinute int) *testEnv {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	coordinator := ingest.New(provider.NewClassifier(nil), fetcher, parse.NewRegistry(nil), summarizer, st)
	aggregator := feed.New(nil, time.Second, 0, "")
	limiter := ratelimit.New(ratePerMinute, time.Minute)

	srv := New(st, coordinator, aggregator, limiter, 0)
	return &testEnv{store: st, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.RemoteAddr = "192.0.2.1:51234"
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{}, &stubSummarizer{}, 0)

	w := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestIngestCreatedAndCached(t *testing.T) {
	url := "https://news.yahoo.co.jp/articles/landslide"
	fetcher := &stubFetcher{pages: map[string]string{url: pageHTML}}
	summarizer := &stubSummarizer{enabled: true, result: &ai.Result{Summary: "evacuation warning", RiskScore: 75, Model: "gpt-4o-mini", PromptVersion: "v1"}}
	env := newTestEnv(t, fetcher, summarizer, 0)

	payload := fmt.Sprintf(`{"url":%q}`, url)

	first := env.do(t, http.MethodPost, "/api/v1/articles", payload)
	require.Equal(t, http.StatusCreated, first.Code)
	body := decode(t, first)
	assert.Equal(t, "created", body["status"])
	assert.Equal(t, true, body["ai_ran"])
	article := body["article"].(map[string]any)
	assert.Equal(t, "Landslide alert", article["title"])
	assert.Equal(t, float64(75), article["risk_score"])

	second := env.do(t, http.MethodPost, "/api/v1/articles", payload)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "cached", decode(t, second)["status"])
}

func TestIngestAISoftFailureReported(t *testing.T) {
	url := "https://news.yahoo.co.jp/articles/landslide"
	fetcher := &stubFetcher{pages: map[string]string{url: pageHTML}}
	summarizer := &stubSummarizer{enabled: true, err: &ai.Unavailable{Reason: "upstream error"}}
	env := newTestEnv(t, fetcher, summarizer, 0)

	w := env.do(t, http.MethodPost, "/api/v1/articles", fmt.Sprintf(`{"url":%q}`, url))
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["ai_ran"])
	assert.Equal(t, "upstream error", body["ai_error"])
}

func TestIngestValidation(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{}, &stubSummarizer{}, 0)

	w := env.do(t, http.MethodPost, "/api/v1/articles", `{"url":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/articles", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/articles", `{"url":"https://example.com/other"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestFetchFailureMapsTo502(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{}, &stubSummarizer{}, 0)

	w := env.do(t, http.MethodPost, "/api/v1/articles", `{"url":"https://news.yahoo.co.jp/articles/missing"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func seedArticle(t *testing.T, st *store.SQLiteStore, url, title string, score *int) string {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	a := &store.Article{ID: uuid.NewString(), URL: url, Title: title}
	require.NoError(t, tx.InsertArticle(ctx, a))
	if score != nil {
		require.NoError(t, tx.AddInference(ctx, &store.InferenceResult{
			ID: uuid.NewString(), ArticleID: a.ID, RiskScore: *score,
		}))
	}
	require.NoError(t, tx.Commit())
	return a.ID
}

func TestListAndDetail(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{}, &stubSummarizer{}, 0)

	score := 85
	id := seedArticle(t, env.store, "https://news.yahoo.co.jp/articles/a", "scored story", &score)
	seedArticle(t, env.store, "https://news.yahoo.co.jp/articles/b", "plain story", nil)

	list := env.do(t, http.MethodGet, "/api/v1/articles", "")
	require.Equal(t, http.StatusOK, list.Code)
	body := decode(t, list)
	assert.Equal(t, float64(2), body["count"])

	// band filter keeps only the scored article
	filtered := env.do(t, http.MethodGet, "/api/v1/articles?risk=high", "")
	require.Equal(t, http.StatusOK, filtered.Code)
	assert.Equal(t, float64(1), decode(t, filtered)["count"])

	detail := env.do(t, http.MethodGet, "/api/v1/articles/"+id, "")
	require.Equal(t, http.StatusOK, detail.Code)
	detailBody := decode(t, detail)
	assert.Equal(t, "scored story", detailBody["title"])
	assert.Len(t, detailBody["inferences"], 1)

	missing := env.do(t, http.MethodGet, "/api/v1/articles/nope", "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestListBadParams(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{}, &stubSummarizer{}, 0)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/articles?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/articles?start=notadate", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/articles?risk=extreme", "").Code)
}

func TestExportCSV(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{}, &stubSummarizer{}, 0)
	seedArticle(t, env.store, "https://news.yahoo.co.jp/articles/a", "exported", nil)

	w := env.do(t, http.MethodGet, "/api/v1/articles.csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "title,url,published_at,created_at,risk_score,risk_level,risk_label,summary", lines[0])
}

func TestFeedUnknownProvider(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{}, &stubSummarizer{}, 0)

	w := env.do(t, http.MethodGet, "/api/v1/feed?provider=cnn", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeedEmpty(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{}, &stubSummarizer{}, 0)

	w := env.do(t, http.MethodGet, "/api/v1/feed", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["count"])
}

func TestAnalyticsEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{}, &stubSummarizer{}, 0)
	score := 85
	seedArticle(t, env.store, "https://news.yahoo.co.jp/articles/a", "t", &score)

	w := env.do(t, http.MethodGet, "/api/v1/analytics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["total_articles"])
	assert.Equal(t, float64(1), body["high_risk_count"])
}

func TestRiskLevelsEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{}, &stubSummarizer{}, 0)

	w := env.do(t, http.MethodGet, "/api/v1/risk-levels", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 4)
}

func TestRateLimitGuardsAPIOnly(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{}, &stubSummarizer{}, 1)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/articles", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodGet, "/api/v1/articles", "").Code)

	// health check is never limited
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, &stubFetcher{}, &stubSummarizer{}, 0)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodDelete, "/api/v1/articles", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPost, "/api/v1/feed", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPost, "/api/v1/analytics", "").Code)
}
