// Package server provides the HTTP API over the ingestion pipeline,
// the feed aggregator, and the analytics queries.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/miki-thecat/scraper-app/internal/analytics"
	"github.com/miki-thecat/scraper-app/internal/export"
	"github.com/miki-thecat/scraper-app/internal/ingest"
	"github.com/miki-thecat/scraper-app/internal/store"
	"github.com/miki-thecat/scraper-app/pkg/feed"
	"github.com/miki-thecat/scraper-app/pkg/provider"
	"github.com/miki-thecat/scraper-app/pkg/ratelimit"
	"github.com/miki-thecat/scraper-app/pkg/risk"
)

// Server provides the HTTP API.
type Server struct {
	store       *store.SQLiteStore
	coordinator *ingest.Coordinator
	aggregator  *feed.Aggregator
	limiter     *ratelimit.Limiter
	port        int
}

// New creates a new HTTP server.
func New(st *store.SQLiteStore, coordinator *ingest.Coordinator, aggregator *feed.Aggregator, limiter *ratelimit.Limiter, port int) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:       st,
		coordinator: coordinator,
		aggregator:  aggregator,
		limiter:     limiter,
		port:        port,
	}
}

// Handler builds the route table. The rate limiter guards /api/ only,
// the health check stays open.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/v1/articles", s.handleArticles)
	api.HandleFunc("/api/v1/articles/", s.handleArticleByID)
	api.HandleFunc("/api/v1/articles.csv", s.handleExportCSV)
	api.HandleFunc("/api/v1/feed", s.handleFeed)
	api.HandleFunc("/api/v1/analytics", s.handleAnalytics)
	api.HandleFunc("/api/v1/risk-levels", s.handleRiskLevels)

	root := http.NewServeMux()
	root.HandleFunc("/healthz", s.handleHealth)
	root.Handle("/api/", s.limiter.Middleware(api))
	return root
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("[INFO] server listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleArticles serves POST to ingest a URL and GET to list articles.
func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleIngest(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

type ingestRequest struct {
	URL     string `json:"url"`
	Force   bool   `json:"force"`
	RunAI   *bool  `json:"run_ai"`
	ForceAI bool   `json:"force_ai"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}

	opts := ingest.Options{Force: req.Force, RunAI: true, ForceAI: req.ForceAI}
	if req.RunAI != nil {
		opts.RunAI = *req.RunAI
	}

	res, err := s.coordinator.Ingest(r.Context(), req.URL, opts)
	if err != nil {
		var ingErr *ingest.Error
		if errors.As(err, &ingErr) {
			writeJSON(w, ingErr.Status, map[string]string{"error": ingErr.Message})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if res.Status == ingest.StatusCreated {
		status = http.StatusCreated
	}

	body := map[string]any{
		"article":    s.articleView(r.Context(), res.Article),
		"status":     res.Status,
		"ai_enabled": res.AIEnabled,
		"ai_ran":     res.AIRan,
	}
	if res.AIError != "" {
		body["ai_error"] = res.AIError
	}
	writeJSON(w, status, body)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptsFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	articles, err := s.store.ListArticles(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	views := make([]map[string]any, 0, len(articles))
	for i := range articles {
		views = append(views, s.articleView(r.Context(), &articles[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  views,
		"count": len(views),
	})
}

// listOptsFromQuery maps query parameters onto store list options.
func listOptsFromQuery(r *http.Request) (store.ListOpts, error) {
	q := r.URL.Query()
	opts := store.ListOpts{
		Query:   q.Get("q"),
		SortKey: q.Get("sort"),
		Order:   q.Get("order"),
		Limit:   100,
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, fmt.Errorf("invalid limit %q", v)
		}
		opts.Limit = n
	}
	if v := q.Get("start"); v != "" {
		t, err := parseDateParam(v)
		if err != nil {
			return opts, fmt.Errorf("invalid start %q", v)
		}
		opts.Start = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := parseDateParam(v)
		if err != nil {
			return opts, fmt.Errorf("invalid end %q", v)
		}
		// a bare date means the whole day
		if len(v) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		opts.End = &t
	}
	if v := q.Get("risk"); v != "" {
		band := risk.BySlug(v)
		if band == nil {
			return opts, fmt.Errorf("unknown risk band %q", v)
		}
		opts.Band = band
	}
	return opts, nil
}

func parseDateParam(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

// handleArticleByID serves GET /api/v1/articles/{id} with the full
// inference history.
func (s *Server) handleArticleByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/articles/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "article not found"})
		return
	}

	article, err := s.store.GetArticle(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "article not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	history, err := s.store.Inferences(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	view := s.articleView(r.Context(), article)
	view["body"] = article.Body
	view["inferences"] = history
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	opts, err := listOptsFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	articles, err := s.store.ListArticles(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="articles.csv"`)
	if err := export.WriteCSV(r.Context(), w, s.store, articles); err != nil {
		log.Printf("[WARN] csv export: %v", err)
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	q := r.URL.Query()
	tag := provider.Unsupported
	if v := q.Get("provider"); v != "" {
		tag = provider.Tag(v)
		known := false
		for _, candidate := range provider.All() {
			if tag == candidate {
				known = true
				break
			}
		}
		if !known {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown provider %q", v)})
			return
		}
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid limit %q", v)})
			return
		}
		limit = n
	}

	items := s.aggregator.Latest(r.Context(), tag, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"count": len(items),
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	summary, err := analytics.Gather(r.Context(), s.store)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRiskLevels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": risk.Levels()})
}

// articleView is the list/detail representation: article fields plus
// the latest inference and its band, without the full body.
func (s *Server) articleView(ctx context.Context, a *store.Article) map[string]any {
	view := map[string]any{
		"id":           a.ID,
		"url":          a.URL,
		"title":        a.Title,
		"published_at": a.PublishedAt,
		"created_at":   a.CreatedAt,
	}

	latest, err := s.store.LatestInference(ctx, a.ID)
	if err != nil {
		log.Printf("[WARN] latest inference for %s: %v", a.ID, err)
		return view
	}
	if latest != nil {
		view["risk_score"] = latest.RiskScore
		view["risk_band"] = risk.ClassifyScore(latest.RiskScore)
		view["summary"] = latest.Summary
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
