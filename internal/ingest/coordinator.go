// Package ingest coordinates the scrape-parse-persist-infer pipeline
// for a single article URL.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/miki-thecat/scraper-app/internal/store"
	"github.com/miki-thecat/scraper-app/pkg/ai"
	"github.com/miki-thecat/scraper-app/pkg/parse"
	"github.com/miki-thecat/scraper-app/pkg/provider"
	"github.com/miki-thecat/scraper-app/pkg/scrape"
)

// bodyMaxRunes caps how much article body is sent to the AI model.
const bodyMaxRunes = 4000

// Status reports how an ingestion resolved against the store.
type Status string

const (
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
	StatusCached  Status = "cached"
)

// Fetcher retrieves raw page bytes for a URL.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*scrape.Result, error)
}

// Summarizer produces a summary and risk score for article text.
// Soft failures surface as *ai.Unavailable.
type Summarizer interface {
	Enabled() bool
	SummarizeAndScore(ctx context.Context, title, body string) (*ai.Result, error)
}

// Options tune a single ingestion request.
type Options struct {
	// Force re-fetches and re-parses even when the URL is already stored.
	Force bool
	// RunAI gates the inference step entirely.
	RunAI bool
	// ForceAI runs inference even when a result already exists.
	ForceAI bool
}

// Result is the outcome of one ingestion.
type Result struct {
	Article   *store.Article `json:"article"`
	Status    Status         `json:"status"`
	AIEnabled bool           `json:"ai_enabled"`
	AIRan     bool           `json:"ai_ran"`
	AIError   string         `json:"ai_error,omitempty"`
}

// Error is an ingestion failure with an HTTP status for the API layer.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Coordinator runs the full pipeline: classify, fetch, parse, upsert,
// and optionally infer.
type Coordinator struct {
	classifier *provider.Classifier
	fetcher    Fetcher
	parsers    *parse.Registry
	summarizer Summarizer
	store      *store.SQLiteStore
	now        func() time.Time
}

func New(classifier *provider.Classifier, fetcher Fetcher, parsers *parse.Registry, summarizer Summarizer, st *store.SQLiteStore) *Coordinator {
	return &Coordinator{
		classifier: classifier,
		fetcher:    fetcher,
		parsers:    parsers,
		summarizer: summarizer,
		store:      st,
		now:        time.Now,
	}
}

// Ingest runs the pipeline for rawURL. Already-stored URLs short-circuit
// to cached unless opts.Force is set; failed AI never fails the request.
func (c *Coordinator) Ingest(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	tag := c.classifier.Classify(rawURL)
	if tag == provider.Unsupported {
		return nil, &Error{Status: http.StatusBadRequest, Message: "unsupported url"}
	}

	existing, err := c.store.GetArticleByURL(ctx, rawURL)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, &Error{Status: http.StatusInternalServerError, Message: "load article", Err: err}
	}

	res := &Result{AIEnabled: c.summarizer.Enabled()}

	if existing != nil && !opts.Force {
		res.Article = existing
		res.Status = StatusCached
	} else {
		article, ingestErr := c.fetchAndParse(ctx, tag, rawURL)
		if ingestErr != nil {
			return nil, ingestErr
		}
		if existing != nil {
			article.ID = existing.ID
			article.CreatedAt = existing.CreatedAt
			res.Status = StatusUpdated
		} else {
			article.ID = uuid.NewString()
			article.CreatedAt = c.now().UTC()
			res.Status = StatusCreated
		}
		res.Article = article
	}

	var inference *store.InferenceResult
	if c.shouldRunAI(ctx, res, opts) {
		inference = c.runAI(ctx, res)
	}

	if res.Status == StatusCached && inference == nil {
		return res, nil
	}

	if err := c.persist(ctx, res, inference); err != nil {
		return nil, err
	}
	return res, nil
}

// fetchAndParse retrieves and parses the page, following the Nifty
// topics indirection when the topics page links a full article.
func (c *Coordinator) fetchAndParse(ctx context.Context, tag provider.Tag, rawURL string) (*store.Article, *Error) {
	fetched, err := c.fetcher.Get(ctx, rawURL)
	if err != nil {
		return nil, &Error{Status: http.StatusBadGateway, Message: "fetch url", Err: err}
	}

	pageURL := fetched.ResolvedURL
	body := fetched.Body

	if tag == provider.Nifty {
		if articleURL := parse.NiftyArticleURL(body); articleURL != "" && articleURL != pageURL {
			log.Printf("[DEBUG] nifty topics page links %s, following", articleURL)
			if full, err := c.fetcher.Get(ctx, articleURL); err == nil {
				pageURL = full.ResolvedURL
				body = full.Body
			} else {
				log.Printf("[WARN] follow nifty article %s: %v", articleURL, err)
			}
		}
	}

	parsed, err := c.parsers.For(tag).Parse(body, pageURL)
	if err != nil {
		return nil, &Error{Status: http.StatusUnprocessableEntity, Message: "parse article", Err: err}
	}

	return &store.Article{
		URL:         rawURL,
		Title:       parsed.Title,
		PublishedAt: parsed.PublishedAt,
		Body:        parsed.Body,
	}, nil
}

// shouldRunAI applies the inference gate: the caller must request it,
// the client must be enabled, and there must be no prior result unless
// forced or the article content was just refreshed.
func (c *Coordinator) shouldRunAI(ctx context.Context, res *Result, opts Options) bool {
	if !opts.RunAI || !res.AIEnabled {
		return false
	}
	if opts.ForceAI {
		return true
	}
	if res.Status != StatusCached {
		return true
	}
	latest, err := c.store.LatestInference(ctx, res.Article.ID)
	if err != nil {
		log.Printf("[WARN] latest inference for %s: %v", res.Article.ID, err)
		return false
	}
	return latest == nil
}

// runAI performs inference and records soft failures on the result
// without failing the ingestion.
func (c *Coordinator) runAI(ctx context.Context, res *Result) *store.InferenceResult {
	body := truncateRunes(res.Article.Body, bodyMaxRunes)
	aiRes, err := c.summarizer.SummarizeAndScore(ctx, res.Article.Title, body)
	if err != nil {
		var unavailable *ai.Unavailable
		if errors.As(err, &unavailable) {
			log.Printf("[WARN] ai unavailable for %s: %v", res.Article.URL, err)
			res.AIError = unavailable.Reason
			return nil
		}
		log.Printf("[WARN] ai failed for %s: %v", res.Article.URL, err)
		res.AIError = err.Error()
		return nil
	}

	res.AIRan = true
	return &store.InferenceResult{
		ID:            uuid.NewString(),
		RiskScore:     aiRes.RiskScore,
		Summary:       aiRes.Summary,
		Model:         aiRes.Model,
		PromptVersion: aiRes.PromptVersion,
		CreatedAt:     c.now().UTC(),
	}
}

// persist commits the article write and inference in one transaction,
// resolving a concurrent insert of the same URL by retrying as update.
func (c *Coordinator) persist(ctx context.Context, res *Result, inference *store.InferenceResult) *Error {
	err := c.writeTx(ctx, res, inference)
	if err == nil {
		return nil
	}
	if !store.IsUniqueViolation(err) {
		return &Error{Status: http.StatusInternalServerError, Message: "persist article", Err: err}
	}

	// another request inserted the same URL first; adopt its identity
	winner, loadErr := c.store.GetArticleByURL(ctx, res.Article.URL)
	if loadErr != nil {
		return &Error{Status: http.StatusInternalServerError, Message: "resolve duplicate", Err: loadErr}
	}
	res.Article.ID = winner.ID
	res.Article.CreatedAt = winner.CreatedAt
	res.Status = StatusUpdated
	if inference != nil {
		inference.ArticleID = winner.ID
	}

	if err := c.writeTx(ctx, res, inference); err != nil {
		return &Error{Status: http.StatusInternalServerError, Message: "persist article", Err: err}
	}
	return nil
}

func (c *Coordinator) writeTx(ctx context.Context, res *Result, inference *store.InferenceResult) error {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch res.Status {
	case StatusCreated:
		if err := tx.InsertArticle(ctx, res.Article); err != nil {
			return err
		}
	case StatusUpdated:
		if err := tx.UpdateArticle(ctx, res.Article); err != nil {
			return err
		}
	}

	if inference != nil {
		inference.ArticleID = res.Article.ID
		if err := tx.AddInference(ctx, inference); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
