package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"

	"github.com/miki-thecat/scraper-app/pkg/risk"
)

// Article is the canonical persisted record for an ingested URL. The
// url column is the unique, immutable upsert key.
type Article struct {
	ID          string     `db:"id" json:"id"`
	URL         string     `db:"url" json:"url"`
	Title       string     `db:"title" json:"title"`
	PublishedAt *time.Time `db:"published_at" json:"published_at"`
	Body        string     `db:"body" json:"body"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// InferenceResult is one row of the append-only AI history for an
// article. The latest inference is the row with the maximum
// (created_at, id) pair; it is always derived, never cached.
type InferenceResult struct {
	ID            string    `db:"id" json:"id"`
	ArticleID     string    `db:"article_id" json:"article_id"`
	RiskScore     int       `db:"risk_score" json:"risk_score"`
	Summary       string    `db:"summary" json:"summary"`
	Model         string    `db:"model" json:"model"`
	PromptVersion string    `db:"prompt_version" json:"prompt_version"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ErrNotFound signals a missing article or inference.
var ErrNotFound = errors.New("not found")

// ListOpts filters and orders article listings.
type ListOpts struct {
	Query   string
	Start   *time.Time
	End     *time.Time
	SortKey string // published_at, created_at, or title
	Order   string // asc or desc
	Band    *risk.Band
	Limit   int
}

// SQLiteStore persists articles and inference history in SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens the database at path and runs migrations. ":memory:" gives
// a throwaway store for tests.
func New(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// a single connection keeps :memory: coherent and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IsUniqueViolation reports whether err comes from a UNIQUE constraint,
// letting the coordinator resolve concurrent inserts of the same url.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		// SQLITE_CONSTRAINT_PRIMARYKEY / SQLITE_CONSTRAINT_UNIQUE
		if se.Code() == 1555 || se.Code() == 2067 {
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) GetArticle(ctx context.Context, id string) (*Article, error) {
	var a Article
	err := s.db.GetContext(ctx, &a, "SELECT * FROM articles WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article %s: %w", id, err)
	}
	return &a, nil
}

func (s *SQLiteStore) GetArticleByURL(ctx context.Context, url string) (*Article, error) {
	var a Article
	err := s.db.GetContext(ctx, &a, "SELECT * FROM articles WHERE url = ?", url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article by url %s: %w", url, err)
	}
	return &a, nil
}

var sortColumns = map[string]string{
	"published_at": "a.published_at",
	"created_at":   "a.created_at",
	"title":        "a.title",
}

// ListArticles applies search, date-range, and risk-band filters. The
// band filter matches against each article's latest inference.
func (s *SQLiteStore) ListArticles(ctx context.Context, opts ListOpts) ([]Article, error) {
	query := "SELECT a.* FROM articles a"
	var args []any

	if opts.Band != nil {
		query += ` JOIN inference_results ir ON ir.id = (
			SELECT id FROM inference_results
			WHERE article_id = a.id
			ORDER BY created_at DESC, id DESC LIMIT 1
		)`
	}

	query += " WHERE 1=1"

	if opts.Query != "" {
		like := "%" + opts.Query + "%"
		query += " AND (a.title LIKE ? OR a.body LIKE ?)"
		args = append(args, like, like)
	}
	if opts.Start != nil {
		query += " AND a.published_at >= ?"
		args = append(args, *opts.Start)
	}
	if opts.End != nil {
		query += " AND a.published_at <= ?"
		args = append(args, *opts.End)
	}
	if opts.Band != nil {
		query += " AND ir.risk_score >= ?"
		args = append(args, opts.Band.MinScore)
		if opts.Band.MaxScore != nil {
			query += " AND ir.risk_score <= ?"
			args = append(args, *opts.Band.MaxScore)
		}
	}

	column, ok := sortColumns[opts.SortKey]
	if !ok {
		column = "a.published_at"
	}
	direction := "DESC"
	if opts.Order == "asc" {
		direction = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s NULLS LAST, a.created_at DESC", column, direction)

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	var articles []Article
	if err := s.db.SelectContext(ctx, &articles, query, args...); err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return articles, nil
}

// Inferences returns the full history for an article, latest first.
func (s *SQLiteStore) Inferences(ctx context.Context, articleID string) ([]InferenceResult, error) {
	var results []InferenceResult
	err := s.db.SelectContext(ctx, &results,
		"SELECT * FROM inference_results WHERE article_id = ? ORDER BY created_at DESC, id DESC",
		articleID)
	if err != nil {
		return nil, fmt.Errorf("list inferences %s: %w", articleID, err)
	}
	return results, nil
}

// LatestInference returns the newest inference row for an article, or
// nil when the article has none.
func (s *SQLiteStore) LatestInference(ctx context.Context, articleID string) (*InferenceResult, error) {
	var result InferenceResult
	err := s.db.GetContext(ctx, &result,
		"SELECT * FROM inference_results WHERE article_id = ? ORDER BY created_at DESC, id DESC LIMIT 1",
		articleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest inference %s: %w", articleID, err)
	}
	return &result, nil
}

// Tx groups the writes of a single ingestion so an article and its
// inference commit or roll back together.
type Tx struct {
	tx *sqlx.Tx
}

func (s *SQLiteStore) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func (t *Tx) InsertArticle(ctx context.Context, a *Article) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO articles (id, url, title, published_at, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.URL, a.Title, a.PublishedAt, a.Body, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert article %s: %w", a.URL, err)
	}
	return nil
}

func (t *Tx) UpdateArticle(ctx context.Context, a *Article) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE articles SET url = ?, title = ?, published_at = ?, body = ?
		WHERE id = ?
	`, a.URL, a.Title, a.PublishedAt, a.Body, a.ID)
	if err != nil {
		return fmt.Errorf("update article %s: %w", a.ID, err)
	}
	return nil
}

func (t *Tx) AddInference(ctx context.Context, r *InferenceResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inference_results (id, article_id, risk_score, summary, model, prompt_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.ArticleID, r.RiskScore, r.Summary, r.Model, r.PromptVersion, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("add inference for %s: %w", r.ArticleID, err)
	}
	return nil
}

// CountArticles returns the total number of stored articles.
func (s *SQLiteStore) CountArticles(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM articles"); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

// CountInferences returns the total number of inference rows.
func (s *SQLiteStore) CountInferences(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM inference_results"); err != nil {
		return 0, fmt.Errorf("count inferences: %w", err)
	}
	return n, nil
}

// CountInferencesAtLeast counts inference rows scoring at or above min.
func (s *SQLiteStore) CountInferencesAtLeast(ctx context.Context, min int) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM inference_results WHERE risk_score >= ?", min)
	if err != nil {
		return 0, fmt.Errorf("count inferences >= %d: %w", min, err)
	}
	return n, nil
}

// AverageRiskScore averages across all inference rows; zero when none.
func (s *SQLiteStore) AverageRiskScore(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	if err := s.db.GetContext(ctx, &avg, "SELECT AVG(risk_score) FROM inference_results"); err != nil {
		return 0, fmt.Errorf("average risk score: %w", err)
	}
	return avg.Float64, nil
}

// LatestScores returns the newest inference score per article.
func (s *SQLiteStore) LatestScores(ctx context.Context) ([]int, error) {
	var scores []int
	err := s.db.SelectContext(ctx, &scores, `
		SELECT risk_score FROM (
			SELECT risk_score,
			       ROW_NUMBER() OVER (PARTITION BY article_id ORDER BY created_at DESC, id DESC) AS rn
			FROM inference_results
		) WHERE rn = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("latest scores: %w", err)
	}
	return scores, nil
}

// HighestRisk returns the article carrying the top inference score.
func (s *SQLiteStore) HighestRisk(ctx context.Context) (articleID, title string, score int, err error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT a.id, a.title, ir.risk_score
		FROM articles a
		JOIN inference_results ir ON ir.article_id = a.id
		ORDER BY ir.risk_score DESC, ir.created_at DESC
		LIMIT 1
	`)
	if scanErr := row.Scan(&articleID, &title, &score); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return "", "", 0, ErrNotFound
		}
		return "", "", 0, fmt.Errorf("highest risk: %w", scanErr)
	}
	return articleID, title, score, nil
}
