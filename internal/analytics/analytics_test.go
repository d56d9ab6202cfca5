package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miki-thecat/scraper-app/internal/store"
)

func seed(t *testing.T, st *store.SQLiteStore, url, title string, scores ...int) string {
	t.Helper()
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	article := &store.Article{ID: uuid.NewString(), URL: url, Title: title}
	require.NoError(t, tx.InsertArticle(ctx, article))

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, score := range scores {
		require.NoError(t, tx.AddInference(ctx, &store.InferenceResult{
			ID:        uuid.NewString(),
			ArticleID: article.ID,
			RiskScore: score,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, tx.Commit())
	return article.ID
}

func TestGatherEmpty(t *testing.T) {
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	summary, err := Gather(context.Background(), st)
	require.NoError(t, err)
	assert.Zero(t, summary.TotalArticles)
	assert.Zero(t, summary.TotalInferences)
	assert.Zero(t, summary.Coverage)
	assert.Zero(t, summary.AverageRiskScore)
	assert.Nil(t, summary.HighestRisk)
	// all bands present even when empty
	assert.Equal(t, map[string]int{"high": 0, "elevated": 0, "moderate": 0, "low": 0}, summary.Distribution)
}

func TestGather(t *testing.T) {
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	// latest score 85 (high), history has a 70 counted in high_risk_count
	top := seed(t, st, "https://news.yahoo.co.jp/articles/a", "top story", 70, 85)
	seed(t, st, "https://news.yahoo.co.jp/articles/b", "calm story", 20)
	// no inference at all
	seed(t, st, "https://news.yahoo.co.jp/articles/c", "unscored story")

	summary, err := Gather(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalArticles)
	assert.Equal(t, 3, summary.TotalInferences)
	assert.Equal(t, 2, summary.HighRiskCount)
	// avg of 70, 85, 20 is 58.33..., rounded to one decimal
	assert.InDelta(t, 58.3, summary.AverageRiskScore, 0.001)
	// 3 inference rows over 3 articles
	assert.InDelta(t, 1.0, summary.Coverage, 0.001)

	assert.Equal(t, map[string]int{"high": 1, "elevated": 0, "moderate": 0, "low": 1}, summary.Distribution)

	require.NotNil(t, summary.HighestRisk)
	assert.Equal(t, top, summary.HighestRisk.ArticleID)
	assert.Equal(t, "top story", summary.HighestRisk.Title)
	assert.Equal(t, 85, summary.HighestRisk.RiskScore)
}

func TestGatherCoverageCountsInferenceRows(t *testing.T) {
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	// two inference rows on one of two articles: the numerator is the
	// row count, so re-runs on a single article still lift coverage
	seed(t, st, "https://news.yahoo.co.jp/articles/a", "rerun story", 40, 55)
	seed(t, st, "https://news.yahoo.co.jp/articles/b", "unscored story")

	summary, err := Gather(context.Background(), st)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, summary.Coverage, 0.001)
}

func TestCoverageCapped(t *testing.T) {
	assert.Equal(t, 0.0, coverage(0, 0))
	assert.Equal(t, 0.5, coverage(1, 2))
	assert.Equal(t, 1.0, coverage(5, 3))
	assert.Equal(t, 0.333, coverage(1, 3))
}
