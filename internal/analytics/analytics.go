// Package analytics derives aggregate risk metrics from the store.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/miki-thecat/scraper-app/internal/store"
	"github.com/miki-thecat/scraper-app/pkg/risk"
)

// highRiskThreshold marks the score at which an inference counts as
// high risk in the summary.
const highRiskThreshold = 70

// HighestRisk names the single highest-scored article.
type HighestRisk struct {
	ArticleID string `json:"article_id"`
	Title     string `json:"title"`
	RiskScore int    `json:"risk_score"`
}

// Summary is the aggregate view served by the analytics endpoint.
type Summary struct {
	TotalArticles    int            `json:"total_articles"`
	TotalInferences  int            `json:"total_inferences"`
	HighRiskCount    int            `json:"high_risk_count"`
	AverageRiskScore float64        `json:"average_risk_score"`
	Coverage         float64        `json:"coverage"`
	Distribution     map[string]int `json:"distribution"`
	HighestRisk      *HighestRisk   `json:"highest_risk"`
}

// Gather computes the summary. Distribution buckets each article's
// latest inference score into the static risk bands.
func Gather(ctx context.Context, st *store.SQLiteStore) (*Summary, error) {
	totalArticles, err := st.CountArticles(ctx)
	if err != nil {
		return nil, fmt.Errorf("gather analytics: %w", err)
	}
	totalInferences, err := st.CountInferences(ctx)
	if err != nil {
		return nil, fmt.Errorf("gather analytics: %w", err)
	}
	highRisk, err := st.CountInferencesAtLeast(ctx, highRiskThreshold)
	if err != nil {
		return nil, fmt.Errorf("gather analytics: %w", err)
	}
	avg, err := st.AverageRiskScore(ctx)
	if err != nil {
		return nil, fmt.Errorf("gather analytics: %w", err)
	}
	latest, err := st.LatestScores(ctx)
	if err != nil {
		return nil, fmt.Errorf("gather analytics: %w", err)
	}

	distribution := make(map[string]int, len(risk.Levels()))
	for _, band := range risk.Levels() {
		distribution[band.Slug] = 0
	}
	for _, score := range latest {
		distribution[risk.ClassifyScore(score).Slug]++
	}

	summary := &Summary{
		TotalArticles:    totalArticles,
		TotalInferences:  totalInferences,
		HighRiskCount:    highRisk,
		AverageRiskScore: round1(avg),
		Coverage:         coverage(totalInferences, totalArticles),
		Distribution:     distribution,
	}

	id, title, score, err := st.HighestRisk(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("gather analytics: %w", err)
	}
	if err == nil {
		summary.HighestRisk = &HighestRisk{ArticleID: id, Title: title, RiskScore: score}
	}

	return summary, nil
}

// coverage is the ratio of inference rows to articles, rounded to
// three decimals. Re-runs can push the raw ratio past 1, so it is
// capped there.
func coverage(inferences, total int) float64 {
	if total == 0 {
		return 0
	}
	ratio := float64(inferences) / float64(total)
	if ratio > 1 {
		ratio = 1
	}
	return math.Round(ratio*1000) / 1000
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
