// Package export renders stored articles as CSV.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/miki-thecat/scraper-app/internal/store"
	"github.com/miki-thecat/scraper-app/pkg/risk"
)

var csvHeader = []string{"title", "url", "published_at", "created_at", "risk_score", "risk_level", "risk_label", "summary"}

// WriteCSV streams the given articles with their latest inference.
// Articles without an inference get empty risk columns.
func WriteCSV(ctx context.Context, w io.Writer, st *store.SQLiteStore, articles []store.Article) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for i := range articles {
		a := &articles[i]
		latest, err := st.LatestInference(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("export %s: %w", a.ID, err)
		}

		row := []string{
			a.Title,
			a.URL,
			formatTime(a.PublishedAt),
			a.CreatedAt.Format(time.RFC3339),
			"", "", "", "",
		}
		if latest != nil {
			band := risk.ClassifyScore(latest.RiskScore)
			row[4] = strconv.Itoa(latest.RiskScore)
			row[5] = band.Name
			row[6] = band.Badge
			row[7] = latest.Summary
		}

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
