// Package risk derives labels and thresholds from AI risk scores.
package risk

import "strings"

// Band is one level of the static risk table. MaxScore is nil for the
// open-ended top band.
type Band struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Badge       string `json:"badge"`
	Description string `json:"description"`
	MinScore    int    `json:"min_score"`
	MaxScore    *int   `json:"max_score"`
}

// bands partition [0,100] with no gap and no overlap, ordered from the
// highest threshold down.
var bands = []Band{
	{
		Slug:        "high",
		Name:        "High",
		Badge:       "要警戒",
		Description: "重大インシデントが想定される高リスク",
		MinScore:    80,
		MaxScore:    nil,
	},
	{
		Slug:        "elevated",
		Name:        "Elevated",
		Badge:       "注意",
		Description: "被害拡大の恐れがあるリスク",
		MinScore:    60,
		MaxScore:    intPtr(79),
	},
	{
		Slug:        "moderate",
		Name:        "Moderate",
		Badge:       "観測",
		Description: "状況把握が必要な中程度リスク",
		MinScore:    40,
		MaxScore:    intPtr(59),
	},
	{
		Slug:        "low",
		Name:        "Low",
		Badge:       "低リスク",
		Description: "深刻な影響は想定されにくい",
		MinScore:    0,
		MaxScore:    intPtr(39),
	},
}

// Classify maps a score to its band. Nil in, nil out.
func Classify(score *int) *Band {
	if score == nil {
		return nil
	}
	return ClassifyScore(*score)
}

// ClassifyScore scans the table highest-threshold-first and returns the
// matching band. The table is exhaustive over [0,100], so classification
// is total for valid input; out-of-range low values fall into the
// bottom band.
func ClassifyScore(score int) *Band {
	for i := range bands {
		b := bands[i]
		if b.MaxScore == nil && score >= b.MinScore {
			return &b
		}
		if b.MaxScore != nil && score >= b.MinScore && score <= *b.MaxScore {
			return &b
		}
	}
	b := bands[len(bands)-1]
	return &b
}

// Levels returns the band table, highest first.
func Levels() []Band {
	out := make([]Band, len(bands))
	copy(out, bands)
	return out
}

// BySlug looks up a band by its slug, case-insensitively. Unknown slugs
// return nil.
func BySlug(slug string) *Band {
	slug = strings.ToLower(slug)
	for i := range bands {
		if bands[i].Slug == slug {
			b := bands[i]
			return &b
		}
	}
	return nil
}

// Slugs returns every band slug, highest first.
func Slugs() []string {
	out := make([]string, len(bands))
	for i, b := range bands {
		out[i] = b.Slug
	}
	return out
}

func intPtr(v int) *int { return &v }
