// Package parse extracts title, publish time, and body text from
// provider HTML documents.
package parse

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/miki-thecat/scraper-app/pkg/provider"
)

// ParsedArticle is the normalized extraction result.
type ParsedArticle struct {
	URL         string
	Title       string
	PublishedAt *time.Time
	Body        string
}

// ErrNoBody is returned by the generic parser when no selector yields
// any body text. Provider-specific parsers degrade to sentinels instead.
var ErrNoBody = errors.New("could not extract article body")

// Sentinels used by parsers that must never fail.
const (
	TitleUnknown = "(title unknown)"
	BodyFailed   = "(body extraction failed)"
)

// Fragments shorter than this many runes are treated as captions or
// navigation noise and dropped from body extraction.
const minParagraphRunes = 11

// Parser turns a raw HTML document into a ParsedArticle.
type Parser interface {
	Parse(html []byte, url string) (*ParsedArticle, error)
}

// Registry selects the parser for a provider tag. Unknown tags fall
// back to the generic parser.
type Registry struct {
	parsers map[provider.Tag]Parser
	generic Parser
}

// NewRegistry wires the per-provider parsers. loc is the zone applied
// to naive timestamps; nil defaults to JST.
func NewRegistry(loc *time.Location) *Registry {
	if loc == nil {
		loc = time.FixedZone("JST", 9*60*60)
	}
	times := &timeParser{loc: loc}
	generic := &GenericParser{times: times}
	return &Registry{
		parsers: map[provider.Tag]Parser{
			provider.Yahoo:   generic,
			provider.Nifty:   &NiftyParser{times: times},
			provider.Virtual: &VirtualParser{times: times},
		},
		generic: generic,
	}
}

// For returns the parser registered for tag.
func (r *Registry) For(tag provider.Tag) Parser {
	if p, ok := r.parsers[tag]; ok {
		return p
	}
	return r.generic
}

// timeParser handles best-effort timestamp parsing. Unparsable input
// resolves to nil, never an error; naive values get the default zone.
type timeParser struct {
	loc *time.Location
}

var zonedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999999Z0700",
	time.RFC1123Z,
	time.RFC1123,
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04",
}

func (p *timeParser) parse(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, p.loc); err == nil {
			return &t
		}
	}
	return nil
}

// parseInLocation handles provider-specific naive layouts.
func (p *timeParser) parseInLocation(layout, value string) *time.Time {
	t, err := time.ParseInLocation(layout, strings.TrimSpace(value), p.loc)
	if err != nil {
		return nil
	}
	return &t
}

func meaningful(text string) bool {
	return utf8.RuneCountInString(text) >= minParagraphRunes
}
