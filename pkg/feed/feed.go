// Package feed merges provider RSS feeds into a single deduplicated,
// reverse-chronological list with a short-lived cache.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/mmcdole/gofeed"

	"github.com/miki-thecat/scraper-app/pkg/provider"
)

// DefaultLimit is the number of items returned per provider when the
// caller does not ask for more.
const DefaultLimit = 6

// Item is one merged feed entry. Source is the human-readable provider
// label, Provider the machine tag.
type Item struct {
	Title       string       `json:"title"`
	Link        string       `json:"url"`
	PublishedAt *time.Time   `json:"published_at"`
	Source      string       `json:"source"`
	Provider    provider.Tag `json:"provider"`
}

type cacheEntry struct {
	items     []Item
	expiresAt time.Time
}

// Aggregator fetches, merges, and caches provider feeds. Safe for
// concurrent use.
type Aggregator struct {
	client    *http.Client
	parser    *gofeed.Parser
	urls      map[provider.Tag][]string
	ttl       time.Duration
	userAgent string

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// New builds an aggregator over the given per-provider feed URLs.
// A zero ttl disables caching.
func New(urls map[provider.Tag][]string, timeout, ttl time.Duration, userAgent string) *Aggregator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Aggregator{
		client:    &http.Client{Timeout: timeout},
		parser:    gofeed.NewParser(),
		urls:      urls,
		ttl:       ttl,
		userAgent: userAgent,
		cache:     make(map[string]cacheEntry),
		now:       time.Now,
	}
}

// Latest returns up to limit merged items. When tag is non-empty only
// that provider's feeds are consulted. Unreachable or malformed feeds
// are skipped with a log line, never failing the merge.
func (a *Aggregator) Latest(ctx context.Context, tag provider.Tag, limit int) []Item {
	if limit <= 0 {
		limit = DefaultLimit
	}
	key := fmt.Sprintf("%s:%d", tag, limit)

	a.mu.Lock()
	if entry, ok := a.cache[key]; ok && a.now().Before(entry.expiresAt) {
		items := entry.items
		a.mu.Unlock()
		return slice(items, limit)
	}
	a.mu.Unlock()

	// provider.All order keeps the pre-sort merge, and so the dedup
	// winner positions, deterministic across runs
	var merged []Item
	for _, feedTag := range provider.All() {
		if tag != provider.Unsupported && feedTag != tag {
			continue
		}
		for _, u := range a.urls[feedTag] {
			items, err := a.fetchOne(ctx, feedTag, u)
			if err != nil {
				log.Printf("[WARN] skip feed %s: %v", u, err)
				continue
			}
			merged = append(merged, items...)
		}
	}

	merged = dedupe(merged)
	sort.SliceStable(merged, func(i, j int) bool {
		pi, pj := merged[i].PublishedAt, merged[j].PublishedAt
		if pi == nil {
			return false
		}
		if pj == nil {
			return true
		}
		return pi.After(*pj)
	})

	if a.ttl > 0 {
		a.mu.Lock()
		a.cache[key] = cacheEntry{items: merged, expiresAt: a.now().Add(a.ttl)}
		a.mu.Unlock()
	}
	return slice(merged, limit)
}

func slice(items []Item, limit int) []Item {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

// ClearCache drops all cached merges.
func (a *Aggregator) ClearCache() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[string]cacheEntry)
}

func (a *Aggregator) fetchOne(ctx context.Context, tag provider.Tag, feedURL string) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	parsed, err := a.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	label := provider.Label(tag)
	items := make([]Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it.Title == "" || it.Link == "" {
			continue
		}
		item := Item{Title: it.Title, Link: it.Link, Source: label, Provider: tag}
		if it.PublishedParsed != nil {
			t := *it.PublishedParsed
			item.PublishedAt = &t
		}
		items = append(items, item)
	}
	return items, nil
}

// dedupe keeps the last item seen for each link while preserving the
// position of its first occurrence.
func dedupe(items []Item) []Item {
	index := make(map[string]int, len(items))
	var out []Item
	for _, it := range items {
		if at, ok := index[it.Link]; ok {
			out[at] = it
			continue
		}
		index[it.Link] = len(out)
		out = append(out, it)
	}
	return out
}
