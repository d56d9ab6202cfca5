package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/miki-thecat/scraper-app/internal/config"
	"github.com/miki-thecat/scraper-app/internal/export"
	"github.com/miki-thecat/scraper-app/internal/ingest"
	"github.com/miki-thecat/scraper-app/internal/store"
	"github.com/miki-thecat/scraper-app/pkg/ai"
	"github.com/miki-thecat/scraper-app/pkg/feed"
	"github.com/miki-thecat/scraper-app/pkg/parse"
	"github.com/miki-thecat/scraper-app/pkg/provider"
	"github.com/miki-thecat/scraper-app/pkg/ratelimit"
	"github.com/miki-thecat/scraper-app/pkg/risk"
	"github.com/miki-thecat/scraper-app/pkg/scrape"
	"github.com/miki-thecat/scraper-app/pkg/server"
)

// app bundles the wired components behind every command.
type app struct {
	cfg         *config.Config
	store       *store.SQLiteStore
	coordinator *ingest.Coordinator
	aggregator  *feed.Aggregator
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	classifier := provider.NewClassifier(map[provider.Tag][]string{
		provider.Yahoo:   cfg.Providers.YahooPrefixes,
		provider.Nifty:   cfg.Providers.NiftyPrefixes,
		provider.Virtual: cfg.Providers.VirtualPrefixes,
	})
	fetcher := scrape.New(cfg.Scrape.Timeout(), cfg.Scrape.RetryTotal, cfg.Scrape.Backoff(), cfg.Scrape.UserAgent)
	parsers := parse.NewRegistry(cfg.Location())
	summarizer := ai.New(
		cfg.AI.Provider, cfg.AI.Model, cfg.AI.APIKey, cfg.AI.BaseURL,
		cfg.AI.PromptVersion, cfg.AI.Timeout(), cfg.AI.Enabled,
	)
	if cfg.AI.Enabled {
		log.Printf("[INFO] ai enabled: %s/%s (prompt %s)", cfg.AI.Provider, cfg.AI.Model, cfg.AI.PromptVersion)
	}

	aggregator := feed.New(map[provider.Tag][]string{
		provider.Yahoo:   cfg.Feeds.Yahoo,
		provider.Nifty:   cfg.Feeds.Nifty,
		provider.Virtual: cfg.Feeds.Virtual,
	}, cfg.Feeds.Timeout(), cfg.Feeds.TTL(), cfg.Scrape.UserAgent)

	return &app{
		cfg:         cfg,
		store:       db,
		coordinator: ingest.New(classifier, fetcher, parsers, summarizer, db),
		aggregator:  aggregator,
	}, nil
}

func (a *app) close() {
	a.store.Close()
}

// formatLocal renders a stored timestamp in the configured zone.
func (a *app) formatLocal(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.In(a.cfg.Location()).Format("2006-01-02 15:04")
}

func runServe(port int) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	limiter := ratelimit.New(a.cfg.RateLimit.PerMinute, time.Minute)
	srv := server.New(a.store, a.coordinator, a.aggregator, limiter, port)
	return srv.ListenAndServe()
}

func runIngest(urls []string, force, runAI, forceAI, jsonOutput bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	opts := ingest.Options{Force: force, RunAI: runAI, ForceAI: forceAI}
	failed := 0
	var results []*ingest.Result

	for _, url := range urls {
		res, err := a.coordinator.Ingest(ctx, url, opts)
		if err != nil {
			log.Printf("[WARN] ingest %s: %v", url, err)
			failed++
			continue
		}
		results = append(results, res)
		if jsonOutput {
			continue
		}
		line := fmt.Sprintf("%s %s", res.Status, url)
		if res.AIError != "" {
			line += fmt.Sprintf(" (ai unavailable: %s)", res.AIError)
		}
		fmt.Println(line)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d urls failed", failed, len(urls))
	}
	return nil
}

func runList(jsonOutput bool, query, band string, limit int) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	opts := store.ListOpts{Query: query, Limit: limit}
	if band != "" {
		b := risk.BySlug(band)
		if b == nil {
			return fmt.Errorf("unknown risk band %q", band)
		}
		opts.Band = b
	}

	articles, err := a.store.ListArticles(ctx, opts)
	if err != nil {
		return fmt.Errorf("list articles: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(articles)
	}

	if len(articles) == 0 {
		fmt.Println("no articles stored (try: scraperapp ingest <url>)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RISK\tPUBLISHED\tTITLE\tURL")
	for i := range articles {
		art := &articles[i]
		riskCol := "-"
		if latest, err := a.store.LatestInference(ctx, art.ID); err == nil && latest != nil {
			riskCol = fmt.Sprintf("%d %s", latest.RiskScore, risk.ClassifyScore(latest.RiskScore).Slug)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", riskCol, a.formatLocal(art.PublishedAt), art.Title, art.URL)
	}
	return w.Flush()
}

func runFeed(providerTag string, limit int) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	tag, err := resolveTag(providerTag)
	if err != nil {
		return err
	}

	items := a.aggregator.Latest(context.Background(), tag, limit)
	if len(items) == 0 {
		fmt.Println("no feed items (check feed urls in config)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tPUBLISHED\tTITLE\tLINK")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", item.Source, a.formatLocal(item.PublishedAt), item.Title, item.Link)
	}
	return w.Flush()
}

func runScrapeFeed(providerTag string, limit int, force, runAI, forceAI bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	tag, err := resolveTag(providerTag)
	if err != nil {
		return err
	}

	ctx := context.Background()
	items := a.aggregator.Latest(ctx, tag, limit)
	if len(items) == 0 {
		fmt.Println("no feed items to ingest")
		return nil
	}

	opts := ingest.Options{Force: force, RunAI: runAI, ForceAI: forceAI}
	counts := map[ingest.Status]int{}
	failed := 0
	for _, item := range items {
		res, err := a.coordinator.Ingest(ctx, item.Link, opts)
		if err != nil {
			log.Printf("[WARN] ingest %s: %v", item.Link, err)
			failed++
			continue
		}
		counts[res.Status]++
	}

	fmt.Printf("ingested %d feed items: %d created, %d updated, %d cached, %d failed\n",
		len(items), counts[ingest.StatusCreated], counts[ingest.StatusUpdated], counts[ingest.StatusCached], failed)
	return nil
}

func runRerunAI(limit int, missingOnly bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	articles, err := a.store.ListArticles(ctx, store.ListOpts{Limit: limit})
	if err != nil {
		return fmt.Errorf("list articles: %w", err)
	}

	var processed, failed int
	for i := range articles {
		art := &articles[i]
		if missingOnly {
			latest, err := a.store.LatestInference(ctx, art.ID)
			if err != nil {
				return fmt.Errorf("latest inference %s: %w", art.ID, err)
			}
			if latest != nil {
				continue
			}
		}

		processed++
		res, err := a.coordinator.Ingest(ctx, art.URL, ingest.Options{RunAI: true, ForceAI: true})
		if err != nil {
			log.Printf("[WARN] rerun ai for %s: %v", art.ID, err)
			failed++
			continue
		}
		if res.AIError != "" {
			log.Printf("[WARN] ai unavailable for %s: %s", art.ID, res.AIError)
			failed++
			continue
		}
		fmt.Printf("scored %s\n", art.URL)
	}

	fmt.Printf("rerun complete: %d processed, %d failed\n", processed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d articles failed", failed, processed)
	}
	return nil
}

func runExport(output, query, start, end, sortKey, order, band string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	opts := store.ListOpts{Query: query, SortKey: sortKey, Order: order}

	if start != "" {
		t, err := parseDateFlag(start)
		if err != nil {
			return fmt.Errorf("invalid --start %q", start)
		}
		opts.Start = &t
	}
	if end != "" {
		t, err := parseDateFlag(end)
		if err != nil {
			return fmt.Errorf("invalid --end %q", end)
		}
		if len(end) == len("2006-01-02") {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		opts.End = &t
	}
	if band != "" {
		b := risk.BySlug(band)
		if b == nil {
			return fmt.Errorf("unknown risk band %q", band)
		}
		opts.Band = b
	}

	articles, err := a.store.ListArticles(ctx, opts)
	if err != nil {
		return fmt.Errorf("list articles: %w", err)
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}

	return export.WriteCSV(ctx, w, a.store, articles)
}

func parseDateFlag(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func resolveTag(providerTag string) (provider.Tag, error) {
	if providerTag == "" {
		return provider.Unsupported, nil
	}
	tag := provider.Tag(providerTag)
	for _, candidate := range provider.All() {
		if tag == candidate {
			return tag, nil
		}
	}
	return provider.Unsupported, fmt.Errorf("unknown provider %q", providerTag)
}
