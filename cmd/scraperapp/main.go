package main

import (
	"fmt"
	"os"

	log "github.com/go-pkgz/lgr"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dbg     bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scraperapp",
		Short: "Ingest, score, and serve news articles from supported providers",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLog()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().BoolVar(&dbg, "dbg", false, "debug mode")

	root.AddCommand(serveCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(listCmd())
	root.AddCommand(feedCmd())
	root.AddCommand(scrapeFeedCmd())
	root.AddCommand(rerunAICmd())
	root.AddCommand(exportCmd())

	return root
}

func setupLog() {
	opts := []log.Option{log.Msec, log.LevelBraces}
	if dbg {
		opts = append(opts, log.Debug, log.CallerFile, log.CallerFunc)
	}
	log.Setup(opts...)
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func ingestCmd() *cobra.Command {
	var (
		force      bool
		skipAI     bool
		forceAI    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <url>...",
		Short: "Scrape and store one or more article URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(args, force, !skipAI, forceAI, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "re-fetch even when already stored")
	cmd.Flags().BoolVar(&skipAI, "skip-ai", false, "skip the AI summarize-and-score step")
	cmd.Flags().BoolVar(&forceAI, "force-ai", false, "run AI even when a result exists")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output results as JSON")
	return cmd
}

func listCmd() *cobra.Command {
	var (
		jsonOutput bool
		query      string
		band       string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show stored articles with their latest risk score",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(jsonOutput, query, band, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&query, "query", "", "filter by title or body substring")
	cmd.Flags().StringVar(&band, "risk", "", "filter by risk band slug (high, elevated, moderate, low)")
	cmd.Flags().IntVar(&limit, "limit", 20, "max articles to show")
	return cmd
}

func feedCmd() *cobra.Command {
	var (
		providerTag string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the merged provider feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeed(providerTag, limit)
		},
	}

	cmd.Flags().StringVar(&providerTag, "provider", "", "restrict to one provider (yahoo_news, nifty_news, virtual_news)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max feed items to show")
	return cmd
}

func scrapeFeedCmd() *cobra.Command {
	var (
		providerTag string
		limit       int
		force       bool
		skipAI      bool
		forceAI     bool
	)

	cmd := &cobra.Command{
		Use:   "scrape-feed",
		Short: "Ingest every article currently in the provider feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScrapeFeed(providerTag, limit, force, !skipAI, forceAI)
		},
	}

	cmd.Flags().StringVar(&providerTag, "provider", "", "restrict to one provider")
	cmd.Flags().IntVar(&limit, "limit", 0, "max feed items to ingest")
	cmd.Flags().BoolVar(&force, "force", false, "re-fetch cached articles")
	cmd.Flags().BoolVar(&skipAI, "skip-ai", false, "skip the AI summarize-and-score step")
	cmd.Flags().BoolVar(&forceAI, "force-ai", false, "run AI even when a result exists")
	return cmd
}

func rerunAICmd() *cobra.Command {
	var (
		limit       int
		missingOnly bool
	)

	cmd := &cobra.Command{
		Use:   "rerun-ai",
		Short: "Re-run AI inference for stored articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRerunAI(limit, missingOnly)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "max articles to process")
	cmd.Flags().BoolVar(&missingOnly, "missing-only", false, "only articles without any inference yet")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		output string
		query  string
		start  string
		end    string
		sort   string
		order  string
		band   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored articles as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(output, query, start, end, sort, order, band)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().StringVar(&query, "query", "", "filter by title or body substring")
	cmd.Flags().StringVar(&start, "start", "", "published-at lower bound (2006-01-02 or RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "published-at upper bound (2006-01-02 or RFC3339)")
	cmd.Flags().StringVar(&sort, "sort", "", "sort key (published_at, created_at, title)")
	cmd.Flags().StringVar(&order, "order", "", "sort order (asc, desc)")
	cmd.Flags().StringVar(&band, "risk", "", "filter by risk band slug")
	return cmd
}
