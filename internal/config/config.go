package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Scrape    ScrapeConfig    `yaml:"scrape"`
	AI        AIConfig        `yaml:"ai"`
	Feeds     FeedsConfig     `yaml:"feeds"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Timezone  string          `yaml:"timezone"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScrapeConfig configures the article fetcher.
type ScrapeConfig struct {
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	RetryTotal     int     `yaml:"retry_total"`
	RetryBackoff   float64 `yaml:"retry_backoff"`
	UserAgent      string  `yaml:"user_agent"`
}

// Timeout returns the fetch timeout as time.Duration.
func (s ScrapeConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

// Backoff returns the retry backoff base as time.Duration.
func (s ScrapeConfig) Backoff() time.Duration {
	if s.RetryBackoff <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(s.RetryBackoff * float64(time.Second))
}

// AIConfig configures the summarize-and-score client.
type AIConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Provider       string  `yaml:"provider"` // "openai" or "anthropic"
	Model          string  `yaml:"model"`
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"` // custom endpoint (optional)
	PromptVersion  string  `yaml:"prompt_version"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// Timeout returns the AI request timeout as time.Duration.
func (a AIConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.TimeoutSeconds * float64(time.Second))
}

// FeedsConfig configures the RSS aggregator.
type FeedsConfig struct {
	Yahoo          []string `yaml:"yahoo"`
	Nifty          []string `yaml:"nifty"`
	Virtual        []string `yaml:"virtual"`
	TimeoutSeconds float64  `yaml:"timeout_seconds"`
	CacheTTL       int      `yaml:"cache_ttl_seconds"`
}

// Timeout returns the feed fetch timeout as time.Duration.
func (f FeedsConfig) Timeout() time.Duration {
	if f.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(f.TimeoutSeconds * float64(time.Second))
}

// TTL returns the feed cache lifetime as time.Duration.
func (f FeedsConfig) TTL() time.Duration {
	if f.CacheTTL < 0 {
		return 0
	}
	return time.Duration(f.CacheTTL) * time.Second
}

// RateLimitConfig configures the per-client request limiter.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ProvidersConfig overrides the built-in URL prefix allow-lists.
type ProvidersConfig struct {
	YahooPrefixes   []string `yaml:"yahoo_prefixes"`
	NiftyPrefixes   []string `yaml:"nifty_prefixes"`
	VirtualPrefixes []string `yaml:"virtual_prefixes"`
}

// Location resolves the configured timezone, falling back to a fixed
// JST offset when the zone database is unavailable.
func (c *Config) Location() *time.Location {
	name := c.Timezone
	if name == "" {
		name = "Asia/Tokyo"
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.FixedZone("JST", 9*60*60)
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./scraper.db"},
		Scrape: ScrapeConfig{
			TimeoutSeconds: 10,
			RetryTotal:     2,
			RetryBackoff:   0.5,
			UserAgent:      "Mozilla/5.0 (compatible; ScraperApp/1.0; +https://example.com/bot)",
		},
		AI: AIConfig{
			Enabled:        true,
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			PromptVersion:  "v1",
			TimeoutSeconds: 30,
		},
		Feeds: FeedsConfig{
			TimeoutSeconds: 5,
			CacheTTL:       300,
		},
		RateLimit: RateLimitConfig{PerMinute: 60},
		Server:    ServerConfig{Port: 8080},
		Timezone:  "Asia/Tokyo",
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SCRAPER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
		cfg.AI.Enabled = true
		cfg.AI.Provider = "openai"
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.AI.APIKey = v
		cfg.AI.Enabled = true
		cfg.AI.Provider = "anthropic"
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("ENABLE_AI"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse ENABLE_AI %q: %w", v, err)
		}
		cfg.AI.Enabled = enabled
	}
	if v := os.Getenv("PROMPT_VERSION"); v != "" {
		cfg.AI.PromptVersion = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse REQUEST_TIMEOUT %q: %w", v, err)
		}
		cfg.Scrape.TimeoutSeconds = secs
	}
	if v := os.Getenv("SCRAPE_RETRY_TOTAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse SCRAPE_RETRY_TOTAL %q: %w", v, err)
		}
		cfg.Scrape.RetryTotal = n
	}
	if v := os.Getenv("SCRAPE_RETRY_BACKOFF"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse SCRAPE_RETRY_BACKOFF %q: %w", v, err)
		}
		cfg.Scrape.RetryBackoff = secs
	}
	if v := os.Getenv("SCRAPER_USER_AGENT"); v != "" {
		cfg.Scrape.UserAgent = v
	}
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse RATE_LIMIT_PER_MINUTE %q: %w", v, err)
		}
		cfg.RateLimit.PerMinute = n
	}
	if v := os.Getenv("NEWS_FEED_TIMEOUT"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse NEWS_FEED_TIMEOUT %q: %w", v, err)
		}
		cfg.Feeds.TimeoutSeconds = secs
	}
	if v := os.Getenv("NEWS_FEED_TTL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse NEWS_FEED_TTL %q: %w", v, err)
		}
		cfg.Feeds.CacheTTL = n
	}

	var err error
	if cfg.Feeds.Yahoo, err = feedListEnv("YAHOO_FEED_URLS", cfg.Feeds.Yahoo); err != nil {
		return err
	}
	if cfg.Feeds.Nifty, err = feedListEnv("NIFTY_FEED_URLS", cfg.Feeds.Nifty); err != nil {
		return err
	}
	if cfg.Feeds.Virtual, err = feedListEnv("VIRTUAL_FEED_URLS", cfg.Feeds.Virtual); err != nil {
		return err
	}
	return nil
}

// feedListEnv parses a comma-separated URL list, rejecting entries
// that are not http or https.
func feedListEnv(name string, fallback []string) ([]string, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	var urls []string
	for _, part := range strings.Split(v, ",") {
		u := strings.TrimSpace(part)
		if u == "" {
			continue
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return nil, fmt.Errorf("parse %s: invalid feed url %q", name, u)
		}
		urls = append(urls, u)
	}
	return urls, nil
}
