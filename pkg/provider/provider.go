package provider

import (
	"net/url"
	"strings"
)

// Tag identifies which news provider a URL belongs to.
type Tag string

const (
	Yahoo       Tag = "yahoo_news"
	Nifty       Tag = "nifty_news"
	Virtual     Tag = "virtual_news"
	Unsupported Tag = ""
)

// Default URL prefixes per provider. Config may override these; an
// environment-driven list always wins over the literals below.
var defaultPrefixes = map[Tag][]string{
	Yahoo: {
		"https://news.yahoo.co.jp/articles/",
		"https://news.yahoo.co.jp/pickup/",
	},
	Nifty: {
		"https://news.nifty.com/topics/",
	},
	Virtual: {
		"http://localhost:5000/virtual-news/article/",
	},
}

// classifyOrder is significant: when prefixes could nest, the first
// matching provider wins.
var classifyOrder = []Tag{Nifty, Virtual, Yahoo}

var labels = map[Tag]string{
	Yahoo:   "Yahoo! News",
	Nifty:   "@nifty News",
	Virtual: "Virtual News",
}

// Classifier maps article URLs to a provider tag by ordered
// literal-prefix matching.
type Classifier struct {
	prefixes map[Tag][]string
}

// NewClassifier builds a classifier from per-provider prefix lists.
// Providers missing from the map keep their default prefixes.
func NewClassifier(prefixes map[Tag][]string) *Classifier {
	merged := make(map[Tag][]string, len(defaultPrefixes))
	for tag, defaults := range defaultPrefixes {
		if configured := prefixes[tag]; len(configured) > 0 {
			merged[tag] = configured
			continue
		}
		merged[tag] = defaults
	}
	return &Classifier{prefixes: merged}
}

// Classify returns the provider owning the URL, or Unsupported. It is
// total: any input maps to exactly one tag.
func (c *Classifier) Classify(rawURL string) Tag {
	normalized := strings.TrimSpace(rawURL)
	if normalized == "" {
		return Unsupported
	}

	parsed, err := url.Parse(normalized)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Unsupported
	}

	for _, tag := range classifyOrder {
		if c.Matches(tag, normalized) {
			return tag
		}
	}
	return Unsupported
}

// Matches reports whether the URL belongs to the given provider's
// prefix list.
func (c *Classifier) Matches(tag Tag, rawURL string) bool {
	normalized := strings.TrimSpace(rawURL)
	for _, prefix := range c.prefixes[tag] {
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
	}
	return false
}

// IsAllowed reports whether any known provider claims the URL.
func (c *Classifier) IsAllowed(rawURL string) bool {
	return c.Classify(rawURL) != Unsupported
}

// Label returns the human-readable provider name.
func Label(tag Tag) string {
	if label, ok := labels[tag]; ok {
		return label
	}
	return string(tag)
}

// All returns the known provider tags in classification order.
func All() []Tag {
	out := make([]Tag, len(classifyOrder))
	copy(out, classifyOrder)
	return out
}
