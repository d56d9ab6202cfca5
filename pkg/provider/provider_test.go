package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)

	cases := []struct {
		name string
		url  string
		want Tag
	}{
		{"yahoo article", "https://news.yahoo.co.jp/articles/abc123", Yahoo},
		{"yahoo pickup", "https://news.yahoo.co.jp/pickup/6500000", Yahoo},
		{"nifty topics", "https://news.nifty.com/topics/world/123/", Nifty},
		{"virtual article", "http://localhost:5000/virtual-news/article/7", Virtual},
		{"yahoo top page", "https://news.yahoo.co.jp/", Unsupported},
		{"other host", "https://example.com/articles/abc", Unsupported},
		{"ftp scheme", "ftp://news.yahoo.co.jp/articles/abc", Unsupported},
		{"empty", "", Unsupported},
		{"whitespace padded", "  https://news.yahoo.co.jp/articles/abc  ", Yahoo},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Classify(tc.url))
		})
	}
}

func TestClassifyTotality(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	urls := []string{
		"https://news.yahoo.co.jp/articles/abc",
		"https://news.nifty.com/topics/entame/1/",
		"http://localhost:5000/virtual-news/article/1",
		"https://unknown.example.org/",
		"not a url at all",
	}

	for _, u := range urls {
		tag := c.Classify(u)
		matched := 0
		for _, known := range All() {
			if c.Matches(known, u) {
				matched++
				// the classifier must agree with the provider's own check
				assert.Equal(t, known, tag, "url %q", u)
			}
		}
		if matched == 0 {
			assert.Equal(t, Unsupported, tag, "url %q", u)
		}
		assert.Equal(t, tag != Unsupported, c.IsAllowed(u))
	}
}

func TestClassifyConfiguredPrefixes(t *testing.T) {
	t.Parallel()

	c := NewClassifier(map[Tag][]string{
		Virtual: {"https://news.example.test/virtual-news/article/"},
	})

	assert.Equal(t, Virtual, c.Classify("https://news.example.test/virtual-news/article/42"))
	assert.Equal(t, Unsupported, c.Classify("http://localhost:5000/virtual-news/article/42"),
		"configured list replaces the default, not extends it")
	// untouched providers keep their defaults
	assert.Equal(t, Yahoo, c.Classify("https://news.yahoo.co.jp/articles/abc"))
}

func TestLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Yahoo! News", Label(Yahoo))
	assert.Equal(t, "@nifty News", Label(Nifty))
	assert.Equal(t, "Virtual News", Label(Virtual))
	assert.Equal(t, "something", Label(Tag("something")))
}
