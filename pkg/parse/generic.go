package parse

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// JSON-LD object types accepted as article metadata.
var jsonLDTypes = map[string]bool{
	"NewsArticle": true,
	"Article":     true,
}

// Body selectors tried in order; the first one yielding meaningful text
// wins and the rest are ignored.
var bodySelectors = []string{
	"article p",
	"div.article_body p",
	"div.article_body__item",
	"div#uamods-pickup p",
}

// Meta attributes that may carry a publish timestamp, richest first.
var publishedMetaAttrs = []string{
	"datePublished",
	"article:published_time",
	"pubdate",
}

// GenericParser extracts articles from arbitrary news pages. It is the
// default for providers without a dedicated parser and is the only one
// allowed to fail: when no selector yields body text it returns
// ErrNoBody rather than a sentinel.
type GenericParser struct {
	times *timeParser
}

func (g *GenericParser) Parse(html []byte, url string) (*ParsedArticle, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	if data := jsonLDArticle(doc); data != nil {
		title := stringField(data, "title")
		if title == "" {
			title = stringField(data, "headline")
		}
		if title == "" {
			title = g.fallbackTitle(doc)
		}
		body := stringField(data, "articleBody")
		if body == "" {
			body = extractBody(doc)
		}
		return &ParsedArticle{
			URL:         url,
			Title:       title,
			PublishedAt: g.times.parse(stringField(data, "datePublished")),
			Body:        body,
		}, nil
	}

	body := extractBody(doc)
	if body == "" {
		return nil, ErrNoBody
	}

	return &ParsedArticle{
		URL:         url,
		Title:       g.fallbackTitle(doc),
		PublishedAt: g.times.parse(findPublishedMeta(doc)),
		Body:        body,
	}, nil
}

// jsonLDArticle returns the first JSON-LD object whose @type is an
// article type, or nil.
func jsonLDArticle(doc *goquery.Document) map[string]any {
	var found map[string]any
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}

		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return true
		}

		candidates, ok := decoded.([]any)
		if !ok {
			candidates = []any{decoded}
		}
		for _, candidate := range candidates {
			obj, ok := candidate.(map[string]any)
			if !ok {
				continue
			}
			if typ, _ := obj["@type"].(string); jsonLDTypes[typ] {
				found = obj
				return false
			}
		}
		return true
	})
	return found
}

func (g *GenericParser) fallbackTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if heading := strings.TrimSpace(doc.Find("h1").First().Text()); heading != "" {
		return heading
	}
	return TitleUnknown
}

func findPublishedMeta(doc *goquery.Document) string {
	for _, attr := range publishedMetaAttrs {
		meta := doc.Find(`meta[property="` + attr + `"]`).First()
		if meta.Length() == 0 {
			meta = doc.Find(`meta[name="` + attr + `"]`).First()
		}
		if content, ok := meta.Attr("content"); ok && strings.TrimSpace(content) != "" {
			return strings.TrimSpace(content)
		}
	}

	timeTag := doc.Find("time").First()
	if timeTag.Length() > 0 {
		if dt, ok := timeTag.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
			return strings.TrimSpace(dt)
		}
		return strings.TrimSpace(timeTag.Text())
	}
	return ""
}

// extractBody walks the selector chain and joins the first selector's
// meaningful paragraphs.
func extractBody(doc *goquery.Document) string {
	for _, selector := range bodySelectors {
		var paragraphs []string
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if meaningful(text) {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) > 0 {
			return strings.Join(paragraphs, "\n\n")
		}
	}
	return ""
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
