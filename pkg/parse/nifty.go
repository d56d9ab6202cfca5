package parse

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const niftyBaseURL = "https://news.nifty.com"

// NiftyParser extracts @nifty News articles. It never fails: every
// field degrades to a sentinel when extraction comes up empty.
type NiftyParser struct {
	times *timeParser
}

func (n *NiftyParser) Parse(html []byte, url string) (*ParsedArticle, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return &ParsedArticle{URL: url, Title: TitleUnknown, Body: BodyFailed}, nil
	}

	title := ""
	if t := strings.TrimSpace(doc.Find("h1.article_title").First().Text()); t != "" {
		title = t
	} else if t := strings.TrimSpace(doc.Find("h1").First().Text()); t != "" {
		title = t
	} else if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		title = strings.TrimSpace(og)
	}
	if title == "" {
		title = TitleUnknown
	}

	published := n.publishedAt(doc)

	var paragraphs []string
	container := doc.Find("div.article_body").First()
	if container.Length() == 0 {
		container = doc.Find("article").First()
	}
	container.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if meaningful(text) {
			paragraphs = append(paragraphs, text)
		}
	})

	body := strings.Join(paragraphs, "\n\n")
	if body == "" {
		body = BodyFailed
	}

	return &ParsedArticle{
		URL:         url,
		Title:       title,
		PublishedAt: published,
		Body:        body,
	}, nil
}

// publishedAt prefers JSON-LD datePublished, then the article date tag.
func (n *NiftyParser) publishedAt(doc *goquery.Document) *time.Time {
	var published *time.Time
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data map[string]any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		if raw, ok := data["datePublished"].(string); ok {
			if t := n.times.parse(raw); t != nil {
				published = t
				return false
			}
		}
		return true
	})
	if published != nil {
		return published
	}

	if dt, ok := doc.Find("time.article_date").First().Attr("datetime"); ok {
		return n.times.parse(dt)
	}
	return nil
}

// NiftyArticleURL pulls the linked article URL out of a topics page so
// the coordinator can re-fetch the full article. Empty when no article
// link is present.
func NiftyArticleURL(html []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}

	href, ok := doc.Find(`a[href*="/article/"]`).First().Attr("href")
	if !ok {
		return ""
	}
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return niftyBaseURL + href
}
