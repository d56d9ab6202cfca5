package parse

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Layout used by the virtual provider's post metadata line.
const virtualDateLayout = "2006年1月2日 15:04"

// VirtualParser extracts articles from the virtual news provider's
// fixed blog-post markup. Like NiftyParser it never fails.
type VirtualParser struct {
	times *timeParser
}

func (v *VirtualParser) Parse(html []byte, url string) (*ParsedArticle, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return &ParsedArticle{URL: url, Title: TitleUnknown, Body: BodyFailed}, nil
	}

	title := strings.TrimSpace(doc.Find("h1.blog-post-title").First().Text())
	if title == "" {
		title = TitleUnknown
	}

	published := v.times.parseInLocation(virtualDateLayout,
		doc.Find("p.blog-post-meta").First().Text())

	var paragraphs []string
	doc.Find("div.article_body p").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
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
