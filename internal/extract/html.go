package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

// invisibleTags never contribute visible text.
var invisibleTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
	"iframe":   {},
	"svg":      {},
}

// HTMLPage is the parsed form of one HTML response.
type HTMLPage struct {
	Text          string
	Links         []string
	DocumentLinks []string
}

// HTMLExtractor pulls visible text and anchors out of HTML using goquery.
type HTMLExtractor struct{}

// NewHTMLExtractor creates an HTMLExtractor.
func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{}
}

// Parse extracts visible text joined by single spaces, every anchor target
// resolved against pageURL, and the subset of anchors that point at
// documents (pdf/doc/docx).
func (e *HTMLExtractor) Parse(pageURL string, body []byte) (HTMLPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return HTMLPage{}, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return HTMLPage{}, fmt.Errorf("parse page url: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, refErr := url.Parse(strings.TrimSpace(href)); refErr == nil {
			base = base.ResolveReference(ref)
		}
	}

	page := HTMLPage{Text: visibleText(doc)}
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		link, resolveErr := crawler.ResolveURL(base, href)
		if resolveErr != nil {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		page.Links = append(page.Links, link)
		if crawler.IsDocumentLink(link) {
			page.DocumentLinks = append(page.DocumentLinks, link)
		}
	})
	return page, nil
}

func visibleText(doc *goquery.Document) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if _, skip := invisibleTags[n.Data]; skip {
				return
			}
		case html.TextNode:
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				parts = append(parts, text)
			}
			return
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}
