// Package extract turns product page markup into the text sources that
// patterns are matched against.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/pevans/asinscan/config"
)

// Content is the extracted view of one page.
type Content struct {
	// Title is the trimmed <title> text, empty when there is none.
	Title string
	// Text joins, one per line and in this order: title, meta description,
	// each configured section present on the page, and the full page text.
	Text string
	// Markup is the page exactly as fetched.
	Markup string
	// Hrefs holds every link target found inside the configured sections,
	// in section then document order.
	Hrefs []string
}

// Extractor pulls title, description, configured sections and the full
// text from product pages. Missing parts are skipped.
type Extractor struct {
	cfg    config.ExtractConfig
	logger *zap.Logger
}

// New creates an extractor for the given selectors.
func New(cfg config.ExtractConfig, logger *zap.Logger) *Extractor {
	return &Extractor{cfg: cfg, logger: logger}
}

// Extract parses markup and builds its Content.
func (e *Extractor) Extract(markup string) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	content := &Content{Markup: markup, Hrefs: []string{}}
	var texts []string

	if e.cfg.TitleSelector != "" {
		content.Title = strings.TrimSpace(doc.Find(e.cfg.TitleSelector).First().Text())
	}
	if content.Title != "" {
		texts = append(texts, content.Title)
		e.logger.Debug("Extracted title", zap.Int("length", len(content.Title)))
	}

	if e.cfg.MetaDescriptionSelector != "" {
		desc, _ := doc.Find(e.cfg.MetaDescriptionSelector).First().Attr("content")
		if desc = strings.TrimSpace(desc); desc != "" {
			texts = append(texts, desc)
			e.logger.Debug("Extracted meta description", zap.Int("length", len(desc)))
		}
	}

	for _, section := range e.cfg.Sections {
		sel := doc.Find(section.Selector).First()
		if sel.Length() == 0 {
			continue
		}

		text := VisibleText(sel.Nodes...)
		texts = append(texts, text)

		sel.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			content.Hrefs = append(content.Hrefs, href)
		})

		e.logger.Debug("Extracted section",
			zap.String("section", section.Name),
			zap.Int("length", len(text)))
	}

	// Full page text is always included
	fullText := VisibleText(doc.Nodes...)
	texts = append(texts, fullText)

	e.logger.Debug("Extracted full page text",
		zap.Int("length", len(fullText)),
		zap.Int("hrefs", len(content.Hrefs)))

	content.Text = strings.Join(texts, "\n")
	return content, nil
}

// nonVisible lists elements whose text never renders.
var nonVisible = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// VisibleText returns the text nodes under nodes, each trimmed, empty ones
// dropped, joined by single spaces.
func VisibleText(nodes ...*html.Node) string {
	var parts []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
			return
		case html.CommentNode, html.DoctypeNode:
			return
		case html.ElementNode:
			if nonVisible[n.Data] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	for _, n := range nodes {
		walk(n)
	}

	return strings.Join(parts, " ")
}
