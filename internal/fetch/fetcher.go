package fetch

import (
	"context"
	"fmt"
	"strings"

	"browsertour/internal/runner"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Fetcher implements runner.Fetcher over the page's serialized HTML.
type Fetcher struct {
	logger *zap.Logger
}

// New returns a Fetcher. A nil logger discards output.
func New(logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{logger: logger.With(zap.String("component", "fetch"))}
}

// Pull validates spec, reads the page HTML and extracts every field.
func (f *Fetcher) Pull(ctx context.Context, page runner.Page, spec any) (map[string]any, error) {
	rules, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	doc, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	out, err := Extract(doc, rules)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("fetched fields", zap.String("url", page.URL()), zap.Int("fields", len(out)))
	return out, nil
}

// Extract applies rules to an HTML document. A single-value rule without a
// match yields nil; an all-values rule without matches yields an empty list.
func Extract(doc string, rules []Rule) (map[string]any, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	gq := goquery.NewDocumentFromNode(root)

	out := make(map[string]any, len(rules))
	for _, rule := range rules {
		var values []string
		if rule.XPath != "" {
			values = xpathValues(root, rule)
		} else {
			values = cssValues(gq, rule)
		}

		if rule.All {
			out[rule.Field] = values
			continue
		}
		if len(values) == 0 {
			out[rule.Field] = nil
			continue
		}
		out[rule.Field] = values[0]
	}
	return out, nil
}

func cssValues(doc *goquery.Document, rule Rule) []string {
	sel := doc.Find(rule.CSS)
	if !rule.All {
		sel = sel.First()
	}
	values := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		var v string
		switch {
		case rule.Attr != "":
			attr, ok := s.Attr(rule.Attr)
			if !ok {
				return
			}
			v = attr
		case rule.HTML:
			inner, err := s.Html()
			if err != nil {
				return
			}
			v = inner
		default:
			v = s.Text()
		}
		values = append(values, finish(v, rule.Trim))
	})
	return values
}

func xpathValues(root *html.Node, rule Rule) []string {
	nodes := htmlquery.QuerySelectorAll(root, rule.compiled)
	if !rule.All && len(nodes) > 1 {
		nodes = nodes[:1]
	}
	values := make([]string, 0, len(nodes))
	for _, n := range nodes {
		var v string
		switch {
		case rule.Attr != "":
			if !hasAttr(n, rule.Attr) {
				continue
			}
			v = htmlquery.SelectAttr(n, rule.Attr)
		case rule.HTML:
			v = htmlquery.OutputHTML(n, false)
		default:
			v = htmlquery.InnerText(n)
		}
		values = append(values, finish(v, rule.Trim))
	}
	return values
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}

func finish(v string, trim bool) string {
	if trim {
		return strings.TrimSpace(v)
	}
	return v
}
