package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
)

// Document is a page prepared for extraction: an optional parsed DOM plus
// the full visible text.
type Document struct {
	dom  *goquery.Document
	Text string
}

// blockElements get a line break on either side when flattening text so
// that adjacent paragraphs do not run together.
var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"br": true, "dd": true, "div": true, "dl": true, "dt": true,
	"footer": true, "form": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "hr": true,
	"li": true, "main": true, "nav": true, "ol": true, "p": true,
	"section": true, "table": true, "td": true, "th": true, "tr": true,
	"ul": true,
}

// ParseHTML parses content as HTML, drops script and style elements and
// flattens the body into text.
func ParseHTML(content string) (*Document, error) {
	dom, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse html")
	}

	dom.Find("script, style, noscript, template").Remove()

	root := dom.Find("body")
	if root.Length() == 0 {
		root = dom.Selection
	}

	var b strings.Builder
	for _, n := range root.Nodes {
		flatten(&b, n)
	}

	return &Document{dom: dom, Text: b.String()}, nil
}

// ParseText wraps non-HTML content (plain text, JSON) for extraction.
// Business-name heuristics that depend on the DOM find nothing.
func ParseText(content string) *Document {
	return &Document{Text: content}
}

// HasDOM reports whether the document was parsed from HTML.
func (d *Document) HasDOM() bool {
	return d != nil && d.dom != nil
}

func flatten(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.CommentNode:
		return
	}

	block := n.Type == html.ElementNode && blockElements[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		flatten(b, c)
	}
	if block {
		b.WriteByte('\n')
	}
}
