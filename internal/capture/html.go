package capture

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// VisibleText extracts the user-visible text from an HTML document,
// skipping script, style and head content, and collapsing runs of
// whitespace into single spaces with one newline per block boundary.
func VisibleText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	walkVisible(doc, &b)
	return strings.TrimSpace(b.String()), nil
}

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"head":     true,
	"noscript": true,
	"template": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "blockquote": true, "pre": true,
}

func walkVisible(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode && skippedElements[n.Data] {
		return
	}
	if n.Type == html.TextNode {
		text := collapseSpaces(n.Data)
		if text != "" {
			if b.Len() > 0 && !endsWithBoundary(b) {
				b.WriteByte(' ')
			}
			b.WriteString(text)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkVisible(c, b)
	}
	if n.Type == html.ElementNode && blockElements[n.Data] && b.Len() > 0 && !endsWithBoundary(b) {
		b.WriteByte('\n')
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func endsWithBoundary(b *strings.Builder) bool {
	s := b.String()
	return len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\n')
}
