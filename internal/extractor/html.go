package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// HTMLParser extracts body text from HTML, one block per paragraph-level
// element. Scripts, styles and page chrome are skipped.
type HTMLParser struct{}

func (p *HTMLParser) Parse(data []byte) (string, int, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("parse html: %w", err)
	}

	var blocks []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "nav", "footer", "header", "noscript", "template":
				return
			case "h1", "h2", "h3", "h4", "h5", "h6", "p", "li", "td", "th", "blockquote", "pre", "dt", "dd", "caption":
				if t := textContent(n); t != "" {
					blocks = append(blocks, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	root := findElement(doc, "body")
	if root == nil {
		root = doc
	}
	walk(root)

	if len(blocks) == 0 {
		// Bare text without block markup.
		if t := textContent(root); t != "" {
			blocks = append(blocks, t)
		}
	}
	if title := findElement(doc, "title"); title != nil {
		if t := textContent(title); t != "" && (len(blocks) == 0 || blocks[0] != t) {
			blocks = append([]string{t}, blocks...)
		}
	}
	return strings.Join(blocks, "\n\n"), 1, nil
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && n.Data == "br" {
			buf.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
