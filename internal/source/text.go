package source

import (
	"html"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/dom"
	"github.com/JohannesKaufmann/html-to-markdown/v2/collapse"
	xhtml "golang.org/x/net/html"
)

// htmlTagPattern matches the tags chapter bodies are wrapped in.
var htmlTagPattern = regexp.MustCompile(`<(p|br|div|span|b|i|strong|em|a|img|article|header|section|h[1-6]|blockquote)[\s>/]`)

// Image references survive text conversion as a line of their own.
const (
	imageOpen  = "[img]"
	imageClose = "[/img]"
)

// ImageLine returns the line that stands for an inline image.
func ImageLine(src string) string {
	return imageOpen + src + imageClose
}

// ImageSource reports whether line is an image reference and returns its URL.
func ImageSource(line string) (string, bool) {
	line = strings.TrimSpace(strings.TrimLeft(line, "　"))
	if !strings.HasPrefix(line, imageOpen) || !strings.HasSuffix(line, imageClose) {
		return "", false
	}
	src := strings.TrimSpace(line[len(imageOpen) : len(line)-len(imageClose)])
	if src == "" || strings.ContainsAny(src, " \t") {
		return "", false
	}
	return src, true
}

func containsHTML(s string) bool {
	return htmlTagPattern.MatchString(strings.ToLower(s))
}

// ToText turns a chapter body into plain text with one paragraph per line.
// HTML markup is removed, block elements and <br> break lines, and each
// <img> becomes an ImageLine. Headers repeating the chapter title are
// dropped. Entities are decoded exactly once.
func ToText(s string) string {
	if containsHTML(s) {
		if text, ok := htmlToText(s); ok {
			return joinLines(strings.Split(text, "\n"))
		}
	}
	s = html.UnescapeString(strings.ReplaceAll(s, "\r\n", "\n"))
	return joinLines(strings.Split(s, "\n"))
}

func htmlToText(s string) (string, bool) {
	doc, err := xhtml.Parse(strings.NewReader(s))
	if err != nil {
		return "", false
	}
	collapse.Collapse(doc, nil)

	var w textWriter
	w.walk(doc)
	w.flush()
	return strings.Join(w.lines, "\n"), true
}

type textWriter struct {
	lines []string
	cur   strings.Builder
}

func (w *textWriter) flush() {
	if line := strings.TrimSpace(w.cur.String()); line != "" {
		w.lines = append(w.lines, line)
	}
	w.cur.Reset()
}

func (w *textWriter) walk(n *xhtml.Node) {
	switch n.Type {
	case xhtml.TextNode:
		w.cur.WriteString(n.Data)
		return
	case xhtml.ElementNode:
		name := dom.NodeName(n)
		switch name {
		case "header", "head", "script", "style", "noscript":
			return
		case "br":
			w.flush()
			return
		case "img":
			w.flush()
			if src := strings.TrimSpace(dom.GetAttributeOr(n, "src", "")); src != "" {
				w.lines = append(w.lines, ImageLine(src))
			}
			return
		}
		if dom.NameIsBlockNode(name) {
			w.flush()
			defer w.flush()
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func joinLines(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(strings.TrimLeft(line, "　"))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Paragraphs splits a plain-text body on line breaks, trimming each line
// and dropping blank ones. The body is not reinterpreted.
func Paragraphs(body string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
