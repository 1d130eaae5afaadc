package render

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jackzampolin/quire/internal/source"
)

// ErrTemplate wraps template parse failures.
var ErrTemplate = errors.New("template error")

type nodeKind int

const (
	nodeText nodeKind = iota
	nodeVar
	nodeEach
)

type node struct {
	kind nodeKind
	text string // literal text or variable name
	body []node // loop body for nodeEach
}

// Template is a compiled chapter template.
//
// Directives:
//
//	{{title}}       chapter title
//	{{index}}       1-based chapter ordinal
//	{{content}}     whole body
//	{{paragraphs}}  body split on line breaks, blank lines dropped, one per line
//	{{#each paragraphs}} ... {{/each}}
//	                repeats its body per paragraph; inside it {{paragraph}} is the
//	                paragraph text and {{number}} its 1-based position
//
// Loops do not nest.
type Template struct {
	nodes []node
}

// ChapterData is the input to a template.
type ChapterData struct {
	Title   string
	Index   int
	Content string
}

var (
	topLevelVars = map[string]bool{"title": true, "index": true, "content": true, "paragraphs": true}
	loopVars     = map[string]bool{"paragraph": true, "number": true}
)

// ParseTemplate compiles src.
func ParseTemplate(src string) (*Template, error) {
	var (
		top    []node
		loop   *node
		offset int
	)
	emit := func(n node) {
		if loop != nil {
			loop.body = append(loop.body, n)
		} else {
			top = append(top, n)
		}
	}

	rest := src
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			if rest != "" {
				emit(node{kind: nodeText, text: rest})
			}
			break
		}
		if open > 0 {
			emit(node{kind: nodeText, text: rest[:open]})
		}
		end := strings.Index(rest[open+2:], "}}")
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated directive at offset %d", ErrTemplate, offset+open)
		}
		directive := strings.TrimSpace(rest[open+2 : open+2+end])
		pos := offset + open

		switch {
		case strings.HasPrefix(directive, "#each"):
			if loop != nil {
				return nil, fmt.Errorf("%w: nested loop at offset %d", ErrTemplate, pos)
			}
			if strings.TrimSpace(strings.TrimPrefix(directive, "#each")) != "paragraphs" {
				return nil, fmt.Errorf("%w: can only loop over paragraphs (offset %d)", ErrTemplate, pos)
			}
			loop = &node{kind: nodeEach}
		case directive == "/each":
			if loop == nil {
				return nil, fmt.Errorf("%w: {{/each}} without {{#each}} at offset %d", ErrTemplate, pos)
			}
			top = append(top, *loop)
			loop = nil
		case topLevelVars[directive]:
			emit(node{kind: nodeVar, text: directive})
		case loopVars[directive]:
			if loop == nil {
				return nil, fmt.Errorf("%w: {{%s}} outside a loop at offset %d", ErrTemplate, directive, pos)
			}
			emit(node{kind: nodeVar, text: directive})
		default:
			return nil, fmt.Errorf("%w: unknown directive {{%s}} at offset %d", ErrTemplate, directive, pos)
		}

		consumed := open + 2 + end + 2
		offset += consumed
		rest = rest[consumed:]
	}

	if loop != nil {
		return nil, fmt.Errorf("%w: {{#each}} is never closed", ErrTemplate)
	}
	return &Template{nodes: top}, nil
}

// LoadTemplate reads and compiles a template file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return ParseTemplate(string(data))
}

// Execute renders the template for one chapter.
func (t *Template) Execute(data ChapterData) string {
	paragraphs := source.Paragraphs(data.Content)
	var sb strings.Builder
	for _, n := range t.nodes {
		switch n.kind {
		case nodeText:
			sb.WriteString(n.text)
		case nodeVar:
			sb.WriteString(lookup(n.text, data, paragraphs))
		case nodeEach:
			number := 0
			for _, p := range paragraphs {
				if _, ok := source.ImageSource(p); ok {
					// Kept verbatim on a line of its own for the EPUB writer.
					sb.WriteString("\n" + p + "\n")
					continue
				}
				number++
				for _, inner := range n.body {
					switch {
					case inner.kind == nodeText:
						sb.WriteString(inner.text)
					case inner.text == "paragraph":
						sb.WriteString(p)
					case inner.text == "number":
						sb.WriteString(strconv.Itoa(number))
					default:
						sb.WriteString(lookup(inner.text, data, paragraphs))
					}
				}
			}
		}
	}
	return sb.String()
}

func lookup(name string, data ChapterData, paragraphs []string) string {
	switch name {
	case "title":
		return data.Title
	case "index":
		return strconv.Itoa(data.Index)
	case "content":
		return data.Content
	case "paragraphs":
		return strings.Join(paragraphs, "\n")
	}
	return ""
}
