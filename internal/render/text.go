package render

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackzampolin/quire/internal/home"
	"github.com/jackzampolin/quire/internal/source"
	"github.com/jackzampolin/quire/internal/types"
)

const fullWidthSpace = "　"

// Rendered is a chapter after template substitution, ready to write.
type Rendered struct {
	ID    string
	Index int
	Title string
	Body  string
}

// indent returns the paragraph prefix for an indent in em.
func indent(em float64) string {
	n := int(math.Round(em))
	if n <= 0 {
		return ""
	}
	return strings.Repeat(fullWidthSpace, n)
}

// formatChapter renders a title line, a blank line, then one indented
// paragraph per line. Image references have no text form and are left out.
func formatChapter(ch Rendered, prefix string) string {
	var sb strings.Builder
	sb.WriteString(ch.Title)
	sb.WriteString("\n\n")
	for _, p := range source.Paragraphs(ch.Body) {
		if _, ok := source.ImageSource(p); ok {
			continue
		}
		sb.WriteString(prefix)
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	return sb.String()
}

// bookHeader is the preamble of an aggregate text file.
func bookHeader(meta types.BookMeta, name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "书名: %s\n", name)
	if meta.Author != "" {
		fmt.Fprintf(&sb, "作者: %s\n", meta.Author)
	}
	if len(meta.Tags) > 0 {
		fmt.Fprintf(&sb, "标签: %s\n", strings.Join(meta.Tags, "|"))
	}
	if meta.Description != "" {
		fmt.Fprintf(&sb, "简介: %s\n", meta.Description)
	}
	sb.WriteString("\n")
	return sb.String()
}

// writeAggregate writes all chapters into <dir>/<name>.txt.
func writeAggregate(dir, name string, meta types.BookMeta, chapters []Rendered, indentEm float64) (string, error) {
	prefix := indent(indentEm)
	var sb strings.Builder
	sb.WriteString(bookHeader(meta, name))
	for i, ch := range chapters {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(formatChapter(ch, prefix))
	}

	path := filepath.Join(dir, home.SafeName(name)+".txt")
	if err := writeFileAtomic(path, []byte(sb.String())); err != nil {
		return "", err
	}
	return path, nil
}

// writeBulk writes one file per chapter into <dir>/<name>/NNNN_<title>.txt.
// Existing files are kept unless overwrite is set.
func writeBulk(dir, name string, chapters []Rendered, indentEm float64, overwrite bool) (string, int, error) {
	out := filepath.Join(dir, home.SafeName(name))
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create chapter directory: %w", err)
	}

	prefix := indent(indentEm)
	written := 0
	for _, ch := range chapters {
		path := filepath.Join(out, home.ChapterFileName(ch.Index, "_", ch.Title, "txt"))
		if !overwrite {
			if _, err := os.Stat(path); err == nil {
				continue
			}
		}
		if err := writeFileAtomic(path, []byte(formatChapter(ch, prefix))); err != nil {
			return "", written, err
		}
		written++
	}
	return out, written, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
