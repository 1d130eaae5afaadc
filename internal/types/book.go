// Package types provides shared types used across multiple packages.
// This package has no dependencies on other quire packages to avoid import cycles.
package types

import (
	"fmt"
	"regexp"
	"strings"
)

// BookMeta is the descriptive metadata of a book as reported by the remote source.
type BookMeta struct {
	BookID            string   `json:"book_id"`
	BookName          string   `json:"book_name"`
	OriginalBookName  string   `json:"original_book_name,omitempty"`
	BookShortName     string   `json:"book_short_name,omitempty"`
	Author            string   `json:"author"`
	Description       string   `json:"description,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Category          string   `json:"category,omitempty"`
	CoverURL          string   `json:"cover_url,omitempty"`
	Finished          bool     `json:"finished"`
	ChapterCount      int      `json:"chapter_count"`
	WordCount         int      `json:"word_count"`
	Score             float64  `json:"score,omitempty"`
	ReadCount         string   `json:"read_count,omitempty"`
	FirstChapterTitle string   `json:"first_chapter_title,omitempty"`
	LastChapterTitle  string   `json:"last_chapter_title,omitempty"`
}

// Merge fills empty fields of m from other. Non-empty fields of m win.
func (m *BookMeta) Merge(other BookMeta) {
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = src
		}
	}
	fill(&m.BookID, other.BookID)
	fill(&m.BookName, other.BookName)
	fill(&m.OriginalBookName, other.OriginalBookName)
	fill(&m.BookShortName, other.BookShortName)
	fill(&m.Author, other.Author)
	fill(&m.Description, other.Description)
	fill(&m.Category, other.Category)
	fill(&m.CoverURL, other.CoverURL)
	fill(&m.ReadCount, other.ReadCount)
	fill(&m.FirstChapterTitle, other.FirstChapterTitle)
	fill(&m.LastChapterTitle, other.LastChapterTitle)
	if len(m.Tags) == 0 {
		m.Tags = other.Tags
	}
	if m.ChapterCount == 0 {
		m.ChapterCount = other.ChapterCount
	}
	if m.WordCount == 0 {
		m.WordCount = other.WordCount
	}
	if m.Score == 0 {
		m.Score = other.Score
	}
	m.Finished = m.Finished || other.Finished
}

// NameOption is a candidate display name offered to the caller.
type NameOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// NameOptions returns the distinct non-empty name candidates in preference order.
func (m BookMeta) NameOptions() []NameOption {
	candidates := []NameOption{
		{Label: "book_name", Value: m.BookName},
		{Label: "original_book_name", Value: m.OriginalBookName},
		{Label: "book_short_name", Value: m.BookShortName},
	}
	seen := make(map[string]bool)
	var out []NameOption
	for _, c := range candidates {
		v := strings.TrimSpace(c.Value)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, NameOption{Label: c.Label, Value: v})
	}
	return out
}

// NameByField returns the name stored in the given field, falling back to BookName.
func (m BookMeta) NameByField(field string) string {
	var v string
	switch field {
	case "original_book_name":
		v = m.OriginalBookName
	case "book_short_name":
		v = m.BookShortName
	}
	if strings.TrimSpace(v) == "" {
		v = m.BookName
	}
	if strings.TrimSpace(v) == "" {
		v = m.BookID
	}
	return strings.TrimSpace(v)
}

// ChapterRef describes one chapter in a book directory.
// Index is the 1-based ordinal position within the full directory.
type ChapterRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Index int    `json:"index"`
}

// Directory is the ordered chapter list of a book plus its metadata.
type Directory struct {
	Meta     BookMeta     `json:"meta"`
	Chapters []ChapterRef `json:"chapters"`
}

// Outcome is the per-chapter fetch result.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeFetched Outcome = "fetched"
	OutcomeFailed  Outcome = "failed"
)

// Chapter is one addressable unit of content.
type Chapter struct {
	ID      string  `json:"id"`
	Index   int     `json:"index"`
	Title   string  `json:"title"`
	Body    string  `json:"body,omitempty"`
	Outcome Outcome `json:"outcome"`
}

// Ref returns the directory reference for the chapter.
func (c Chapter) Ref() ChapterRef {
	return ChapterRef{ID: c.ID, Title: c.Title, Index: c.Index}
}

// Range is an inclusive, 1-based chapter ordinal range.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Validate checks 1 <= Start <= End.
func (r Range) Validate() error {
	if r.Start < 1 || r.End < 1 {
		return fmt.Errorf("range bounds must be >= 1, got %d-%d", r.Start, r.End)
	}
	if r.Start > r.End {
		return fmt.Errorf("range start %d is after end %d", r.Start, r.End)
	}
	return nil
}

// Len returns the number of ordinals covered.
func (r Range) Len() int {
	return r.End - r.Start + 1
}

// Apply restricts chapters to the range. A nil range returns chapters unchanged.
// The end is clamped to the directory length.
func (r *Range) Apply(chapters []ChapterRef) []ChapterRef {
	if r == nil {
		return chapters
	}
	out := make([]ChapterRef, 0, r.Len())
	for _, ch := range chapters {
		if ch.Index >= r.Start && ch.Index <= r.End {
			out = append(out, ch)
		}
	}
	return out
}

var (
	digitsPattern  = regexp.MustCompile(`^[0-9]+$`)
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	queryIDPattern = regexp.MustCompile(`(?i)(book_id|bookId)=([0-9]+)`)
	pageIDPattern  = regexp.MustCompile(`/page/([0-9]+)`)
)

// ParseBookID extracts a numeric book id from a bare id or a share URL.
// Returns false if no id could be found.
func ParseBookID(input string) (string, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", false
	}
	if digitsPattern.MatchString(s) {
		return s, true
	}
	target := s
	if m := urlPattern.FindString(s); m != "" {
		target = m
	}
	if m := queryIDPattern.FindStringSubmatch(target); m != nil {
		return m[2], true
	}
	if m := pageIDPattern.FindStringSubmatch(target); m != nil {
		return m[1], true
	}
	return "", false
}
