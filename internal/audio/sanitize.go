package audio

import (
	"regexp"
	"strings"

	"github.com/jackzampolin/quire/internal/source"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	multiNewline      = regexp.MustCompile(`\n{2,}`)
	controlWhitespace = regexp.MustCompile(`[\t\f\v]+`)
	multiSpace        = regexp.MustCompile(` {2,}`)
)

// Sanitize builds the narration text for a chapter: the title, a full stop,
// then the body with image references and tags stripped and whitespace
// collapsed.
func Sanitize(title, body string) string {
	s := title + "。\n" + dropImages(body)
	s = strings.ReplaceAll(s, "　", " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = tagPattern.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = multiNewline.ReplaceAllString(s, "\n")
	s = controlWhitespace.ReplaceAllString(s, " ")
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func dropImages(body string) string {
	if !strings.Contains(body, "[img]") {
		return body
	}
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if _, ok := source.ImageSource(line); !ok {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
