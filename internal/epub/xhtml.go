package epub

import (
	"fmt"
	"strings"
)

func writeXHTMLHead(sb *strings.Builder, title, class string) {
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
  <title>`)
	sb.WriteString(escapeXML(title))
	sb.WriteString(`</title>
  <link rel="stylesheet" type="text/css" href="../styles/style.css"/>
</head>
`)
	if class != "" {
		fmt.Fprintf(sb, "<body class=\"%s\">\n", class)
	} else {
		sb.WriteString("<body>\n")
	}
}

// generateChapterXHTML renders a chapter as a heading plus one <p> per
// paragraph, with image paragraphs as centered <img> blocks.
func (b *Builder) generateChapterXHTML(ch Chapter) string {
	var sb strings.Builder
	writeXHTMLHead(&sb, ch.Title, "")

	fmt.Fprintf(&sb, "<h2>%s</h2>\n", escapeXML(ch.Title))
	for i, p := range ch.Paragraphs {
		if name, ok := ch.Images[i]; ok {
			fmt.Fprintf(&sb, "<div class=\"illus\"><img src=\"../images/%s\" alt=\"\"/></div>\n", escapeXML(name))
			continue
		}
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fmt.Fprintf(&sb, "<p>%s</p>\n", escapeXML(p))
	}

	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

// generateIntroXHTML renders the title page: name, author, status, tags and description.
func (b *Builder) generateIntroXHTML() string {
	var sb strings.Builder
	writeXHTMLHead(&sb, introTitle, "intro")

	fmt.Fprintf(&sb, "<h1>%s</h1>\n", escapeXML(b.book.Title))
	if b.book.Author != "" {
		fmt.Fprintf(&sb, "<p class=\"meta\">作者：%s</p>\n", escapeXML(b.book.Author))
	}
	status := "连载中"
	if b.book.Finished {
		status = "已完结"
	}
	fmt.Fprintf(&sb, "<p class=\"meta\">状态：%s</p>\n", status)
	if len(b.book.Tags) > 0 {
		fmt.Fprintf(&sb, "<p class=\"meta\">标签：%s</p>\n", escapeXML(strings.Join(b.book.Tags, "、")))
	}
	for _, line := range strings.Split(b.book.Description, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			fmt.Fprintf(&sb, "<p>%s</p>\n", escapeXML(line))
		}
	}

	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

func (b *Builder) generateCoverXHTML() string {
	var sb strings.Builder
	writeXHTMLHead(&sb, b.book.Title, "cover")
	fmt.Fprintf(&sb, "<section epub:type=\"cover\"><img src=\"../images/%s\" alt=\"%s\"/></section>\n",
		b.coverFileName(), escapeXML(b.book.Title))
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}
