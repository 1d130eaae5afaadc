package epub

import (
	"fmt"
	"strings"
)

// generatePackage creates the content.opf package document.
func (b *Builder) generatePackage() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="pub-id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)

	fmt.Fprintf(&sb, "    <dc:identifier id=\"pub-id\">%s</dc:identifier>\n", b.identifier)
	fmt.Fprintf(&sb, "    <dc:title>%s</dc:title>\n", escapeXML(b.book.Title))
	if b.book.Author != "" {
		fmt.Fprintf(&sb, "    <dc:creator>%s</dc:creator>\n", escapeXML(b.book.Author))
	}
	fmt.Fprintf(&sb, "    <dc:language>%s</dc:language>\n", escapeXML(b.book.Language))
	if b.book.Description != "" {
		fmt.Fprintf(&sb, "    <dc:description>%s</dc:description>\n", escapeXML(b.book.Description))
	}
	for _, tag := range b.book.Tags {
		fmt.Fprintf(&sb, "    <dc:subject>%s</dc:subject>\n", escapeXML(tag))
	}
	if b.hasCover() {
		sb.WriteString("    <meta name=\"cover\" content=\"cover-image\"/>\n")
	}

	// Modified timestamp (required for ePub 3)
	fmt.Fprintf(&sb, "    <meta property=\"dcterms:modified\">%s</meta>\n",
		b.book.ModifiedAt.UTC().Format("2006-01-02T15:04:05Z"))

	sb.WriteString("  </metadata>\n\n")

	sb.WriteString("  <manifest>\n")
	sb.WriteString("    <item id=\"nav\" href=\"nav.xhtml\" media-type=\"application/xhtml+xml\" properties=\"nav\"/>\n")
	sb.WriteString("    <item id=\"ncx\" href=\"toc.ncx\" media-type=\"application/x-dtbncx+xml\"/>\n")
	sb.WriteString("    <item id=\"style\" href=\"styles/style.css\" media-type=\"text/css\"/>\n")
	if b.hasCover() {
		fmt.Fprintf(&sb, "    <item id=\"cover-image\" href=\"images/%s\" media-type=\"%s\" properties=\"cover-image\"/>\n",
			b.coverFileName(), b.coverMediaType())
		sb.WriteString("    <item id=\"cover\" href=\"text/cover.xhtml\" media-type=\"application/xhtml+xml\"/>\n")
	}
	for i, img := range b.book.Images {
		fmt.Fprintf(&sb, "    <item id=\"img%04d\" href=\"images/%s\" media-type=\"%s\"/>\n",
			i+1, escapeXML(img.Name), escapeXML(img.MediaType))
	}
	sb.WriteString("    <item id=\"intro\" href=\"text/intro.xhtml\" media-type=\"application/xhtml+xml\"/>\n")
	for _, ch := range b.chapters {
		fmt.Fprintf(&sb, "    <item id=\"%s\" href=\"text/%s\" media-type=\"application/xhtml+xml\"/>\n",
			chapterID(ch), chapterFile(ch))
	}
	sb.WriteString("  </manifest>\n\n")

	// Spine (reading order)
	sb.WriteString("  <spine toc=\"ncx\">\n")
	if b.hasCover() {
		sb.WriteString("    <itemref idref=\"cover\" linear=\"no\"/>\n")
	}
	sb.WriteString("    <itemref idref=\"intro\"/>\n")
	for _, ch := range b.chapters {
		fmt.Fprintf(&sb, "    <itemref idref=\"%s\"/>\n", chapterID(ch))
	}
	sb.WriteString("  </spine>\n")

	sb.WriteString("</package>\n")

	return sb.String()
}

// escapeXML escapes special XML characters.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
