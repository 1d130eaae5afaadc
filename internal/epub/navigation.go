package epub

import (
	"fmt"
	"strings"
)

const introTitle = "简介"

// generateNavigation creates the nav.xhtml navigation document.
func (b *Builder) generateNavigation() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
  <title>`)
	sb.WriteString(escapeXML(b.book.Title))
	sb.WriteString(`</title>
  <link rel="stylesheet" type="text/css" href="styles/style.css"/>
</head>
<body>
  <nav epub:type="toc" id="toc">
    <h1>目录</h1>
    <ol>
`)
	fmt.Fprintf(&sb, "      <li><a href=\"text/intro.xhtml\">%s</a></li>\n", introTitle)
	for _, ch := range b.chapters {
		fmt.Fprintf(&sb, "      <li><a href=\"text/%s\">%s</a></li>\n", chapterFile(ch), escapeXML(ch.Title))
	}
	sb.WriteString(`    </ol>
  </nav>
</body>
</html>
`)

	return sb.String()
}

// generateNCX creates the toc.ncx for ePub 2 compatibility.
func (b *Builder) generateNCX() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <head>
    <meta name="dtb:uid" content="`)
	sb.WriteString(b.identifier)
	sb.WriteString(`"/>
    <meta name="dtb:depth" content="1"/>
    <meta name="dtb:totalPageCount" content="0"/>
    <meta name="dtb:maxPageNumber" content="0"/>
  </head>
  <docTitle>
    <text>`)
	sb.WriteString(escapeXML(b.book.Title))
	sb.WriteString(`</text>
  </docTitle>
  <navMap>
`)

	writePoint := func(order int, label, src string) {
		fmt.Fprintf(&sb, "    <navPoint id=\"navpoint-%d\" playOrder=\"%d\">\n", order, order)
		fmt.Fprintf(&sb, "      <navLabel><text>%s</text></navLabel>\n", escapeXML(label))
		fmt.Fprintf(&sb, "      <content src=\"%s\"/>\n", src)
		sb.WriteString("    </navPoint>\n")
	}

	writePoint(1, introTitle, "text/intro.xhtml")
	for i, ch := range b.chapters {
		writePoint(i+2, ch.Title, "text/"+chapterFile(ch))
	}

	sb.WriteString(`  </navMap>
</ncx>
`)

	return sb.String()
}
