// Package epub writes EPUB 3 containers for downloaded books.
package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Book contains the metadata needed for epub generation.
type Book struct {
	ID          string // Remote book id, used to derive a stable identifier
	Title       string
	Author      string
	Language    string // BCP 47 code (default "zh")
	Description string
	Tags        []string
	Finished    bool
	Cover       []byte // Optional cover image
	CoverType   string // Media type of Cover, e.g. "image/jpeg"
	Images      []Image
	IndentEm    float64
	ModifiedAt  time.Time
}

// Image is an inline chapter image stored under OEBPS/images/.
type Image struct {
	Name      string // File name, unique within the book
	MediaType string
	Data      []byte
}

// Chapter is one section of the book in reading order.
type Chapter struct {
	Index      int
	Title      string
	Paragraphs []string

	// Images maps paragraph positions to Image names. Those paragraphs
	// render as the image instead of their text.
	Images map[int]string
}

// Builder creates ePub 3.0 files.
type Builder struct {
	book       Book
	chapters   []Chapter
	identifier string
}

// NewBuilder creates a new epub builder.
func NewBuilder(book Book, chapters []Chapter) *Builder {
	if book.Language == "" {
		book.Language = "zh"
	}
	if book.ModifiedAt.IsZero() {
		book.ModifiedAt = time.Now()
	}
	return &Builder{
		book:       book,
		chapters:   chapters,
		identifier: Identifier(book.ID),
	}
}

// Identifier returns the stable urn:uuid identifier for a book id.
func Identifier(bookID string) string {
	return "urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte("quire:book:"+bookID)).String()
}

// Build generates the epub and writes it to the specified path. The file is
// written to a temporary name and renamed into place.
func (b *Builder) Build(outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(outputPath), ".epub-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	tmp := f.Name()

	if err := b.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close output file: %w", err)
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move epub into place: %w", err)
	}
	return nil
}

// WriteTo writes the epub to a writer.
func (b *Builder) WriteTo(w io.Writer) error {
	zw := zip.NewWriter(w)

	// mimetype must be first and uncompressed
	header := &zip.FileHeader{Name: "mimetype", Method: zip.Store}
	mw, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create mimetype: %w", err)
	}
	if _, err := mw.Write([]byte("application/epub+zip")); err != nil {
		return err
	}

	for _, f := range b.entries() {
		fw, err := zw.Create(f.name)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", f.name, err)
		}
		if _, err := fw.Write(f.content); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	return zw.Close()
}

type entry struct {
	name    string
	content []byte
}

// entries lists every container file after the mimetype.
func (b *Builder) entries() []entry {
	files := []entry{
		{"META-INF/container.xml", []byte(containerXML)},
		{"OEBPS/content.opf", []byte(b.generatePackage())},
		{"OEBPS/nav.xhtml", []byte(b.generateNavigation())},
		{"OEBPS/toc.ncx", []byte(b.generateNCX())},
		{"OEBPS/styles/style.css", []byte(b.stylesheet())},
		{"OEBPS/text/intro.xhtml", []byte(b.generateIntroXHTML())},
	}
	if b.hasCover() {
		files = append(files,
			entry{"OEBPS/images/" + b.coverFileName(), b.book.Cover},
			entry{"OEBPS/text/cover.xhtml", []byte(b.generateCoverXHTML())},
		)
	}
	for _, img := range b.book.Images {
		files = append(files, entry{"OEBPS/images/" + img.Name, img.Data})
	}
	for _, ch := range b.chapters {
		files = append(files, entry{"OEBPS/text/" + chapterFile(ch), []byte(b.generateChapterXHTML(ch))})
	}
	return files
}

// BuildToBuffer generates the epub and returns it as a byte buffer.
func (b *Builder) BuildToBuffer() (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	if err := b.WriteTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (b *Builder) hasCover() bool {
	return len(b.book.Cover) > 0
}

func (b *Builder) coverFileName() string {
	switch b.book.CoverType {
	case "image/png":
		return "cover.png"
	case "image/webp":
		return "cover.webp"
	case "image/gif":
		return "cover.gif"
	default:
		return "cover.jpg"
	}
}

func (b *Builder) coverMediaType() string {
	if b.book.CoverType == "" {
		return "image/jpeg"
	}
	return b.book.CoverType
}

func chapterID(ch Chapter) string {
	return fmt.Sprintf("ch%04d", ch.Index)
}

func chapterFile(ch Chapter) string {
	return chapterID(ch) + ".xhtml"
}

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// stylesheet returns the book CSS with the configured paragraph indent.
func (b *Builder) stylesheet() string {
	return fmt.Sprintf(stylesheetTemplate, b.book.IndentEm)
}

const stylesheetTemplate = `body {
  font-family: serif;
  line-height: 1.7;
  margin: 1em;
}

h1, h2 {
  text-align: center;
  margin: 1.5em 0 1em;
}

p {
  margin: 0.4em 0;
  text-indent: %gem;
}

.intro p.meta {
  text-indent: 0;
  text-align: center;
}

.cover {
  text-align: center;
  margin: 0;
  padding: 0;
}

.cover img {
  max-width: 100%%;
  max-height: 100%%;
}

div.illus {
  text-align: center;
  margin: 1em 0;
}

div.illus img {
  max-width: 100%%;
}
`
