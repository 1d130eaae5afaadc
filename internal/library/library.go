// Package library is a read-only view of the save root.
package library

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jackzampolin/quire/internal/archive"
	"github.com/jackzampolin/quire/internal/home"
)

var (
	// ErrNotAllowed is returned for paths outside the root or with a
	// non-artifact extension.
	ErrNotAllowed = errors.New("file not allowed")

	// ErrNotFound is returned when the file does not exist.
	ErrNotFound = errors.New("file not found")
)

// allowedExt is the set of artifact extensions that may be downloaded.
var allowedExt = map[string]string{
	".txt":  "text/plain; charset=utf-8",
	".epub": "application/epub+zip",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".opus": "audio/opus",
	".aac":  "audio/aac",
	".flac": "audio/flac",
}

// Entry is one file or directory under the root.
type Entry struct {
	Path      string    `json:"path"` // Slash-separated, relative to the root
	Name      string    `json:"name"`
	IsDir     bool      `json:"is_dir"`
	Size      int64     `json:"size"`
	HumanSize string    `json:"human_size"`
	Modified  time.Time `json:"modified"`
}

// Book summarizes one downloaded book folder.
type Book struct {
	BookID   string `json:"book_id"`
	BookName string `json:"book_name"`
	Author   string `json:"author,omitempty"`
	Folder   string `json:"folder"`
	Saved    int    `json:"saved"`
	Failed   int    `json:"failed"`
	Size     string `json:"size"`
}

// Listing is the projection of the whole root.
type Listing struct {
	Root      string  `json:"root"`
	Books     []Book  `json:"books"`
	Entries   []Entry `json:"entries"`
	TotalSize string  `json:"total_size"`
}

// List walks root. Hidden files and directories, including the archive
// state, are not listed. A missing root is an empty listing.
func List(root string) (*Listing, error) {
	out := &Listing{Root: root, Books: []Book{}, Entries: []Entry{}}
	bookSizes := make(map[string]int64)
	var total int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return fs.SkipAll
			}
			return err
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		e := Entry{
			Path:     filepath.ToSlash(rel),
			Name:     d.Name(),
			IsDir:    d.IsDir(),
			Modified: info.ModTime().UTC(),
		}
		if !d.IsDir() {
			e.Size = info.Size()
			e.HumanSize = humanize.Bytes(uint64(e.Size))
			total += e.Size
			top := strings.SplitN(e.Path, "/", 2)[0]
			bookSizes[top] += e.Size
		}
		out.Entries = append(out.Entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list library: %w", err)
	}

	sort.Slice(out.Entries, func(i, j int) bool { return out.Entries[i].Path < out.Entries[j].Path })
	out.TotalSize = humanize.Bytes(uint64(total))

	for _, e := range out.Entries {
		if !e.IsDir || strings.Contains(e.Path, "/") {
			continue
		}
		bookID, name, ok := home.ParseBookDirName(e.Name)
		if !ok {
			continue
		}
		b := Book{BookID: bookID, BookName: name, Folder: e.Name, Size: humanize.Bytes(uint64(bookSizes[e.Name]))}
		if st, err := archive.ReadStatus(filepath.Join(root, e.Name)); err == nil {
			total, failed := st.Counts()
			b.Saved, b.Failed = total-failed, failed
			b.Author = st.Meta.Author
			if st.Meta.BookName != "" {
				b.BookName = st.Meta.BookName
			}
		}
		out.Books = append(out.Books, b)
	}
	return out, nil
}

// Resolve maps a slash-separated relative path to a downloadable file under
// root. It returns the absolute path and the content type.
func Resolve(root, rel string) (string, string, error) {
	if rel == "" || strings.Contains(rel, "\x00") || strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return "", "", fmt.Errorf("%w: %q", ErrNotAllowed, rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q escapes the library", ErrNotAllowed, rel)
	}
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if strings.HasPrefix(part, ".") {
			return "", "", fmt.Errorf("%w: %q", ErrNotAllowed, rel)
		}
	}
	ctype, ok := allowedExt[strings.ToLower(filepath.Ext(clean))]
	if !ok {
		return "", "", fmt.Errorf("%w: extension of %q", ErrNotAllowed, rel)
	}

	rootAbs, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	full, err := filepath.EvalSymlinks(filepath.Join(rootAbs, clean))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", "", fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return "", "", err
	}
	within, err := filepath.Rel(rootAbs, full)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %q escapes the library", ErrNotAllowed, rel)
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if !info.Mode().IsRegular() {
		return "", "", fmt.Errorf("%w: %q is not a file", ErrNotAllowed, rel)
	}
	return full, ctype, nil
}
