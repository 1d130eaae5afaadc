package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackzampolin/quire/internal/archive"
	"github.com/jackzampolin/quire/internal/types"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestList(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	store, err := archive.Open(ctx, root, types.BookMeta{BookID: "42", BookName: "Answer", Author: "Deep"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.RecordSaved(ctx, types.ChapterRef{ID: "a", Index: 1}, types.ChapterRef{ID: "b", Index: 2}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordFailed(ctx, []types.ChapterRef{{ID: "c", Index: 3}}, errors.New("x")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "42_Answer", "Answer.epub"), 2048)
	writeFile(t, filepath.Join(root, "42_Answer", "audio", "0001-One.mp3"), 1000)
	writeFile(t, filepath.Join(root, ".hidden"), 10)

	listing, err := List(root)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	paths := map[string]Entry{}
	for _, e := range listing.Entries {
		paths[e.Path] = e
	}
	for _, want := range []string{"42_Answer", "42_Answer/Answer.epub", "42_Answer/audio", "42_Answer/audio/0001-One.mp3"} {
		if _, ok := paths[want]; !ok {
			t.Errorf("missing entry %q", want)
		}
	}
	for p := range paths {
		if filepath.Base(p)[0] == '.' {
			t.Errorf("hidden entry listed: %q", p)
		}
	}
	if e := paths["42_Answer/Answer.epub"]; e.Size != 2048 || e.HumanSize != "2.0 kB" {
		t.Errorf("epub entry = %+v", e)
	}

	if len(listing.Books) != 1 {
		t.Fatalf("books = %+v", listing.Books)
	}
	b := listing.Books[0]
	if b.BookID != "42" || b.BookName != "Answer" || b.Author != "Deep" || b.Saved != 2 || b.Failed != 1 {
		t.Errorf("book = %+v", b)
	}
	if listing.TotalSize != "3.0 kB" {
		t.Errorf("total = %q", listing.TotalSize)
	}
}

func TestListMissingRoot(t *testing.T) {
	listing, err := List(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listing.Entries) != 0 {
		t.Errorf("entries = %v", listing.Entries)
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "1_Book", "Book.txt"), 5)
	writeFile(t, filepath.Join(root, "1_Book", "notes.json"), 5)
	writeFile(t, filepath.Join(root, "1_Book", ".quire", "status.txt"), 5)
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "secret.txt"), 5)
	if err := os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "1_Book", "link.txt")); err != nil {
		t.Fatal(err)
	}

	path, ctype, err := Resolve(root, "1_Book/Book.txt")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if filepath.Base(path) != "Book.txt" || ctype != "text/plain; charset=utf-8" {
		t.Errorf("Resolve() = %q, %q", path, ctype)
	}

	tests := []struct {
		rel  string
		want error
	}{
		{"../escape.txt", ErrNotAllowed},
		{"1_Book/../../escape.txt", ErrNotAllowed},
		{"/etc/passwd", ErrNotAllowed},
		{"1_Book/notes.json", ErrNotAllowed},
		{"1_Book/.quire/status.txt", ErrNotAllowed},
		{"1_Book/link.txt", ErrNotAllowed},
		{"1_Book/missing.epub", ErrNotFound},
		{"", ErrNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			if _, _, err := Resolve(root, tt.rel); !errors.Is(err, tt.want) {
				t.Errorf("Resolve(%q) error = %v, want %v", tt.rel, err, tt.want)
			}
		})
	}
}
