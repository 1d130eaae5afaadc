// Package updates compares downloaded books against their remote directories.
package updates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackzampolin/quire/internal/archive"
	"github.com/jackzampolin/quire/internal/home"
	"github.com/jackzampolin/quire/internal/source"
)

// ErrNotDownloaded is returned by SetIgnore for a book with no local folder.
var ErrNotDownloaded = errors.New("book not downloaded")

// Book is the update state of one downloaded book.
type Book struct {
	BookID           string `json:"book_id"`
	BookName         string `json:"book_name"`
	Folder           string `json:"folder"`
	RemoteTotal      int    `json:"remote_total"`
	LocalTotal       int    `json:"local_total"`
	LocalFailed      int    `json:"local_failed"`
	NewCount         int    `json:"new_count"`
	HasUpdate        bool   `json:"has_update"`
	Ignored          bool   `json:"ignored"`
	LastChapterTitle string `json:"last_chapter_title,omitempty"`
}

// CheckError is a book that could not be compared.
type CheckError struct {
	BookID string `json:"book_id"`
	Folder string `json:"folder"`
	Error  string `json:"error"`
}

// Report is the result of one scan.
type Report struct {
	Updates   []Book       `json:"updates"`
	NoUpdates []Book       `json:"no_updates"`
	Errors    []CheckError `json:"errors"`
}

// Classify compares local and remote chapter counts. It is pure.
func Classify(localTotal, localFailed, remoteTotal int) (newCount int, hasUpdate bool) {
	newCount = max(remoteTotal-localTotal, 0)
	return newCount, newCount > 0 || localFailed > 0
}

// Config configures a Detector.
type Config struct {
	Root   string // save root holding "<id>_<name>" folders
	Source source.Source
	Logger *slog.Logger
}

// Detector scans the save root for downloaded books.
type Detector struct {
	root   string
	source source.Source
	logger *slog.Logger
}

// New creates a Detector.
func New(cfg Config) *Detector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		root:   cfg.Root,
		source: cfg.Source,
		logger: logger.With("component", "updates"),
	}
}

// Check fetches the remote directory of every downloaded book and reports
// which have new or failed chapters. It performs no writes.
func (d *Detector) Check(ctx context.Context) (*Report, error) {
	report := &Report{Updates: []Book{}, NoUpdates: []Book{}, Errors: []CheckError{}}

	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, nil
		}
		return nil, fmt.Errorf("failed to read save root: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		bookID, name, ok := home.ParseBookDirName(e.Name())
		if !ok {
			continue
		}
		dir := filepath.Join(d.root, e.Name())
		status, err := archive.ReadStatus(dir)
		if err != nil {
			if !errors.Is(err, archive.ErrNoStatus) {
				d.logger.Warn("unreadable status record", "dir", dir, "error", err)
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remote, err := d.source.Directory(ctx, bookID)
		if err == nil && len(remote.Chapters) == 0 {
			err = source.ErrEmptyDirectory
		}
		if err != nil {
			d.logger.Warn("update check failed", "book_id", bookID, "error", err)
			report.Errors = append(report.Errors, CheckError{BookID: bookID, Folder: e.Name(), Error: err.Error()})
			continue
		}

		localTotal, localFailed := status.Counts()
		newCount, hasUpdate := Classify(localTotal, localFailed, len(remote.Chapters))
		if status.Meta.BookName != "" {
			name = status.Meta.BookName
		}
		book := Book{
			BookID:           bookID,
			BookName:         name,
			Folder:           e.Name(),
			RemoteTotal:      len(remote.Chapters),
			LocalTotal:       localTotal,
			LocalFailed:      localFailed,
			NewCount:         newCount,
			HasUpdate:        hasUpdate,
			Ignored:          status.IgnoreUpdates,
			LastChapterTitle: remote.Chapters[len(remote.Chapters)-1].Title,
		}
		if hasUpdate && !status.IgnoreUpdates {
			report.Updates = append(report.Updates, book)
		} else {
			report.NoUpdates = append(report.NoUpdates, book)
		}
	}

	sort.SliceStable(report.Updates, func(i, j int) bool {
		a, b := report.Updates[i], report.Updates[j]
		if a.NewCount != b.NewCount {
			return a.NewCount > b.NewCount
		}
		return a.BookID < b.BookID
	})
	sort.SliceStable(report.NoUpdates, func(i, j int) bool {
		return report.NoUpdates[i].BookID < report.NoUpdates[j].BookID
	})

	d.logger.Info("update check finished",
		"updates", len(report.Updates), "no_updates", len(report.NoUpdates), "errors", len(report.Errors))
	return report, nil
}

// SetIgnore toggles whether a downloaded book is skipped by update checks.
func (d *Detector) SetIgnore(ctx context.Context, bookID string, ignore bool) error {
	dir, err := archive.FindBookDir(d.root, bookID)
	if err != nil {
		return err
	}
	if dir == "" {
		return fmt.Errorf("%w: %s", ErrNotDownloaded, bookID)
	}
	store, err := archive.OpenDir(dir)
	if err != nil {
		return err
	}
	return store.SetIgnoreUpdates(ctx, ignore)
}
