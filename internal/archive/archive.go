// Package archive is the on-disk record of a book download: one status file
// plus one file per saved chapter under the book folder's hidden state dir.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/jackzampolin/quire/internal/home"
	"github.com/jackzampolin/quire/internal/types"
)

const (
	StatusFileName  = "status.json"
	ChaptersDirName = "chapters"
	LockFileName    = "lock"

	lockRetryDelay = 10 * time.Millisecond
)

var (
	// ErrNoStatus is returned when a folder has no readable status record.
	ErrNoStatus = errors.New("no status record")

	// ErrChapterNotSaved is returned when loading a chapter that has no file.
	ErrChapterNotSaved = errors.New("chapter not saved")
)

// Entry is the recorded state of one chapter.
type Entry struct {
	Title string `json:"title"`
	Index int    `json:"index"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Status is the per-book status record.
type Status struct {
	Meta          types.BookMeta   `json:"book"`
	Downloaded    map[string]Entry `json:"downloaded"`
	IgnoreUpdates bool             `json:"ignore_updates"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Counts returns the number of recorded entries and how many of them failed.
func (s *Status) Counts() (total, failed int) {
	for _, e := range s.Downloaded {
		total++
		if !e.OK {
			failed++
		}
	}
	return total, failed
}

// Saved reports whether a chapter is recorded as saved.
func (s *Status) Saved(id string) bool {
	e, ok := s.Downloaded[id]
	return ok && e.OK
}

// FailedIDs returns the ids of chapters recorded as failed, sorted by index.
func (s *Status) FailedIDs() []string {
	type pair struct {
		id    string
		index int
	}
	var failed []pair
	for id, e := range s.Downloaded {
		if !e.OK {
			failed = append(failed, pair{id, e.Index})
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].index < failed[j].index })
	out := make([]string, len(failed))
	for i, p := range failed {
		out[i] = p.id
	}
	return out
}

func newStatus(meta types.BookMeta) *Status {
	return &Status{Meta: meta, Downloaded: make(map[string]Entry)}
}

// Store is the archive of one book folder.
type Store struct {
	dir  string
	mu   sync.Mutex // flock does not exclude goroutines sharing one handle
	lock *flock.Flock
}

// Open returns the archive for a book under root. An existing folder for the
// book id is reused whatever its name; otherwise "<id>_<name>" is created.
func Open(ctx context.Context, root string, meta types.BookMeta) (*Store, error) {
	dir, err := FindBookDir(root, meta.BookID)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		name := meta.BookName
		if name == "" {
			name = meta.BookID
		}
		dir = home.BookDir(root, meta.BookID, name)
	}

	s, err := OpenDir(dir)
	if err != nil {
		return nil, err
	}
	if err := s.Update(ctx, func(st *Status) {
		merged := meta
		merged.Merge(st.Meta)
		st.Meta = merged
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenDir returns the archive rooted at an explicit book folder, creating
// its state directory and migrating a legacy record if one is present.
func OpenDir(dir string) (*Store, error) {
	state := home.StateDir(dir)
	if err := os.MkdirAll(filepath.Join(state, ChaptersDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	s := &Store{
		dir:  dir,
		lock: flock.New(filepath.Join(state, LockFileName)),
	}
	if _, err := s.MigrateLegacy(); err != nil {
		return nil, fmt.Errorf("failed to migrate legacy status: %w", err)
	}
	return s, nil
}

// FindBookDir returns the existing folder for bookID under root, or "".
func FindBookDir(root, bookID string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read save root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if id, _, ok := home.ParseBookDirName(e.Name()); ok && id == bookID {
			return filepath.Join(root, e.Name()), nil
		}
	}
	return "", nil
}

// Dir returns the book folder.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) statusPath() string {
	return filepath.Join(home.StateDir(s.dir), StatusFileName)
}

func (s *Store) chapterPath(id string) string {
	return filepath.Join(home.StateDir(s.dir), ChaptersDirName, home.SafeName(id)+".json")
}

// Status returns the current status record.
func (s *Store) Status() (*Status, error) {
	st, err := ReadStatus(s.dir)
	if errors.Is(err, ErrNoStatus) {
		return newStatus(types.BookMeta{}), nil
	}
	return st, err
}

// Update applies fn to the status record under the cross-process lock and
// writes the result atomically.
func (s *Store) Update(ctx context.Context, fn func(*Status)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to lock archive: %w", err)
	}
	if !locked {
		return errors.New("failed to lock archive")
	}
	defer s.lock.Unlock()

	st, err := s.Status()
	if err != nil {
		return err
	}
	fn(st)
	st.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	return writeAtomic(s.statusPath(), data)
}

// RecordSaved marks chapters as saved.
func (s *Store) RecordSaved(ctx context.Context, refs ...types.ChapterRef) error {
	return s.Update(ctx, func(st *Status) {
		for _, ref := range refs {
			st.Downloaded[ref.ID] = Entry{Title: ref.Title, Index: ref.Index, OK: true}
		}
	})
}

// RecordFailed marks chapters as failed. Chapters already saved keep their state.
func (s *Store) RecordFailed(ctx context.Context, refs []types.ChapterRef, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.Update(ctx, func(st *Status) {
		for _, ref := range refs {
			if st.Saved(ref.ID) {
				continue
			}
			st.Downloaded[ref.ID] = Entry{Title: ref.Title, Index: ref.Index, Error: msg}
		}
	})
}

// SetIgnoreUpdates toggles whether the update detector skips this book.
func (s *Store) SetIgnoreUpdates(ctx context.Context, ignore bool) error {
	return s.Update(ctx, func(st *Status) {
		st.IgnoreUpdates = ignore
	})
}

// HasChapter reports whether a chapter file exists.
func (s *Store) HasChapter(id string) bool {
	_, err := os.Stat(s.chapterPath(id))
	return err == nil
}

// SaveChapter writes a chapter file. Without overwrite the file is created
// only if absent and an existing file is left untouched (written is false).
func (s *Store) SaveChapter(ch types.Chapter, overwrite bool) (written bool, err error) {
	rec := chapterFile{ID: ch.ID, Index: ch.Index, Title: ch.Title, Body: ch.Body}
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to marshal chapter: %w", err)
	}

	path := s.chapterPath(ch.ID)
	if overwrite {
		if err := writeAtomic(path, data); err != nil {
			return false, err
		}
		return true, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create chapter file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return false, fmt.Errorf("failed to write chapter file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return false, fmt.Errorf("failed to close chapter file: %w", err)
	}
	return true, nil
}

// LoadChapter reads a saved chapter.
func (s *Store) LoadChapter(id string) (*types.Chapter, error) {
	data, err := os.ReadFile(s.chapterPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrChapterNotSaved, id)
		}
		return nil, fmt.Errorf("failed to read chapter: %w", err)
	}
	var rec chapterFile
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode chapter %s: %w", id, err)
	}
	return &types.Chapter{
		ID:      rec.ID,
		Index:   rec.Index,
		Title:   rec.Title,
		Body:    rec.Body,
		Outcome: types.OutcomeFetched,
	}, nil
}

type chapterFile struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// writeAtomic writes data to a temp file in the same directory and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
