package source

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/quire/internal/types"
)

// Mock is an in-memory Source for testing.
type Mock struct {
	// Latency is added to every batch call.
	Latency time.Duration

	// BatchHook, when set, runs before each batch is served. A non-nil error
	// is returned instead of the bodies. attempt counts calls for the same
	// first chapter id, starting at 1.
	BatchHook func(ids []string, attempt int) error

	// Gate, when set, blocks every batch until it is closed or receives.
	Gate chan struct{}

	mu       sync.Mutex
	books    map[string]*types.Directory
	bodies   map[string]Body
	dirErrs  map[string]error
	fetched  map[string]int
	attempts map[string]int
	media    map[string][]byte

	batchCalls atomic.Int64
	dirCalls   atomic.Int64
}

// NewMock creates an empty mock source.
func NewMock() *Mock {
	return &Mock{
		books:    make(map[string]*types.Directory),
		bodies:   make(map[string]Body),
		dirErrs:  make(map[string]error),
		fetched:  make(map[string]int),
		attempts: make(map[string]int),
		media:    make(map[string][]byte),
	}
}

// AddBook registers a book with n generated chapters and returns its directory.
// Chapter ids are "<bookID>-<index>".
func (m *Mock) AddBook(meta types.BookMeta, n int) *types.Directory {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := &types.Directory{Meta: meta}
	for i := 1; i <= n; i++ {
		ref := types.ChapterRef{
			ID:    fmt.Sprintf("%s-%d", meta.BookID, i),
			Title: fmt.Sprintf("Chapter %d", i),
			Index: i,
		}
		dir.Chapters = append(dir.Chapters, ref)
		m.bodies[ref.ID] = Body{
			Title:   ref.Title,
			Content: fmt.Sprintf("First paragraph of chapter %d.\nSecond paragraph of chapter %d.", i, i),
		}
	}
	dir.Meta.ChapterCount = n
	m.books[meta.BookID] = dir
	return dir
}

// AppendChapters adds n more chapters to an existing book.
func (m *Mock) AppendChapters(bookID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := m.books[bookID]
	for i := 0; i < n; i++ {
		idx := len(dir.Chapters) + 1
		ref := types.ChapterRef{ID: fmt.Sprintf("%s-%d", bookID, idx), Title: fmt.Sprintf("Chapter %d", idx), Index: idx}
		dir.Chapters = append(dir.Chapters, ref)
		m.bodies[ref.ID] = Body{Title: ref.Title, Content: fmt.Sprintf("Body of chapter %d.", idx)}
	}
	dir.Meta.ChapterCount = len(dir.Chapters)
}

// RemoveBody makes a chapter come back empty from every batch.
func (m *Mock) RemoveBody(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bodies, id)
}

// SetDirectoryError makes Directory fail for bookID.
func (m *Mock) SetDirectoryError(bookID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirErrs[bookID] = err
}

// SetMedia registers image bytes served for url.
func (m *Mock) SetMedia(url string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media[url] = data
}

// FetchCount returns how many times a chapter body was served.
func (m *Mock) FetchCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetched[id]
}

// TotalFetched returns the number of chapter bodies served.
func (m *Mock) TotalFetched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.fetched {
		total += n
	}
	return total
}

// BatchCalls returns the number of Batch invocations.
func (m *Mock) BatchCalls() int64 {
	return m.batchCalls.Load()
}

// DirectoryCalls returns the number of Directory invocations.
func (m *Mock) DirectoryCalls() int64 {
	return m.dirCalls.Load()
}

// Directory returns a copy of the registered directory.
func (m *Mock) Directory(ctx context.Context, bookID string) (*types.Directory, error) {
	m.dirCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.dirErrs[bookID]; err != nil {
		return nil, err
	}
	dir, ok := m.books[bookID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBookNotFound, bookID)
	}
	if len(dir.Chapters) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDirectory, bookID)
	}
	out := &types.Directory{Meta: dir.Meta}
	out.Chapters = append(out.Chapters, dir.Chapters...)
	return out, nil
}

// Batch serves registered bodies for ids.
func (m *Mock) Batch(ctx context.Context, ids []string) (map[string]Body, error) {
	m.batchCalls.Add(1)
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrBatchTooLarge, len(ids))
	}

	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.BatchHook != nil && len(ids) > 0 {
		m.mu.Lock()
		m.attempts[ids[0]]++
		attempt := m.attempts[ids[0]]
		m.mu.Unlock()
		if err := m.BatchHook(ids, attempt); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Body, len(ids))
	for _, id := range ids {
		if body, ok := m.bodies[id]; ok {
			out[id] = body
			m.fetched[id]++
		}
	}
	return out, nil
}

// Media returns registered image bytes.
func (m *Mock) Media(_ context.Context, url string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.media[url]
	if !ok {
		return nil, "", fmt.Errorf("media not found: %s", url)
	}
	return data, http.DetectContentType(data), nil
}

var _ Source = (*Mock)(nil)
