// Package jobs runs book downloads as concurrent jobs with a monotonic
// state machine, pending choices, and retry modes.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jackzampolin/quire/internal/audio"
	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/source"
	"github.com/jackzampolin/quire/internal/types"
)

// ConfigSource hands out configuration snapshots. *config.Manager implements it.
type ConfigSource interface {
	Get() *config.Config
}

// Request is a submission.
type Request struct {
	BookID string       // Numeric id or a share URL containing one
	Range  *types.Range // Optional 1-based inclusive range
	Mode   Mode         // Empty means ModeResume
}

// NewRange builds a range from optional bounds. Both or neither must be set.
func NewRange(start, end *int) (*types.Range, error) {
	if start == nil && end == nil {
		return nil, nil
	}
	if start == nil || end == nil {
		return nil, fmt.Errorf("%w: range needs both start and end", ErrInvalid)
	}
	r := &types.Range{Start: *start, End: *end}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return r, nil
}

// Config configures a Scheduler.
type Config struct {
	Source source.Source
	Config ConfigSource

	// Synthesizer overrides the speech client built from the audiobook
	// settings. Optional.
	Synthesizer audio.Synthesizer

	Logger *slog.Logger
}

// Scheduler owns the job registry and starts one runner goroutine per job.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	src    source.Source
	closed bool

	cfg    ConfigSource
	synth  audio.Synthesizer
	logger *slog.Logger

	wg sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]chan View
	nextSub int
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:   make(map[string]*Job),
		src:    cfg.Source,
		cfg:    cfg.Config,
		synth:  cfg.Synthesizer,
		logger: logger.With("component", "jobs"),
		subs:   make(map[int]chan View),
	}
}

// SetSource replaces the remote source used by jobs started afterwards.
func (s *Scheduler) SetSource(src source.Source) {
	s.mu.Lock()
	s.src = src
	s.mu.Unlock()
}

// Source returns the remote source new jobs will use.
func (s *Scheduler) Source() source.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

// Submit validates req, registers a queued job and starts it.
// Validation errors are the only errors.
func (s *Scheduler) Submit(ctx context.Context, req Request) (string, error) {
	bookID, ok := types.ParseBookID(req.BookID)
	if !ok {
		return "", fmt.Errorf("%w: cannot find a book id in %q", ErrInvalid, req.BookID)
	}
	if req.Range != nil {
		if err := req.Range.Validate(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return "", err
	}

	job := newJob(uuid.NewString(), bookID, req.Range, mode)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.jobs[job.ID] = job
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("job submitted", "job_id", job.ID, "book_id", bookID, "mode", mode)
	s.publish(job)

	go s.run(job)
	return job.ID, nil
}

func (s *Scheduler) get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return job, nil
}

// Cancel requests cancellation. It is idempotent. A queued job or one
// waiting on a choice is canceled immediately; a running job stops at the
// next batch boundary.
func (s *Scheduler) Cancel(id string) error {
	job, err := s.get(id)
	if err != nil {
		return err
	}
	job.token.Cancel()
	if job.cancelPending() {
		s.logger.Info("job finished", "job_id", job.ID, "book_id", job.BookID, "state", StateCanceled, "message", "canceled")
		s.publish(job)
	}
	s.logger.Info("job cancel requested", "job_id", id)
	return nil
}

// Resolve answers a pending choice. An empty value keeps the current name.
func (s *Scheduler) Resolve(id, value string) error {
	job, err := s.get(id)
	if err != nil {
		return err
	}
	if !job.parked() || job.State().Terminal() {
		return fmt.Errorf("%w: %s", ErrNoPendingChoice, id)
	}
	select {
	case job.choice <- value:
	default:
		return fmt.Errorf("%w: %s already answered", ErrNoPendingChoice, id)
	}
	return nil
}

// List returns every job, most recently updated first.
func (s *Scheduler) List() []View {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	views := make([]View, len(jobs))
	for i, j := range jobs {
		views[i] = j.View()
	}
	sort.Slice(views, func(a, b int) bool {
		if !views[a].UpdatedAt.Equal(views[b].UpdatedAt) {
			return views[a].UpdatedAt.After(views[b].UpdatedAt)
		}
		return views[a].CreatedAt.After(views[b].CreatedAt)
	})
	return views
}

// Get returns one job.
func (s *Scheduler) Get(id string) (View, error) {
	job, err := s.get(id)
	if err != nil {
		return View{}, err
	}
	return job.View(), nil
}

// Clear removes a finished job from the registry. Files are untouched.
func (s *Scheduler) Clear(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !job.State().Terminal() {
		return fmt.Errorf("%w: %s", ErrNotTerminal, id)
	}
	delete(s.jobs, id)
	return nil
}

// Retry starts a new job for the same book and range as a finished job.
func (s *Scheduler) Retry(ctx context.Context, id string, mode Mode) (string, error) {
	job, err := s.get(id)
	if err != nil {
		return "", err
	}
	if !job.State().Terminal() {
		return "", fmt.Errorf("%w: %s", ErrNotTerminal, id)
	}
	return s.Submit(ctx, Request{BookID: job.BookID, Range: job.Range, Mode: mode})
}

// Wait blocks until the job is terminal or ctx ends.
func (s *Scheduler) Wait(ctx context.Context, id string) (View, error) {
	job, err := s.get(id)
	if err != nil {
		return View{}, err
	}
	select {
	case <-job.Done():
		return job.View(), nil
	case <-ctx.Done():
		return job.View(), ctx.Err()
	}
}

// Shutdown cancels every active job and waits for their runners. Batches
// already dispatched finish and persist.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	for _, j := range s.jobs {
		j.token.Cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()
	s.logger.Info("scheduler stopped")
}

// Subscribe returns a channel receiving a view on every change and a
// function to unsubscribe. Slow subscribers miss updates.
func (s *Scheduler) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 64)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
			s.subMu.Unlock()
		})
	}
}

func (s *Scheduler) publish(job *Job) {
	v := job.View()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

func (s *Scheduler) finish(job *Job, state State, message string) {
	if job.finish(state, message) {
		s.logger.Info("job finished", "job_id", job.ID, "book_id", job.BookID, "state", state, "message", message)
		s.publish(job)
	}
}
