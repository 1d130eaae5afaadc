package jobs

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/quire/internal/fetch"
	"github.com/jackzampolin/quire/internal/types"
)

// State is the lifecycle state of a job.
type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateDone     State = "done"
	StateFailed   State = "failed"
	StatePartial  State = "partial"
	StateCanceled State = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StatePartial, StateCanceled:
		return true
	}
	return false
}

// Mode selects which chapters a job fetches.
type Mode string

const (
	// ModeResume fetches every chapter not already saved.
	ModeResume Mode = "resume"
	// ModeFailedOnly fetches only chapters recorded as failed.
	ModeFailedOnly Mode = "failed_only"
	// ModeFull fetches every chapter, replacing saved ones.
	ModeFull Mode = "full"
)

// ParseMode validates a mode string. Empty means ModeResume.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeResume, nil
	case ModeResume, ModeFailedOnly, ModeFull:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalid, s)
}

// Phase is the part of the run a job is in.
type Phase string

const (
	PhaseFetch  Phase = "fetch"
	PhaseRender Phase = "render"
	PhaseAudio  Phase = "audio"
)

// Progress is the counter snapshot of a job.
type Progress struct {
	SavedChapters  int64 `json:"saved_chapters"`
	ChapterTotal   int64 `json:"chapter_total"`
	FailedChapters int64 `json:"failed_chapters"`
	Phase          Phase `json:"phase"`
	AudioDone      int64 `json:"audio_done,omitempty"`
	AudioTotal     int64 `json:"audio_total,omitempty"`
}

// View is an immutable snapshot of a job.
type View struct {
	ID                   string             `json:"id"`
	BookID               string             `json:"book_id"`
	Title                string             `json:"title,omitempty"`
	Author               string             `json:"author,omitempty"`
	State                State              `json:"state"`
	Mode                 Mode               `json:"mode"`
	Range                *types.Range       `json:"range,omitempty"`
	Progress             Progress           `json:"progress"`
	PendingChoiceOptions []types.NameOption `json:"pending_choice_options,omitempty"`
	Message              string             `json:"message,omitempty"`
	OutputPath           string             `json:"output_path,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Job is one download of one book. Counters are atomic; everything else is
// guarded by mu.
type Job struct {
	ID        string
	BookID    string
	Range     *types.Range
	Mode      Mode
	CreatedAt time.Time

	token *fetch.Token

	saved      atomic.Int64
	total      atomic.Int64
	failed     atomic.Int64
	audioDone  atomic.Int64
	audioTotal atomic.Int64

	mu        sync.Mutex
	state     State
	phase     Phase
	title     string
	author    string
	options   []types.NameOption
	message   string
	output    string
	updatedAt time.Time

	choice chan string
	done   chan struct{}
}

func newJob(id, bookID string, r *types.Range, mode Mode) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		BookID:    bookID,
		Range:     r,
		Mode:      mode,
		CreatedAt: now,
		token:     fetch.NewToken(),
		state:     StateQueued,
		phase:     PhaseFetch,
		updatedAt: now,
		choice:    make(chan string, 1),
		done:      make(chan struct{}),
	}
}

// View returns a snapshot. saved_chapters never exceeds chapter_total.
func (j *Job) View() View {
	j.mu.Lock()
	defer j.mu.Unlock()

	total := j.total.Load()
	saved := min(j.saved.Load(), total)
	v := View{
		ID:     j.ID,
		BookID: j.BookID,
		Title:  j.title,
		Author: j.author,
		State:  j.state,
		Mode:   j.Mode,
		Range:  j.Range,
		Progress: Progress{
			SavedChapters:  saved,
			ChapterTotal:   total,
			FailedChapters: j.failed.Load(),
			Phase:          j.phase,
			AudioDone:      j.audioDone.Load(),
			AudioTotal:     j.audioTotal.Load(),
		},
		Message:    j.message,
		OutputPath: j.output,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.updatedAt,
	}
	if len(j.options) > 0 {
		v.PendingChoiceOptions = append([]types.NameOption(nil), j.options...)
	}
	return v
}

// State returns the current state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) touch() {
	j.mu.Lock()
	j.updatedAt = time.Now().UTC()
	j.mu.Unlock()
}

// start moves a queued job to running. It fails if the job already ended.
func (j *Job) start() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateQueued {
		return false
	}
	j.state = StateRunning
	j.updatedAt = time.Now().UTC()
	return true
}

func (j *Job) setPhase(p Phase) {
	j.mu.Lock()
	j.phase = p
	j.updatedAt = time.Now().UTC()
	j.mu.Unlock()
}

func (j *Job) setBook(title, author string) {
	j.mu.Lock()
	j.title, j.author = title, author
	j.updatedAt = time.Now().UTC()
	j.mu.Unlock()
}

// setCounts initializes the fetch counters before any chapter is persisted.
func (j *Job) setCounts(total, saved int) {
	j.mu.Lock()
	j.saved.Store(int64(saved))
	j.total.Store(int64(total))
	j.failed.Store(0)
	j.updatedAt = time.Now().UTC()
	j.mu.Unlock()
}

func (j *Job) setOptions(opts []types.NameOption) {
	j.mu.Lock()
	j.options = opts
	j.updatedAt = time.Now().UTC()
	j.mu.Unlock()
}

func (j *Job) parked() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.options) > 0
}

func (j *Job) setOutput(path string) {
	j.mu.Lock()
	j.output = path
	j.mu.Unlock()
}

// finish moves the job to a terminal state once. Later calls are ignored,
// so a terminal state is never left.
func (j *Job) finish(state State, message string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finishLocked(state, message)
}

// cancelPending cancels a job that has not started or is parked on a
// choice. The state check and the transition share one critical section, so
// a queued job can never be started and canceled at once.
func (j *Job) cancelPending() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateQueued && len(j.options) == 0 {
		return false
	}
	return j.finishLocked(StateCanceled, "canceled")
}

func (j *Job) finishLocked(state State, message string) bool {
	if j.state.Terminal() {
		return false
	}
	j.state = state
	j.message = message
	j.options = nil
	j.updatedAt = time.Now().UTC()
	close(j.done)
	return true
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}
