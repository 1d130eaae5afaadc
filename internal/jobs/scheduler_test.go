package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/quire/internal/audio"
	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/source"
	"github.com/jackzampolin/quire/internal/types"
)

type staticConfig struct{ cfg *config.Config }

func (s staticConfig) Get() *config.Config { return s.cfg.Clone() }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SavePath = t.TempDir()
	cfg.NovelFormat = config.FormatText
	cfg.MinWaitTime = 1
	cfg.MaxWaitTime = 2
	cfg.MaxWorkers = 2
	return cfg
}

func newTestScheduler(t *testing.T, src source.Source, cfg *config.Config) *Scheduler {
	t.Helper()
	s := New(Config{Source: src, Config: staticConfig{cfg}})
	t.Cleanup(s.Shutdown)
	return s
}

func wait(t *testing.T, s *Scheduler, id string) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	v, err := s.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s) error = %v (state %s)", id, err, v.State)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func submit(t *testing.T, s *Scheduler, req Request) string {
	t.Helper()
	id, err := s.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return id
}

func TestScheduler_SubmitValidation(t *testing.T) {
	s := newTestScheduler(t, source.NewMock(), testConfig(t))

	tests := []struct {
		name string
		req  Request
	}{
		{"empty id", Request{BookID: ""}},
		{"no digits", Request{BookID: "not-a-book"}},
		{"start after end", Request{BookID: "1", Range: &types.Range{Start: 5, End: 2}}},
		{"zero start", Request{BookID: "1", Range: &types.Range{Start: 0, End: 2}}},
		{"unknown mode", Request{BookID: "1", Mode: "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Submit(context.Background(), tt.req); !errors.Is(err, ErrInvalid) {
				t.Errorf("Submit() error = %v, want ErrInvalid", err)
			}
		})
	}
	if n := len(s.List()); n != 0 {
		t.Errorf("invalid submissions created %d jobs", n)
	}
}

func TestNewRange(t *testing.T) {
	five, eight := 5, 8
	if r, err := NewRange(nil, nil); err != nil || r != nil {
		t.Errorf("NewRange(nil, nil) = %v, %v", r, err)
	}
	if _, err := NewRange(&five, nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("start only: error = %v, want ErrInvalid", err)
	}
	if _, err := NewRange(&eight, &five); !errors.Is(err, ErrInvalid) {
		t.Errorf("reversed: error = %v, want ErrInvalid", err)
	}
	r, err := NewRange(&five, &eight)
	if err != nil || r.Start != 5 || r.End != 8 {
		t.Errorf("NewRange(5, 8) = %+v, %v", r, err)
	}
}

func TestScheduler_DownloadDone(t *testing.T) {
	cfg := testConfig(t)
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "100", BookName: "Tide", Author: "Ann"}, 30)
	s := newTestScheduler(t, src, cfg)

	id := submit(t, s, Request{BookID: "https://example.com/page/100?x=1"})
	v := wait(t, s, id)

	if v.State != StateDone {
		t.Fatalf("state = %s (%s), want done", v.State, v.Message)
	}
	if v.BookID != "100" || v.Title != "Tide" || v.Author != "Ann" {
		t.Errorf("view = %+v", v)
	}
	if v.Progress.SavedChapters != 30 || v.Progress.ChapterTotal != 30 || v.Progress.FailedChapters != 0 {
		t.Errorf("progress = %+v", v.Progress)
	}
	if v.Message != "saved 30 chapters, 30 written" {
		t.Errorf("message = %q", v.Message)
	}
	want := filepath.Join(cfg.SavePath, "100_Tide", "Tide.txt")
	if v.OutputPath != want {
		t.Errorf("output = %q, want %q", v.OutputPath, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "Chapter 30") {
		t.Error("output missing last chapter")
	}
}

func TestScheduler_ProgressInvariants(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxWorkers = 4
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "7", BookName: "Seven"}, 120)
	s := newTestScheduler(t, src, cfg)

	updates, unsubscribe := s.Subscribe()
	var (
		mu         sync.Mutex
		violations []string
		collected  sync.WaitGroup
	)
	collected.Add(1)
	go func() {
		defer collected.Done()
		terminal := false
		for v := range updates {
			mu.Lock()
			if v.Progress.SavedChapters > v.Progress.ChapterTotal {
				violations = append(violations, fmt.Sprintf("saved %d > total %d", v.Progress.SavedChapters, v.Progress.ChapterTotal))
			}
			if terminal && !v.State.Terminal() {
				violations = append(violations, fmt.Sprintf("left terminal state for %s", v.State))
			}
			terminal = terminal || v.State.Terminal()
			mu.Unlock()
		}
	}()

	id := submit(t, s, Request{BookID: "7"})
	for {
		v, err := s.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if v.Progress.SavedChapters > v.Progress.ChapterTotal {
			t.Fatalf("snapshot saved %d > total %d", v.Progress.SavedChapters, v.Progress.ChapterTotal)
		}
		if v.State.Terminal() {
			break
		}
		time.Sleep(time.Millisecond)
	}
	unsubscribe()
	collected.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(violations) > 0 {
		t.Errorf("invariant violations: %v", violations)
	}
}

func TestScheduler_IdempotentRerun(t *testing.T) {
	cfg := testConfig(t)
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "9", BookName: "Nine"}, 40)
	s := newTestScheduler(t, src, cfg)

	if v := wait(t, s, submit(t, s, Request{BookID: "9"})); v.State != StateDone {
		t.Fatalf("first run state = %s", v.State)
	}
	v := wait(t, s, submit(t, s, Request{BookID: "9"}))
	if v.State != StateDone {
		t.Fatalf("second run state = %s (%s)", v.State, v.Message)
	}
	if v.Progress.SavedChapters != 40 {
		t.Errorf("saved = %d, want 40", v.Progress.SavedChapters)
	}
	if v.Message != "saved 40 chapters, 0 written" {
		t.Errorf("message = %q", v.Message)
	}
	for i := 1; i <= 40; i++ {
		if n := src.FetchCount(fmt.Sprintf("9-%d", i)); n != 1 {
			t.Fatalf("chapter %d fetched %d times, want 1", i, n)
		}
	}
}

func TestScheduler_UnreadableChapterIsPartial(t *testing.T) {
	cfg := testConfig(t)
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "12", BookName: "Twelve"}, 5)
	s := newTestScheduler(t, src, cfg)

	if v := wait(t, s, submit(t, s, Request{BookID: "12"})); v.State != StateDone {
		t.Fatalf("first run state = %s (%s)", v.State, v.Message)
	}
	chapter := filepath.Join(cfg.SavePath, "12_Twelve", ".quire", "chapters", "12-3.json")
	if err := os.WriteFile(chapter, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := wait(t, s, submit(t, s, Request{BookID: "12"}))
	if v.State != StatePartial {
		t.Fatalf("state = %s (%s), want partial", v.State, v.Message)
	}
	if !strings.Contains(v.Message, "1 chapters missing from output") {
		t.Errorf("message = %q", v.Message)
	}
}

func TestScheduler_ResumeAfterCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxWorkers = 1
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "55", BookName: "Long"}, 100)
	gate := make(chan struct{})
	src.Gate = gate
	s := newTestScheduler(t, src, cfg)

	id := submit(t, s, Request{BookID: "55"})
	gate <- struct{}{} // release the first batch only
	waitFor(t, "first batch", func() bool {
		v, _ := s.Get(id)
		return v.Progress.SavedChapters >= 25
	})
	if err := s.Cancel(id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := s.Cancel(id); err != nil {
		t.Fatalf("second Cancel() error = %v", err)
	}
	close(gate) // a batch dispatched before the cancel still completes

	v := wait(t, s, id)
	if v.State != StateCanceled {
		t.Fatalf("state = %s, want canceled", v.State)
	}
	savedAtCancel := int(v.Progress.SavedChapters)
	if savedAtCancel < 25 || savedAtCancel > 50 {
		t.Fatalf("saved at cancel = %d, want 25 or 50", savedAtCancel)
	}
	before := src.TotalFetched()

	v = wait(t, s, submit(t, s, Request{BookID: "55"}))
	if v.State != StateDone {
		t.Fatalf("resumed state = %s (%s)", v.State, v.Message)
	}
	if fetched := src.TotalFetched() - before; fetched > 100-savedAtCancel {
		t.Errorf("resume fetched %d chapters, want <= %d", fetched, 100-savedAtCancel)
	}
}

func TestScheduler_Range(t *testing.T) {
	cfg := testConfig(t)
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "3", BookName: "Three"}, 20)
	s := newTestScheduler(t, src, cfg)

	v := wait(t, s, submit(t, s, Request{BookID: "3", Range: &types.Range{Start: 5, End: 8}}))
	if v.State != StateDone {
		t.Fatalf("state = %s (%s)", v.State, v.Message)
	}
	if v.Progress.ChapterTotal != 4 || v.Progress.SavedChapters != 4 {
		t.Errorf("progress = %+v, want 4/4", v.Progress)
	}
	for i := 1; i <= 20; i++ {
		want := 0
		if i >= 5 && i <= 8 {
			want = 1
		}
		if got := src.FetchCount(fmt.Sprintf("3-%d", i)); got != want {
			t.Errorf("chapter %d fetched %d times, want %d", i, got, want)
		}
	}

	t.Run("outside directory", func(t *testing.T) {
		v := wait(t, s, submit(t, s, Request{BookID: "3", Range: &types.Range{Start: 30, End: 40}}))
		if v.State != StateFailed || !strings.Contains(v.Message, "outside") {
			t.Errorf("state = %s (%s), want failed", v.State, v.Message)
		}
	})
}

func TestScheduler_CancelLeavesPending(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxWorkers = 1
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "75", BookName: "Many"}, 75)
	gate := make(chan struct{})
	src.Gate = gate
	s := newTestScheduler(t, src, cfg)

	id := submit(t, s, Request{BookID: "75"})
	waitFor(t, "first batch dispatched", func() bool { return src.BatchCalls() == 1 })
	if err := s.Cancel(id); err != nil {
		t.Fatal(err)
	}
	close(gate)

	v := wait(t, s, id)
	if v.State != StateCanceled {
		t.Fatalf("state = %s, want canceled", v.State)
	}
	if v.Progress.SavedChapters != 25 {
		t.Errorf("saved = %d, want 25 (only the dispatched batch)", v.Progress.SavedChapters)
	}
	if src.BatchCalls() != 1 {
		t.Errorf("batch calls = %d, want 1", src.BatchCalls())
	}
}

func TestScheduler_DirectoryFailure(t *testing.T) {
	s := newTestScheduler(t, source.NewMock(), testConfig(t))
	v := wait(t, s, submit(t, s, Request{BookID: "404"}))
	if v.State != StateFailed {
		t.Fatalf("state = %s, want failed", v.State)
	}
	if !strings.HasPrefix(v.Message, "directory fetch failed:") {
		t.Errorf("message = %q", v.Message)
	}
}

func TestScheduler_DirectoryTransientRetried(t *testing.T) {
	cfg := testConfig(t)
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "8", BookName: "Eight"}, 3)
	src.SetDirectoryError("8", &source.CooldownError{Message: "cooldown"})
	s := newTestScheduler(t, src, cfg)

	v := wait(t, s, submit(t, s, Request{BookID: "8"}))
	if v.State != StateFailed {
		t.Fatalf("state = %s, want failed", v.State)
	}
	if got := src.DirectoryCalls(); got != int64(cfg.MaxRetries)+1 {
		t.Errorf("directory calls = %d, want %d", got, cfg.MaxRetries+1)
	}
}

func TestScheduler_PartialThenRetryFailedOnly(t *testing.T) {
	cfg := testConfig(t)
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "50", BookName: "Fifty"}, 50)
	src.BatchHook = func(ids []string, attempt int) error {
		if ids[0] == "50-26" && attempt == 1 {
			return source.ErrBookNotFound
		}
		return nil
	}
	s := newTestScheduler(t, src, cfg)

	first := submit(t, s, Request{BookID: "50"})
	v := wait(t, s, first)
	if v.State != StatePartial {
		t.Fatalf("state = %s (%s), want partial", v.State, v.Message)
	}
	if v.Message != "25 chapters failed" || v.Progress.FailedChapters != 25 {
		t.Errorf("message = %q, failed = %d", v.Message, v.Progress.FailedChapters)
	}

	second, err := s.Retry(context.Background(), first, ModeFailedOnly)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if second == first {
		t.Fatal("Retry reused the job id")
	}
	v = wait(t, s, second)
	if v.State != StateDone || v.Mode != ModeFailedOnly {
		t.Fatalf("retry = %s/%s (%s)", v.State, v.Mode, v.Message)
	}
	if n := src.FetchCount("50-1"); n != 1 {
		t.Errorf("saved chapter refetched %d times", n)
	}
	if n := src.FetchCount("50-26"); n != 1 {
		t.Errorf("failed chapter fetched %d times, want 1", n)
	}
}

func TestScheduler_RetryFull(t *testing.T) {
	cfg := testConfig(t)
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "4", BookName: "Four"}, 10)
	s := newTestScheduler(t, src, cfg)

	first := submit(t, s, Request{BookID: "4"})
	wait(t, s, first)
	second, err := s.Retry(context.Background(), first, ModeFull)
	if err != nil {
		t.Fatal(err)
	}
	if v := wait(t, s, second); v.State != StateDone {
		t.Fatalf("state = %s", v.State)
	}
	if n := src.FetchCount("4-5"); n != 2 {
		t.Errorf("full retry fetched chapter %d times, want 2", n)
	}
}

func TestScheduler_PendingChoice(t *testing.T) {
	cfg := testConfig(t)
	cfg.PreferredBookNameField = config.NameFieldAskAfterFetch
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "12", BookName: "Short Name", OriginalBookName: "The Original"}, 5)
	src.AddBook(types.BookMeta{BookID: "13", BookName: "Other", BookShortName: "Oth"}, 5)
	s := newTestScheduler(t, src, cfg)

	id := submit(t, s, Request{BookID: "12"})
	waitFor(t, "pending choice", func() bool {
		v, _ := s.Get(id)
		return len(v.PendingChoiceOptions) == 2
	})
	v, _ := s.Get(id)
	if v.State != StateRunning {
		t.Fatalf("parked state = %s, want running", v.State)
	}
	if err := s.Resolve(id, "The Original"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	v = wait(t, s, id)
	if v.State != StateDone || v.Title != "The Original" {
		t.Fatalf("view = %+v", v)
	}
	if _, err := os.Stat(filepath.Join(cfg.SavePath, "12_Short Name", "The Original.txt")); err != nil {
		t.Errorf("output not named by choice: %v", err)
	}
	if err := s.Resolve(id, "x"); !errors.Is(err, ErrNoPendingChoice) {
		t.Errorf("Resolve() on finished job error = %v", err)
	}

	t.Run("cancel while parked", func(t *testing.T) {
		id := submit(t, s, Request{BookID: "13"})
		waitFor(t, "pending choice", func() bool {
			v, _ := s.Get(id)
			return len(v.PendingChoiceOptions) > 0
		})
		if err := s.Cancel(id); err != nil {
			t.Fatal(err)
		}
		v, _ := s.Get(id)
		if v.State != StateCanceled {
			t.Errorf("state right after cancel = %s, want canceled", v.State)
		}
		if len(v.PendingChoiceOptions) != 0 {
			t.Errorf("options kept after cancel: %v", v.PendingChoiceOptions)
		}
	})
}

func TestScheduler_ClearAndNotFound(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxWorkers = 1
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "21", BookName: "Slow"}, 5)
	gate := make(chan struct{})
	src.Gate = gate
	s := newTestScheduler(t, src, cfg)

	id := submit(t, s, Request{BookID: "21"})
	if err := s.Clear(id); !errors.Is(err, ErrNotTerminal) {
		t.Errorf("Clear() active error = %v, want ErrNotTerminal", err)
	}
	if _, err := s.Retry(context.Background(), id, ModeResume); !errors.Is(err, ErrNotTerminal) {
		t.Errorf("Retry() active error = %v, want ErrNotTerminal", err)
	}
	close(gate)
	wait(t, s, id)

	if err := s.Clear(id); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := s.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after clear error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.SavePath, "21_Slow", "Slow.txt")); err != nil {
		t.Errorf("Clear touched the output: %v", err)
	}
	for _, err := range []error{s.Cancel("nope"), s.Resolve("nope", ""), s.Clear("nope")} {
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("unknown id error = %v, want ErrNotFound", err)
		}
	}
}

func TestScheduler_ListOrder(t *testing.T) {
	cfg := testConfig(t)
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "1", BookName: "One"}, 2)
	src.AddBook(types.BookMeta{BookID: "2", BookName: "Two"}, 2)
	s := newTestScheduler(t, src, cfg)

	a := submit(t, s, Request{BookID: "1"})
	wait(t, s, a)
	b := submit(t, s, Request{BookID: "2"})
	wait(t, s, b)

	views := s.List()
	if len(views) != 2 || views[0].ID != b || views[1].ID != a {
		t.Errorf("List() order = %v", views)
	}
}

type countingSynth struct {
	mu    sync.Mutex
	texts []string
}

func (c *countingSynth) Synthesize(_ context.Context, req audio.Request) ([]byte, error) {
	c.mu.Lock()
	c.texts = append(c.texts, req.Text)
	c.mu.Unlock()
	return []byte("audio"), nil
}

func TestScheduler_Audio(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audiobook.Enabled = true
	cfg.Audiobook.Format = "wav"
	cfg.Audiobook.Concurrency = 3
	src := source.NewMock()
	src.AddBook(types.BookMeta{BookID: "31", BookName: "Spoken"}, 6)
	synth := &countingSynth{}
	s := New(Config{Source: src, Config: staticConfig{cfg}, Synthesizer: synth})
	t.Cleanup(s.Shutdown)

	v := wait(t, s, submit(t, s, Request{BookID: "31"}))
	if v.State != StateDone {
		t.Fatalf("state = %s (%s)", v.State, v.Message)
	}
	if v.Progress.Phase != PhaseAudio || v.Progress.AudioDone != 6 || v.Progress.AudioTotal != 6 {
		t.Errorf("progress = %+v", v.Progress)
	}
	if _, err := os.Stat(filepath.Join(cfg.SavePath, "31_Spoken", "audio", "0006-Chapter 6.wav")); err != nil {
		t.Errorf("audio file missing: %v", err)
	}
	if len(synth.texts) != 6 {
		t.Errorf("synth calls = %d, want 6", len(synth.texts))
	}
}

func TestScheduler_Shutdown(t *testing.T) {
	s := New(Config{Source: source.NewMock(), Config: staticConfig{testConfig(t)}})
	s.Shutdown()
	if _, err := s.Submit(context.Background(), Request{BookID: "1"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after shutdown error = %v, want ErrClosed", err)
	}
}

func TestJob_CancelPending(t *testing.T) {
	t.Run("queued job never starts", func(t *testing.T) {
		j := newJob("j1", "1", nil, ModeResume)
		if !j.cancelPending() {
			t.Fatal("cancelPending() on queued job = false")
		}
		if j.start() {
			t.Error("start() succeeded after cancel")
		}
		if j.State() != StateCanceled {
			t.Errorf("state = %s, want canceled", j.State())
		}
	})

	t.Run("running job waits for its runner", func(t *testing.T) {
		j := newJob("j2", "1", nil, ModeResume)
		if !j.start() {
			t.Fatal("start() = false")
		}
		if j.cancelPending() {
			t.Error("cancelPending() finished a running job")
		}
		if j.State() != StateRunning {
			t.Errorf("state = %s, want running", j.State())
		}
	})

	t.Run("concurrent start and cancel", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			j := newJob("j3", "1", nil, ModeResume)
			var started, canceled bool
			var wg sync.WaitGroup
			wg.Add(2)
			go func() { defer wg.Done(); started = j.start() }()
			go func() { defer wg.Done(); canceled = j.cancelPending() }()
			wg.Wait()
			if started == canceled {
				t.Fatalf("started = %v, canceled = %v; want exactly one", started, canceled)
			}
		}
	})
}
