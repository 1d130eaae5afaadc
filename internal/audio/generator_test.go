package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSynth struct {
	mu       sync.Mutex
	calls    map[string]int
	fail     map[string]error
	limitFor int // number of leading calls per text that return a RateLimitError
	total    atomic.Int64
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{calls: map[string]int{}, fail: map[string]error{}}
}

func (f *fakeSynth) Synthesize(_ context.Context, req Request) ([]byte, error) {
	f.total.Add(1)
	f.mu.Lock()
	f.calls[req.Text]++
	n := f.calls[req.Text]
	err := f.fail[req.Text]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if n <= f.limitFor {
		return nil, &RateLimitError{Message: "slow down", RetryAfter: time.Millisecond}
	}
	return []byte("audio:" + req.Text), nil
}

func testChapters() []Chapter {
	return []Chapter{
		{Index: 1, Title: "One", Body: "first"},
		{Index: 2, Title: "Two", Body: "second"},
		{Index: 3, Title: "Three", Body: "third"},
	}
}

func TestGenerator_WritesFiles(t *testing.T) {
	dir := t.TempDir()
	synth := newFakeSynth()
	g := NewGenerator(GeneratorConfig{Synth: synth, Format: "wav", Concurrency: 2})

	var last atomic.Int64
	report, err := g.Generate(context.Background(), dir, testChapters(), func(done, total int) {
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
		last.Store(int64(done))
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if report.Written != 3 || report.Skipped != 0 || len(report.Failures) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if last.Load() != 3 {
		t.Errorf("last progress = %d, want 3", last.Load())
	}

	data, err := os.ReadFile(filepath.Join(dir, "audio", "0002-Two.wav"))
	if err != nil {
		t.Fatalf("read audio: %v", err)
	}
	if string(data) != "audio:Two。\nsecond" {
		t.Errorf("audio content = %q", data)
	}
}

func TestGenerator_SkipsExisting(t *testing.T) {
	dir := t.TempDir()
	synth := newFakeSynth()
	g := NewGenerator(GeneratorConfig{Synth: synth})

	if _, err := g.Generate(context.Background(), dir, testChapters(), nil); err != nil {
		t.Fatal(err)
	}
	report, err := g.Generate(context.Background(), dir, testChapters(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Skipped != 3 || report.Written != 0 {
		t.Errorf("second run report = %+v", report)
	}
	if synth.total.Load() != 3 {
		t.Errorf("synth calls = %d, want 3", synth.total.Load())
	}

	t.Run("overwrite", func(t *testing.T) {
		g := NewGenerator(GeneratorConfig{Synth: synth, Overwrite: true})
		report, err := g.Generate(context.Background(), dir, testChapters(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if report.Written != 3 {
			t.Errorf("overwrite report = %+v", report)
		}
	})
}

func TestGenerator_FailureIsolated(t *testing.T) {
	dir := t.TempDir()
	synth := newFakeSynth()
	synth.fail["Two。\nsecond"] = errors.New("bad voice")
	g := NewGenerator(GeneratorConfig{Synth: synth})

	report, err := g.Generate(context.Background(), dir, testChapters(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Written != 2 {
		t.Errorf("written = %d, want 2", report.Written)
	}
	if len(report.Failures) != 1 || report.Failures[0].Index != 2 {
		t.Fatalf("failures = %+v", report.Failures)
	}
	// Non rate-limit errors are not retried.
	if got := synth.calls["Two。\nsecond"]; got != 1 {
		t.Errorf("calls for failing chapter = %d, want 1", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "audio", "0002-Two.mp3")); !os.IsNotExist(err) {
		t.Errorf("failed chapter left a file: %v", err)
	}
}

func TestGenerator_RetriesRateLimit(t *testing.T) {
	dir := t.TempDir()
	synth := newFakeSynth()
	synth.limitFor = 2
	g := NewGenerator(GeneratorConfig{Synth: synth, MaxRetries: 3, RetryDelay: time.Millisecond})

	report, err := g.Generate(context.Background(), dir, testChapters()[:1], nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Written != 1 {
		t.Fatalf("report = %+v", report)
	}
	if synth.total.Load() != 3 {
		t.Errorf("synth calls = %d, want 3", synth.total.Load())
	}

	t.Run("exhausted", func(t *testing.T) {
		synth := newFakeSynth()
		synth.limitFor = 10
		g := NewGenerator(GeneratorConfig{Synth: synth, MaxRetries: 2, RetryDelay: time.Millisecond})
		report, err := g.Generate(context.Background(), t.TempDir(), testChapters()[:1], nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(report.Failures) != 1 {
			t.Fatalf("report = %+v", report)
		}
		if synth.total.Load() != 3 {
			t.Errorf("synth calls = %d, want 3", synth.total.Load())
		}
	})
}

func TestGenerator_Empty(t *testing.T) {
	g := NewGenerator(GeneratorConfig{Synth: newFakeSynth()})
	report, err := g.Generate(context.Background(), t.TempDir(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Done() != 0 {
		t.Errorf("Done() = %d", report.Done())
	}
}
