package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/home"
)

// Chapter is the narration input for one chapter.
type Chapter struct {
	Index int
	Title string
	Body  string
}

// Failure records a chapter that could not be synthesized.
type Failure struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Error string `json:"error"`
}

// Report summarizes one generation run.
type Report struct {
	Dir      string    `json:"dir"`
	Written  int       `json:"written"`
	Skipped  int       `json:"skipped"`
	Failures []Failure `json:"failures,omitempty"`
}

// Done is the number of chapters that have an audio file after the run.
func (r *Report) Done() int {
	return r.Written + r.Skipped
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	Synth       Synthesizer
	Format      string
	Concurrency int  // default 24
	Overwrite   bool // re-synthesize chapters that already have a file
	MaxRetries  int  // rate-limit retries per chapter (default 5)
	RetryDelay  time.Duration
	Logger      *slog.Logger
}

// Generator synthesizes chapters with a worker pool of its own, independent of
// the fetch workers.
type Generator struct {
	synth       Synthesizer
	format      string
	concurrency int
	overwrite   bool
	maxRetries  int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	format := cfg.Format
	if format == "" {
		format = "mp3"
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 24
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &Generator{
		synth:       cfg.Synth,
		format:      format,
		concurrency: concurrency,
		overwrite:   cfg.Overwrite,
		maxRetries:  maxRetries,
		retryDelay:  delay,
		logger:      logger.With("component", "audio", "format", format),
	}
}

// FromConfig builds a Generator backed by the OpenAI speech client.
// It returns nil when audiobooks are disabled.
func FromConfig(cfg *config.Config, logger *slog.Logger) *Generator {
	ab := cfg.Audiobook
	if !ab.Enabled {
		return nil
	}
	synth := NewOpenAIClient(OpenAIConfig{
		APIKey:       cfg.ResolvedAudioToken(),
		BaseURL:      ab.APIURL,
		Model:        ab.Model,
		Voice:        ab.Voice,
		Speed:        ParseRate(ab.Rate),
		Instructions: Instructions(ab.Volume, ab.Pitch),
	})
	return NewGenerator(GeneratorConfig{
		Synth:       synth,
		Format:      ab.Format,
		Concurrency: ab.Concurrency,
		Overwrite:   cfg.AllowOverwriteFiles,
		Logger:      logger,
	})
}

// FileName returns the audio file name for a chapter.
func (g *Generator) FileName(ch Chapter) string {
	return home.ChapterFileName(ch.Index, "-", ch.Title, g.format)
}

// Generate writes one audio file per chapter under <bookDir>/audio. Failures
// are recorded per chapter and never stop the others. progress is called
// with (done, total) after every chapter and may be nil.
func (g *Generator) Generate(ctx context.Context, bookDir string, chapters []Chapter, progress func(done, total int)) (*Report, error) {
	dir := home.AudioDir(bookDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}

	report := &Report{Dir: dir}
	total := len(chapters)
	if total == 0 {
		return report, nil
	}

	queue := make(chan Chapter, total)
	for _, ch := range chapters {
		queue <- ch
	}
	close(queue)

	var (
		mu      sync.Mutex
		done    atomic.Int64
		wg      sync.WaitGroup
		workers = min(g.concurrency, total)
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ch := range queue {
				written, err := g.one(ctx, dir, ch)
				mu.Lock()
				switch {
				case err != nil:
					report.Failures = append(report.Failures, Failure{Index: ch.Index, Title: ch.Title, Error: err.Error()})
				case written:
					report.Written++
				default:
					report.Skipped++
				}
				mu.Unlock()
				n := int(done.Add(1))
				if progress != nil {
					progress(n, total)
				}
			}
		}()
	}
	wg.Wait()

	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].Index < report.Failures[j].Index
	})
	g.logger.Info("audio generation finished",
		"dir", dir, "written", report.Written, "skipped", report.Skipped, "failed", len(report.Failures))
	return report, nil
}

func (g *Generator) one(ctx context.Context, dir string, ch Chapter) (bool, error) {
	path := filepath.Join(dir, g.FileName(ch))
	if !g.overwrite {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	text := Sanitize(ch.Title, ch.Body)
	var data []byte
	err := retry.Do(
		func() error {
			var err error
			data, err = g.synth.Synthesize(ctx, Request{Text: text, Format: g.format})
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(g.maxRetries)+1),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			_, ok := IsRateLimitError(err)
			return ok
		}),
		retry.DelayType(func(n uint, err error, cfg *retry.Config) time.Duration {
			if rle, ok := IsRateLimitError(err); ok && rle.RetryAfter > 0 {
				return rle.RetryAfter
			}
			return retry.BackOffDelay(n, err, cfg)
		}),
		retry.Delay(g.retryDelay),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Warn("speech rate limited, retrying", "chapter", ch.Index, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		g.logger.Error("chapter synthesis failed", "chapter", ch.Index, "title", ch.Title, "error", err)
		return false, err
	}

	if err := writeAtomic(path, data); err != nil {
		return false, err
	}
	return true, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".audio-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close audio file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move audio into place: %w", err)
	}
	return nil
}
