package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/quire/internal/archive"
	"github.com/jackzampolin/quire/internal/audio"
	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/fetch"
	"github.com/jackzampolin/quire/internal/render"
	"github.com/jackzampolin/quire/internal/source"
	"github.com/jackzampolin/quire/internal/types"
)

// run drives one job from queued to a terminal state.
func (s *Scheduler) run(job *Job) {
	defer s.wg.Done()

	if !job.start() {
		return
	}
	s.publish(job)

	var cfg *config.Config
	if s.cfg != nil {
		cfg = s.cfg.Get()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	src := s.Source()
	logger := s.logger.With("job_id", job.ID, "book_id", job.BookID)
	ctx := context.Background()

	state, message := s.execute(ctx, job, cfg, src, logger)
	s.finish(job, state, message)
}

func (s *Scheduler) execute(ctx context.Context, job *Job, cfg *config.Config, src source.Source, logger *slog.Logger) (State, string) {
	if src == nil {
		return StateFailed, "no source configured"
	}

	dir, err := fetchDirectory(ctx, src, cfg, job.BookID, logger)
	if err != nil {
		return StateFailed, fmt.Sprintf("directory fetch failed: %v", err)
	}
	if job.token.Canceled() {
		return StateCanceled, "canceled"
	}

	meta := dir.Meta
	if meta.BookID == "" {
		meta.BookID = job.BookID
	}
	job.setBook(meta.NameByField(config.NameFieldBookName), meta.Author)

	refs := job.Range.Apply(dir.Chapters)
	if len(refs) == 0 {
		return StateFailed, fmt.Sprintf("range %d-%d is outside the directory of %d chapters",
			job.Range.Start, job.Range.End, len(dir.Chapters))
	}

	store, err := archive.Open(ctx, cfg.SavePath, meta)
	if err != nil {
		return StateFailed, fmt.Sprintf("archive unavailable: %v", err)
	}
	status, err := store.Status()
	if err != nil {
		return StateFailed, fmt.Sprintf("archive unavailable: %v", err)
	}

	todo, saved := plan(job.Mode, refs, status, store)
	job.setCounts(len(refs), saved)
	s.publish(job)
	logger.Info("fetch planned", "mode", job.Mode, "chapters", len(refs), "saved", saved, "to_fetch", len(todo))

	pipeline := render.New(render.Config{
		Store:     store,
		Config:    cfg,
		Source:    src,
		Overwrite: job.Mode == ModeFull,
		OnCommit: func(types.ChapterRef) {
			job.saved.Add(1)
			job.touch()
			s.publish(job)
		},
		Logger: logger,
	})
	sink := &progressSink{Pipeline: pipeline, job: job, s: s}

	if len(todo) > 0 {
		engine := fetch.New(fetch.ConfigFrom(cfg, src, logger))
		res := engine.Run(ctx, fetch.Request{Chapters: todo, Token: job.token, Sink: sink})
		logger.Info("fetch finished", "fetched", res.Fetched, "failed", res.Failed, "pending", res.Pending, "canceled", res.Canceled)
		if res.Canceled {
			return StateCanceled, fmt.Sprintf("canceled after %d of %d chapters", job.saved.Load(), len(refs))
		}
	}
	if job.token.Canceled() {
		return StateCanceled, "canceled"
	}

	total := int64(len(refs))
	savedNow := job.saved.Load()
	if savedNow == 0 {
		return StateFailed, fmt.Sprintf("%d chapters failed", total)
	}

	name, ok := s.chooseName(job, meta, cfg)
	if !ok {
		return StateCanceled, "canceled"
	}
	job.setBook(name, meta.Author)

	job.setPhase(PhaseRender)
	s.publish(job)
	out, err := pipeline.Finalize(ctx, meta, refs, name)
	if err != nil {
		logger.Error("render failed", "error", err)
		return StateFailed, fmt.Sprintf("render failed: %v", err)
	}
	job.setOutput(out.Path)

	var notes []string
	if out.Missing > 0 {
		notes = append(notes, fmt.Sprintf("%d chapters missing from output", out.Missing))
	}
	if cfg.Audiobook.Enabled && len(out.Chapters) > 0 {
		job.setPhase(PhaseAudio)
		s.publish(job)
		failed, err := s.runAudio(job, cfg, store.Dir(), out.Chapters, logger)
		if job.token.Canceled() {
			return StateCanceled, "canceled during audio generation"
		}
		if err != nil {
			notes = append(notes, fmt.Sprintf("audio failed: %v", err))
		} else if failed > 0 {
			notes = append(notes, fmt.Sprintf("%d audio files failed", failed))
		}
	}

	if missing := total - min(job.saved.Load(), total); missing > 0 {
		return StatePartial, joinMessage(fmt.Sprintf("%d chapters failed", missing), notes)
	}
	if out.Missing > 0 {
		return StatePartial, joinMessage(fmt.Sprintf("saved %d chapters", total), notes)
	}
	return StateDone, joinMessage(fmt.Sprintf("saved %d chapters, %d written", total, pipeline.Written()), notes)
}

func joinMessage(head string, notes []string) string {
	for _, n := range notes {
		head += "; " + n
	}
	return head
}

// plan picks the chapters to fetch for a mode and counts those already saved.
func plan(mode Mode, refs []types.ChapterRef, status *archive.Status, store *archive.Store) (todo []types.ChapterRef, saved int) {
	for _, ref := range refs {
		onDisk := status.Saved(ref.ID) && store.HasChapter(ref.ID)
		switch mode {
		case ModeFull:
			todo = append(todo, ref)
		case ModeFailedOnly:
			if onDisk {
				saved++
			} else if e, ok := status.Downloaded[ref.ID]; ok && !e.OK {
				todo = append(todo, ref)
			}
		default:
			if onDisk {
				saved++
			} else {
				todo = append(todo, ref)
			}
		}
	}
	return todo, saved
}

// fetchDirectory retrieves the book directory, retrying transient errors with
// the same wait bounds as batch fetches.
func fetchDirectory(ctx context.Context, src source.Source, cfg *config.Config, bookID string, logger *slog.Logger) (*types.Directory, error) {
	lo, hi := cfg.WaitBounds()
	var dir *types.Directory
	err := retry.Do(
		func() error {
			d, err := src.Directory(ctx, bookID)
			if err != nil {
				if !source.IsTransient(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			dir = d
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(max(cfg.MaxRetries, 0))+1),
		retry.LastErrorOnly(true),
		retry.DelayType(fetch.Backoff(lo, hi, cfg.RetryAfterLimit())),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("directory fetch retry", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	if len(dir.Chapters) == 0 {
		return nil, source.ErrEmptyDirectory
	}
	return dir, nil
}

// chooseName resolves the display name. With ask_after_download and more
// than one candidate the job parks until Resolve or Cancel. ok is false when
// canceled while parked.
func (s *Scheduler) chooseName(job *Job, meta types.BookMeta, cfg *config.Config) (string, bool) {
	if cfg.PreferredBookNameField != config.NameFieldAskAfterFetch {
		return meta.NameByField(cfg.PreferredBookNameField), true
	}
	current := meta.NameByField(config.NameFieldBookName)
	opts := meta.NameOptions()
	if len(opts) < 2 {
		return current, true
	}

	job.setOptions(opts)
	s.publish(job)
	defer job.setOptions(nil)

	select {
	case v := <-job.choice:
		if v == "" {
			return current, true
		}
		return v, true
	case <-job.token.Done():
		return "", false
	}
}

func (s *Scheduler) runAudio(job *Job, cfg *config.Config, bookDir string, chapters []render.Rendered, logger *slog.Logger) (int, error) {
	var gen *audio.Generator
	if s.synth != nil {
		gen = audio.NewGenerator(audio.GeneratorConfig{
			Synth:       s.synth,
			Format:      cfg.Audiobook.Format,
			Concurrency: cfg.Audiobook.Concurrency,
			Overwrite:   cfg.AllowOverwriteFiles,
			Logger:      logger,
		})
	} else {
		gen = audio.FromConfig(cfg, logger)
	}
	if gen == nil {
		return 0, errors.New("audiobook disabled")
	}

	input := make([]audio.Chapter, len(chapters))
	for i, ch := range chapters {
		input[i] = audio.Chapter{Index: ch.Index, Title: ch.Title, Body: ch.Body}
	}
	job.audioTotal.Store(int64(len(input)))
	job.audioDone.Store(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-job.token.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	report, err := gen.Generate(ctx, bookDir, input, func(done, _ int) {
		storeMax(&job.audioDone, int64(done))
		job.touch()
		s.publish(job)
	})
	if err != nil {
		return 0, err
	}
	return len(report.Failures), nil
}

// storeMax raises v to n, never lowering it.
func storeMax(v *atomic.Int64, n int64) {
	for {
		cur := v.Load()
		if n <= cur || v.CompareAndSwap(cur, n) {
			return
		}
	}
}

// progressSink counts failures on top of the rendering pipeline.
type progressSink struct {
	*render.Pipeline
	job *Job
	s   *Scheduler
}

func (p *progressSink) Fail(ctx context.Context, refs []types.ChapterRef, cause error) {
	p.Pipeline.Fail(ctx, refs, cause)
	p.job.failed.Add(int64(len(refs)))
	p.job.touch()
	p.s.publish(p.job)
}

var _ fetch.Sink = (*progressSink)(nil)
