// Package fetch retrieves chapter bodies in bounded-concurrency batches with
// retry and backoff, handing each fetched chapter to a sink as it arrives.
package fetch

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/source"
	"github.com/jackzampolin/quire/internal/types"
)

// Sink receives chapters as batches complete. Calls may arrive concurrently
// and out of ordinal order.
type Sink interface {
	// Persist stores a fetched chapter body. An error marks the chapter failed.
	Persist(ctx context.Context, ch types.Chapter) error

	// Commit records the chapters of one batch that were persisted. It is
	// called at most once per batch. An error marks them all failed.
	Commit(ctx context.Context, refs []types.ChapterRef) error

	// Fail records chapters that could not be fetched.
	Fail(ctx context.Context, refs []types.ChapterRef, err error)
}

// Config configures an Engine.
type Config struct {
	Source     source.Source
	Workers    int           // Concurrent batches (default: 1)
	BatchSize  int           // Chapters per batch (default and cap: source.MaxBatchSize)
	MaxRetries int           // Retries per batch after the first attempt
	MinWait    time.Duration // Lower bound of the random retry wait
	MaxWait    time.Duration // Upper bound of the random retry wait

	// MaxRetryAfter caps a server-requested Retry-After (default: one minute).
	MaxRetryAfter time.Duration

	Logger *slog.Logger
}

// ConfigFrom maps the user configuration onto an engine config.
func ConfigFrom(cfg *config.Config, src source.Source, logger *slog.Logger) Config {
	lo, hi := cfg.WaitBounds()
	return Config{
		Source:        src,
		Workers:       cfg.MaxWorkers,
		MaxRetries:    cfg.MaxRetries,
		MinWait:       lo,
		MaxWait:       hi,
		MaxRetryAfter: cfg.RetryAfterLimit(),
		Logger:        logger,
	}
}

// Engine runs chunked fetches.
type Engine struct {
	src        source.Source
	workers    int
	batchSize  int
	maxRetries int
	delay      retry.DelayTypeFunc
	logger     *slog.Logger
}

// New creates a fetch engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > source.MaxBatchSize {
		batchSize = source.MaxBatchSize
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Engine{
		src:        cfg.Source,
		workers:    workers,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		delay:      Backoff(cfg.MinWait, cfg.MaxWait, cfg.MaxRetryAfter),
		logger:     logger,
	}
}

// Request describes one fetch run.
type Request struct {
	Chapters []types.ChapterRef
	Token    *Token
	Sink     Sink
}

// Result summarizes a fetch run.
type Result struct {
	Outcomes map[string]types.Outcome
	Fetched  int
	Failed   int
	Pending  int
	Canceled bool
}

// Run fetches every chapter in req. It returns once all dispatched batches
// have completed; chapters never dispatched stay pending.
func (e *Engine) Run(ctx context.Context, req Request) *Result {
	token := req.Token
	if token == nil {
		token = NewToken()
	}

	var mu sync.Mutex
	outcomes := make(map[string]types.Outcome, len(req.Chapters))
	for _, ref := range req.Chapters {
		outcomes[ref.ID] = types.OutcomePending
	}
	record := func(id string, o types.Outcome) {
		mu.Lock()
		outcomes[id] = o
		mu.Unlock()
	}

	batches := Partition(req.Chapters, e.batchSize)
	slots := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	canceled := false

dispatch:
	for i, batch := range batches {
		if token.Canceled() || ctx.Err() != nil {
			canceled = true
			break
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			canceled = true
			break dispatch
		}

		// The token may have been set while waiting for a slot.
		if token.Canceled() {
			<-slots
			canceled = true
			break
		}

		wg.Add(1)
		go func(n int, batch []types.ChapterRef) {
			defer func() {
				<-slots
				wg.Done()
			}()
			e.runBatch(ctx, n, batch, req.Sink, record)
		}(i, batch)
	}

	wg.Wait()

	res := &Result{Outcomes: outcomes, Canceled: canceled}
	for _, o := range outcomes {
		switch o {
		case types.OutcomeFetched:
			res.Fetched++
		case types.OutcomeFailed:
			res.Failed++
		default:
			res.Pending++
		}
	}
	return res
}

func (e *Engine) runBatch(ctx context.Context, n int, batch []types.ChapterRef, sink Sink, record func(string, types.Outcome)) {
	ids := make([]string, len(batch))
	for i, ref := range batch {
		ids[i] = ref.ID
	}
	logger := e.logger.With("batch", n, "size", len(batch))

	var bodies map[string]source.Body
	err := retry.Do(
		func() error {
			var err error
			bodies, err = e.src.Batch(ctx, ids)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(e.maxRetries)+1),
		retry.RetryIf(source.IsTransient),
		retry.DelayType(e.delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			logger.Warn("batch failed, retrying", "attempt", attempt+1, "error", err)
		}),
	)
	if err != nil {
		logger.Error("batch failed", "error", err)
		for _, ref := range batch {
			record(ref.ID, types.OutcomeFailed)
		}
		if sink != nil {
			sink.Fail(ctx, batch, err)
		}
		return
	}

	var missing, persisted []types.ChapterRef
	for _, ref := range batch {
		body, ok := bodies[ref.ID]
		if !ok || body.Content == "" {
			missing = append(missing, ref)
			record(ref.ID, types.OutcomeFailed)
			continue
		}

		ch := types.Chapter{
			ID:      ref.ID,
			Index:   ref.Index,
			Title:   ref.Title,
			Body:    body.Content,
			Outcome: types.OutcomeFetched,
		}
		if ch.Title == "" {
			ch.Title = body.Title
		}
		if sink != nil {
			if err := sink.Persist(ctx, ch); err != nil {
				logger.Error("failed to persist chapter", "chapter_id", ref.ID, "error", err)
				record(ref.ID, types.OutcomeFailed)
				sink.Fail(ctx, []types.ChapterRef{ref}, err)
				continue
			}
		}
		persisted = append(persisted, ref)
	}

	if sink != nil && len(persisted) > 0 {
		if err := sink.Commit(ctx, persisted); err != nil {
			logger.Error("failed to record batch", "count", len(persisted), "error", err)
			for _, ref := range persisted {
				record(ref.ID, types.OutcomeFailed)
			}
			sink.Fail(ctx, persisted, err)
			persisted = nil
		}
	}
	for _, ref := range persisted {
		record(ref.ID, types.OutcomeFetched)
	}

	if len(missing) > 0 {
		logger.Warn("chapters missing from batch response", "count", len(missing))
		if sink != nil {
			sink.Fail(ctx, missing, errMissingBody)
		}
	}
}

// Backoff returns a retry delay drawn uniformly from [lo, hi] and extended
// to the server's Retry-After when that is longer, never beyond limit.
// A non-positive limit means one minute.
func Backoff(lo, hi, limit time.Duration) retry.DelayTypeFunc {
	if hi < lo {
		hi = lo
	}
	if limit <= 0 {
		limit = time.Minute
	}
	return func(_ uint, err error, _ *retry.Config) time.Duration {
		d := lo
		if span := hi - lo; span > 0 {
			d += time.Duration(rand.Int64N(int64(span) + 1))
		}
		if ra := source.RetryAfter(err); ra > d {
			d = min(ra, max(limit, d))
		}
		return d
	}
}

// Partition splits refs into consecutive batches of at most size.
func Partition(refs []types.ChapterRef, size int) [][]types.ChapterRef {
	if size <= 0 {
		size = source.MaxBatchSize
	}
	var out [][]types.ChapterRef
	for start := 0; start < len(refs); start += size {
		end := start + size
		if end > len(refs) {
			end = len(refs)
		}
		out = append(out, refs[start:end])
	}
	return out
}
