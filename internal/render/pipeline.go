// Package render persists fetched chapters into the archive and assembles
// the final text or EPUB artifact in ordinal order.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/jackzampolin/quire/internal/archive"
	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/epub"
	"github.com/jackzampolin/quire/internal/fetch"
	"github.com/jackzampolin/quire/internal/home"
	"github.com/jackzampolin/quire/internal/source"
	"github.com/jackzampolin/quire/internal/types"
)

// Config configures a Pipeline.
type Config struct {
	Store  *archive.Store
	Config *config.Config // Snapshot taken when the job started
	Source source.Source  // Used to fetch covers and inline images; optional

	// Overwrite replaces chapters already saved. Defaults to
	// Config.AllowOverwriteFiles.
	Overwrite bool

	// OnCommit is called for each chapter once it is recorded as saved.
	OnCommit func(types.ChapterRef)

	Logger *slog.Logger
}

// Pipeline is the rendering pipeline of one job.
type Pipeline struct {
	store     *archive.Store
	cfg       *config.Config
	src       source.Source
	tmpl      *Template
	overwrite bool
	onCommit  func(types.ChapterRef)
	logger    *slog.Logger

	persisted atomic.Int64
	skipped   atomic.Int64
}

// Output describes the artifacts written by Finalize.
type Output struct {
	Path     string     // Aggregate file, EPUB, or per-chapter directory
	Chapters []Rendered // Rendered chapters in ordinal order
	Missing  int        // Chapters in the directory with no saved body
}

// New creates a pipeline. A template that cannot be loaded is logged and
// rendering proceeds with raw bodies.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := cfg.Config
	if c == nil {
		c = config.DefaultConfig()
	}

	p := &Pipeline{
		store:     cfg.Store,
		cfg:       c,
		src:       cfg.Source,
		overwrite: cfg.Overwrite || c.AllowOverwriteFiles,
		onCommit:  cfg.OnCommit,
		logger:    logger,
	}

	if c.Template.Enabled && c.Template.Path != "" {
		tmpl, err := LoadTemplate(c.Template.Path)
		if err != nil {
			logger.Warn("chapter template unavailable, using raw bodies", "path", c.Template.Path, "error", err)
		} else {
			p.tmpl = tmpl
		}
	}
	return p
}

// Persist saves a fetched chapter body. A chapter already on disk is left as
// is unless overwriting, so repeated runs write each chapter once. The
// chapter counts as saved only after Commit.
func (p *Pipeline) Persist(_ context.Context, ch types.Chapter) error {
	written, err := p.store.SaveChapter(ch, p.overwrite)
	if err != nil {
		return err
	}
	if written {
		p.persisted.Add(1)
	} else {
		p.skipped.Add(1)
	}
	return nil
}

// Commit records a batch of persisted chapters in one status update.
func (p *Pipeline) Commit(ctx context.Context, refs []types.ChapterRef) error {
	if err := p.store.RecordSaved(ctx, refs...); err != nil {
		return fmt.Errorf("failed to record %d chapters: %w", len(refs), err)
	}
	if p.onCommit != nil {
		for _, ref := range refs {
			p.onCommit(ref)
		}
	}
	return nil
}

// Fail records chapters that could not be fetched or saved.
func (p *Pipeline) Fail(ctx context.Context, refs []types.ChapterRef, cause error) {
	if err := p.store.RecordFailed(ctx, refs, cause); err != nil {
		p.logger.Error("failed to record failed chapters", "count", len(refs), "error", err)
	}
}

// Written returns how many chapter files this pipeline created or replaced.
func (p *Pipeline) Written() int64 {
	return p.persisted.Load()
}

// Skipped returns how many fetched chapters were already on disk.
func (p *Pipeline) Skipped() int64 {
	return p.skipped.Load()
}

// Finalize assembles the artifact from every saved chapter in refs, in
// ordinal order. name is the display name used for file names and the title.
func (p *Pipeline) Finalize(ctx context.Context, meta types.BookMeta, refs []types.ChapterRef, name string) (*Output, error) {
	if name == "" {
		name = meta.NameByField(config.NameFieldBookName)
	}

	out := &Output{}
	for _, ref := range refs {
		ch, err := p.store.LoadChapter(ref.ID)
		if err != nil {
			if !errors.Is(err, archive.ErrChapterNotSaved) {
				p.logger.Warn("failed to load chapter", "chapter_id", ref.ID, "error", err)
			}
			out.Missing++
			continue
		}
		out.Chapters = append(out.Chapters, p.renderChapter(ref, ch))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := p.store.Dir()
	var err error
	switch p.cfg.NovelFormat {
	case config.FormatText:
		if p.cfg.BulkFiles {
			var n int
			out.Path, n, err = writeBulk(dir, name, out.Chapters, p.cfg.IndentEm(), p.overwrite)
			p.logger.Info("wrote chapter files", "dir", out.Path, "written", n)
		} else {
			out.Path, err = writeAggregate(dir, name, meta, out.Chapters, p.cfg.IndentEm())
		}
	default:
		out.Path, err = p.writeEPUB(ctx, dir, name, meta, out.Chapters)
	}
	if err != nil {
		return nil, err
	}
	p.logger.Info("render finished", "path", out.Path, "chapters", len(out.Chapters),
		"missing", out.Missing, "written", p.Written(), "skipped", p.Skipped())
	return out, nil
}

// renderChapter applies the template, if any, to a saved chapter.
func (p *Pipeline) renderChapter(ref types.ChapterRef, ch *types.Chapter) Rendered {
	r := Rendered{ID: ref.ID, Index: ref.Index, Title: ref.Title, Body: ch.Body}
	if r.Title == "" {
		r.Title = ch.Title
	}
	if p.tmpl != nil {
		r.Body = p.tmpl.Execute(ChapterData{Title: r.Title, Index: r.Index, Content: ch.Body})
	}
	return r
}

func (p *Pipeline) writeEPUB(ctx context.Context, dir, name string, meta types.BookMeta, chapters []Rendered) (string, error) {
	book := epub.Book{
		ID:          meta.BookID,
		Title:       name,
		Author:      meta.Author,
		Description: meta.Description,
		Tags:        meta.Tags,
		Finished:    meta.Finished,
		IndentEm:    p.cfg.IndentEm(),
	}
	if p.src != nil && meta.CoverURL != "" {
		data, mediaType, err := p.src.Media(ctx, meta.CoverURL)
		if err != nil {
			p.logger.Debug("cover unavailable", "url", meta.CoverURL, "error", err)
		} else {
			book.Cover, book.CoverType = data, mediaType
		}
	}

	images := newImageStore(home.ImageCacheDir(dir), p.src, p.logger)
	sections := images.sections(ctx, chapters)
	book.Images = images.images()

	path := filepath.Join(dir, home.SafeName(name)+".epub")
	if err := epub.NewBuilder(book, sections).Build(path); err != nil {
		return "", fmt.Errorf("failed to build epub: %w", err)
	}
	return path, nil
}

var _ fetch.Sink = (*Pipeline)(nil)
