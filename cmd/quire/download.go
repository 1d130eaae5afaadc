package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/api"
	"github.com/jackzampolin/quire/internal/archive"
	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/jobs"
	"github.com/jackzampolin/quire/internal/source"
	"github.com/jackzampolin/quire/internal/types"
)

var (
	downloadStart int
	downloadEnd   int
	downloadMode  string
	downloadName  string
)

var downloadCmd = &cobra.Command{
	Use:   "download <book_id|url>",
	Short: "Download a book in this process",
	Long: `Download a book without a server, using the persisted configuration.

Chapters already saved are skipped, so an interrupted download resumes
where it stopped. Ctrl+C cancels: batches in flight finish and are saved.

Examples:
  quire download 7143038691
  quire download 7143038691 --start 1 --end 50
  quire download 7143038691 --mode failed_only`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := downloadRequest(cmd, args[0])
		if err != nil {
			return err
		}
		return runLocalJob(cmd.Context(), req, func(*config.Config) error { return nil })
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <book_id>",
	Short: "Fetch new and failed chapters of a downloaded book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := downloadRequest(cmd, args[0])
		if err != nil {
			return err
		}
		return runLocalJob(cmd.Context(), req, func(cfg *config.Config) error {
			bookID, _ := types.ParseBookID(req.BookID)
			dir, err := archive.FindBookDir(cfg.SavePath, bookID)
			if err != nil {
				return err
			}
			if dir == "" {
				return fmt.Errorf("book %s has not been downloaded to %s", bookID, cfg.SavePath)
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{downloadCmd, updateCmd} {
		c.Flags().IntVar(&downloadStart, "start", 0, "First chapter (1-based, inclusive)")
		c.Flags().IntVar(&downloadEnd, "end", 0, "Last chapter (1-based, inclusive)")
		c.Flags().StringVar(&downloadMode, "mode", "", "resume, failed_only or full (default resume)")
		c.Flags().StringVar(&downloadName, "name", "", "Display name when preferred_book_name_field is ask_after_download")
		rootCmd.AddCommand(c)
	}
}

func downloadRequest(cmd *cobra.Command, bookID string) (jobs.Request, error) {
	mode, err := jobs.ParseMode(downloadMode)
	if err != nil {
		return jobs.Request{}, err
	}
	req := jobs.Request{BookID: bookID, Mode: mode}

	startSet, endSet := cmd.Flags().Changed("start"), cmd.Flags().Changed("end")
	if startSet || endSet {
		var start, end *int
		if startSet {
			start = &downloadStart
		}
		if endSet {
			end = &downloadEnd
		}
		if req.Range, err = jobs.NewRange(start, end); err != nil {
			return jobs.Request{}, err
		}
	}
	return req, nil
}

// runLocalJob runs one job on an in-process scheduler and prints its progress.
func runLocalJob(ctx context.Context, req jobs.Request, precheck func(*config.Config) error) error {
	logger := newLogger()

	_, mgr, err := loadConfig()
	if err != nil {
		return err
	}
	if err := precheck(mgr.Get()); err != nil {
		return err
	}
	src, err := source.NewFromConfig(mgr.Get(), logger)
	if err != nil {
		return err
	}

	s := jobs.New(jobs.Config{Source: src, Config: mgr, Logger: logger})
	defer s.Shutdown()

	progress, unsubscribe := s.Subscribe()
	defer unsubscribe()

	id, err := s.Submit(ctx, req)
	if err != nil {
		return err
	}

	done := make(chan jobs.View, 1)
	go func() {
		v, _ := s.Wait(context.Background(), id)
		done <- v
	}()

	p := &progressPrinter{}
	interrupted, resolved := false, false
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()
	choose := func(v jobs.View) {
		if len(v.PendingChoiceOptions) > 0 && !resolved {
			resolved = true
			resolveName(s, v, logger)
		}
	}
	for {
		select {
		case <-ctx.Done():
			if !interrupted {
				interrupted = true
				logger.Warn("interrupted, finishing in-flight batches")
				_ = s.Cancel(id)
			}
			ctx = context.Background()
		case v, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			if v.ID != id {
				continue
			}
			choose(v)
			p.print(v)
		case <-poll.C:
			// Progress events may be dropped for slow readers.
			if v, err := s.Get(id); err == nil {
				choose(v)
				p.print(v)
			}
		case v := <-done:
			p.finish()
			if err := api.Output(v); err != nil {
				return err
			}
			switch v.State {
			case jobs.StateFailed:
				return fmt.Errorf("download failed: %s", v.Message)
			case jobs.StateCanceled:
				return fmt.Errorf("download canceled: %s", v.Message)
			case jobs.StatePartial:
				logger.Warn("download incomplete; run again with --mode failed_only to retry", "message", v.Message)
			}
			return nil
		}
	}
}

// resolveName answers the name choice without prompting.
func resolveName(s *jobs.Scheduler, v jobs.View, logger *slog.Logger) {
	value := downloadName
	if value == "" {
		value = v.PendingChoiceOptions[0].Value
	}
	logger.Info("choosing display name", "name", value, "options", len(v.PendingChoiceOptions))
	if err := s.Resolve(v.ID, value); err != nil {
		logger.Warn("failed to choose display name", "error", err)
	}
}

// progressPrinter rewrites one status line on stderr.
type progressPrinter struct {
	last    string
	printed bool
}

func (p *progressPrinter) print(v jobs.View) {
	pr := v.Progress
	line := fmt.Sprintf("%s: %s/%s chapters saved", pr.Phase,
		humanize.Comma(pr.SavedChapters), humanize.Comma(pr.ChapterTotal))
	if pr.FailedChapters > 0 {
		line += fmt.Sprintf(", %s failed", humanize.Comma(pr.FailedChapters))
	}
	if pr.AudioTotal > 0 {
		line += fmt.Sprintf(", audio %d/%d", pr.AudioDone, pr.AudioTotal)
	}
	if line == p.last || pr.Phase == "" {
		return
	}
	p.last = line
	p.printed = true
	fmt.Fprintf(os.Stderr, "\r\033[K%s", line)
}

func (p *progressPrinter) finish() {
	if p.printed {
		fmt.Fprintln(os.Stderr)
	}
}
