package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/api"
	"github.com/jackzampolin/quire/internal/server/endpoints"
	"github.com/jackzampolin/quire/internal/source"
	"github.com/jackzampolin/quire/internal/types"
	"github.com/jackzampolin/quire/internal/updates"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check downloaded books for new chapters",
	Long: `Compare every downloaded book against its remote chapter list.

Books marked with "quire api updates ignore" are listed but not compared.
Prints a table unless -o yaml or -o json is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("output") {
			api.SetOutputFormat(string(api.OutputFormatTable))
		}
		logger := newLogger()

		_, mgr, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := mgr.Get()
		src, err := source.NewFromConfig(cfg, logger)
		if err != nil {
			return err
		}

		report, err := updates.New(updates.Config{Root: cfg.SavePath, Source: src, Logger: logger}).Check(cmd.Context())
		if err != nil {
			return err
		}
		return endpoints.OutputUpdates(report)
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview <book_id|url>",
	Short: "Show a book's metadata and chapter count without downloading",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		bookID, ok := types.ParseBookID(args[0])
		if !ok {
			return fmt.Errorf("cannot find a book id in %q", args[0])
		}
		_, mgr, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := mgr.Get()
		src, err := source.NewFromConfig(cfg, logger)
		if err != nil {
			return err
		}

		resp, err := endpoints.BuildPreview(cmd.Context(), src, cfg.SavePath, bookID)
		if err != nil {
			return err
		}
		return api.Output(resp)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(previewCmd)
}
