package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/api"
	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/home"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			h, err := home.New(homeDir)
			if err != nil {
				return err
			}
			path = h.ConfigPath()
		}

		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("output") {
			api.SetOutputFormat(string(api.OutputFormatTable))
		}
		_, mgr, err := loadConfig()
		if err != nil {
			return err
		}

		entries := config.Entries(mgr.Get())
		rows := make([][]string, len(entries))
		for i, e := range entries {
			rows[i] = []string{e.Key, fmt.Sprint(e.Value), e.Description}
		}
		return api.OutputTable(entries,
			[]string{"Key", "Value", "Description"},
			rows,
			[]api.Alignment{api.AlignLeft, api.AlignLeft, api.AlignLeft},
		)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
