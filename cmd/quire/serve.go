package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quire server",
	Long: `Start the quire HTTP server.

The server owns the job scheduler. On shutdown (Ctrl+C or SIGTERM) the
listener stops first, then running jobs are cancelled; batches already in
flight finish and are saved, so the next run resumes from them.

The config file is watched; edits apply to jobs started afterwards.

Examples:
  quire serve                    # Listen on server.host:server.port from config
  quire serve --port 3000        # Start on custom port
  quire serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		h, mgr, err := loadConfig()
		if err != nil {
			return err
		}
		mgr.WatchConfig()

		cfg := mgr.Get()
		host, port := serveHost, servePort
		if host == "" {
			host = cfg.Server.Host
		}
		if port == "" {
			port = cfg.Server.Port
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			ConfigManager: mgr,
			Home:          h,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default: server.port)")

	rootCmd.AddCommand(serveCmd)
}
