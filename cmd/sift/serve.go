package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/sift/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sift server",
	Long: `Start the sift HTTP server.

The server opens the usage ledger (SQLite in the home directory unless
ledger.dsn points elsewhere) and, when cache.redis_url is set, the result
cache. Provider settings reload when the config file changes.

The server provides:
  - /health         - Basic server health check
  - /ready          - Readiness check (includes ledger status)
  - /status         - Providers, defaults, ledger and cache
  - /v1/extract     - Run an extraction
  - /v1/schemas     - Schemas in {home}/schemas
  - /v1/usage       - Token usage by metering key
  - /v1/llmcalls    - Recorded gateway calls

Examples:
  sift serve                    # Start on the configured port (default 8080)
  sift serve --port 3000        # Start on custom port
  sift serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession()
		if err != nil {
			return err
		}
		if err := s.home.EnsureExists(); err != nil {
			return err
		}

		cfg := s.config.Get()
		host, port := cfg.Server.Host, cfg.Server.Port
		if cmd.Flags().Changed("host") || host == "" {
			host = serveHost
		}
		if cmd.Flags().Changed("port") || port == "" {
			port = servePort
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			ConfigManager: s.config,
			Home:          s.home,
			Logger:        s.logger,
		})
		if err != nil {
			return err
		}
		s.config.WatchConfig()

		// Start server (blocks until shutdown)
		return srv.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
