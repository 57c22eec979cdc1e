package main

import (
	"github.com/spf13/cobra"

	"github.com/hmis-ug/dhis2sql/internal/app"
)

var serveAddr string

// serveCmd runs the HTTP gateway until SIGINT or SIGTERM.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Long:  `Serve /v1/query, /v1/boundaries, /v1/test-connection, /v1/stats and /health until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.HTTP.Addr = serveAddr
		}

		a, err := app.New(cfg, logger)
		if err != nil {
			return err
		}
		if err := a.Start(cmd.Context()); err != nil {
			return err
		}
		logger.WithField("version", version).Info("dhis2sql started")
		return a.WaitForShutdown(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config, :8088)")
}
