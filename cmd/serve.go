package main

import (
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the outreach API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initApp(ctx, config.ScopeServe)
		if err != nil {
			return err
		}
		defer env.Close()

		deps := server.Deps{
			Store:     env.Store,
			Enricher:  env.Enricher,
			Outreach:  env.Outreach,
			Scheduler: env.Scheduler,
			Metrics:   env.Metrics,
			Gatherer:  prometheus.DefaultGatherer,
		}
		// A nil *ingest.Ingester must stay a nil interface.
		if env.Ingester != nil {
			deps.Ingester = env.Ingester
		}

		return server.New(deps).ListenAndServe(ctx, cfg.Server.Port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
