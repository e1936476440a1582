package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <query>",
	Short: "Search Google Places and store new leads",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, config.ScopeIngest)
		if err != nil {
			return err
		}
		defer env.Close()

		query := strings.Join(args, " ")
		res, err := env.Ingester.Run(ctx, query)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}
		zap.L().Info("ingest complete",
			zap.String("query", query),
			zap.Int("created", res.Created),
			zap.Int("skipped", res.Skipped),
		)
		return writeJSON(os.Stdout, res)
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Scrape websites of Found leads for contact emails",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, config.ScopeEnrich)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Enricher.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "enrich")
		}
		return writeJSON(os.Stdout, res)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Send due follow-ups and close stale leads",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, config.ScopeSweep)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Scheduler.Sweep(ctx)
		if err != nil {
			return eris.Wrap(err, "sweep")
		}
		return writeJSON(os.Stdout, res)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the lead store schema",

	Annotations: storeOnly(config.ScopeMigrate),
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		zap.L().Info("store migrated", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(migrateCmd)
}
