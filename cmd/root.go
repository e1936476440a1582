package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

// scopeAnnotation marks commands that only open the store. Root validates
// their config before RunE; pipeline commands validate in initApp.
const scopeAnnotation = "outreach/scope"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "outreach-cli",
	Short: "Lead generation and email outreach pipeline",
	Long:  "Finds clinics through Google Places, scrapes their websites for contact emails, sends personalized outreach, and follows up on a fixed cadence.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyFlagOverrides(cmd.Flags(), c)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if scope, ok := commandScope(cmd); ok {
			if err := cfg.Validate(scope); err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// applyFlagOverrides copies explicitly set persistent flags over the loaded
// config.
func applyFlagOverrides(flags *pflag.FlagSet, c *config.Config) {
	if flags.Changed("store-driver") {
		c.Store.Driver, _ = flags.GetString("store-driver")
	}
	if flags.Changed("database-url") {
		c.Store.DatabaseURL, _ = flags.GetString("database-url")
	}
	if flags.Changed("log-level") {
		c.Log.Level, _ = flags.GetString("log-level")
	}
}

func commandScope(cmd *cobra.Command) (config.Scope, bool) {
	s, ok := cmd.Annotations[scopeAnnotation]
	return config.Scope(s), ok
}

func storeOnly(scope config.Scope) map[string]string {
	return map[string]string{scopeAnnotation: string(scope)}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("store-driver", "", "override store.driver (sqlite or postgres)")
	pf.String("database-url", "", "override store.database_url")
	pf.String("log-level", "", "override log.level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
