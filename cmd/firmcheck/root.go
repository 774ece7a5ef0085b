package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/firmcheck/internal/config"
	"github.com/rsclarke/firmcheck/internal/logging"
)

var (
	logger *zap.Logger
	cfg    *config.Config
)

var rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

var rootCmd = &cobra.Command{
	Use:   "firmcheck",
	Short: "Verify that a company exists",
	Long: `firmcheck researches whether a named company exists. It validates the
company's candidate web domains (format, DNS, HTTP(S) reachability), judges
whether each reachable domain belongs to the company, asks a language model
for a name-based opinion, and merges the evidence into a verdict with a
confidence level. Results are cached.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(rootFlags.configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = rootFlags.logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Log.Format = rootFlags.logFormat
		}

		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", os.Getenv("FIRMCHECK_CONFIG"), "path to a YAML config file")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	pf.StringVar(&rootFlags.logFormat, "log-format", "", "log format (json|console)")
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
