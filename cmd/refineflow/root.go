package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/refineflow/orchestrator/internal/config"
)

// cli holds what every subcommand shares once the root pre-run has loaded
// the configuration.
type cli struct {
	configPath string
	settings   *config.Settings
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "refineflow",
		Short:         "Token-budgeted prompt orchestration and state merging",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(s.Logging)
			if err != nil {
				return err
			}
			c.settings = s
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Config file (default "+config.DefaultPath+")")

	root.AddCommand(
		c.modelsCmd(),
		c.budgetCmd(),
		c.promptCmd(),
		c.runCmd(),
		c.finalizeCmd(),
		c.historyCmd(),
		c.healthCmd(),
		c.templatesCmd(),
	)
	return root
}

// newLogger builds the process logger. Logs go to stderr so command output
// on stdout stays machine readable.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
