package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wehubfusion/Sawmill/pkg/concurrency"
)

// version is set at build time via -ldflags.
var version = "dev"

type app struct {
	logLevel string
	dev      bool

	logger    *zap.Logger
	undoProcs func()
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "sawmill",
		Short: "Run document pipelines",
		Long: "Sawmill applies ordered processing steps to JSON documents, with guarded\n" +
			"steps, failure remediation and an overtime watchdog.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.Version = version

	f := root.PersistentFlags()
	f.StringVar(&a.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.BoolVar(&a.dev, "dev", false, "Human-readable development logging")

	root.AddCommand(newValidateCmd(a))
	root.AddCommand(newRunCmd(a))
	root.AddCommand(newServeCmd(a))
	return root
}

func (a *app) init() error {
	level, err := zapcore.ParseLevel(strings.ToLower(a.logLevel))
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if a.dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	a.logger = logger.Named("sawmill")
	a.undoProcs = concurrency.InitializeMaxProcs(a.logger)
	return nil
}

func (a *app) close() {
	if a.undoProcs != nil {
		a.undoProcs()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
