package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/Sawmill/pkg/concurrency"
	"github.com/wehubfusion/Sawmill/pkg/runner"
)

const localOutput = "stdout"

func newRunCmd(a *app) *cobra.Command {
	var (
		path    string
		input   string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process JSON-lines documents from a file or stdin",
		Long: "Reads one JSON document per line, runs the pipeline over each and writes\n" +
			"processed documents to stdout. A summary is written to stderr.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conc := concurrency.LoadConfig()
			eng, err := loadEngine(path, conc, engineHooks{}, a.logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			var in io.Reader = cmd.InOrStdin()
			name := "stdin"
			if input != "" && input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("failed to open input: %w", err)
				}
				defer f.Close()
				in, name = f, input
			}

			r, err := runner.New(
				runner.NewLineSource(name, in),
				runner.NewWriterPublisher(cmd.OutOrStdout(), localOutput),
				eng.executor,
				eng.pipeline,
				runner.Config{
					OutputSubject: localOutput,
					Workers:       workers,
					BatchSize:     conc.BatchSize,
				},
				runner.WithLogger(a.logger),
			)
			if err != nil {
				return err
			}
			if err := r.Run(cmd.Context()); err != nil {
				return err
			}

			stats := r.Stats()
			totals := eng.totals.Totals()
			fmt.Fprintf(cmd.ErrOrStderr(),
				"documents=%d succeeded=%d failed=%d unexpected=%d malformed=%d overtime=%d\n",
				stats.Received, stats.Succeeded, stats.Failed, stats.Unexpected, stats.Malformed, totals.Overtime)

			if bad := stats.Unexpected + stats.Malformed; bad > 0 {
				return fmt.Errorf("%d documents could not be processed", bad)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&path, "pipeline", "p", "", "Pipeline definition file (required)")
	f.StringVarP(&input, "input", "i", "-", "JSON-lines input file, - for stdin")
	f.IntVarP(&workers, "workers", "w", 1, "Concurrent workers; output order is kept only with 1")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}
