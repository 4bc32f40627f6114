package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wehubfusion/Sawmill/pkg/config"
	"github.com/wehubfusion/Sawmill/pkg/processors"
)

func newValidateCmd(a *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a pipeline definition without running it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, p, err := config.Load(path, processors.NewRegistry())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pipeline %s (%s): %d steps\n", p.ID(), p.Name(), p.Len())
			for i, step := range p.Steps() {
				guard := ""
				if step.Condition != nil {
					guard = " [guarded]"
				}
				fmt.Fprintf(out, "  %d. %s: %s%s", i+1, step.Name, step.Processor.Type(), guard)
				if n := len(step.OnFailure); n > 0 {
					fmt.Fprintf(out, " (%d remediation)", n)
				}
				fmt.Fprintln(out)
			}
			if p.IgnoreFailure() {
				fmt.Fprintln(out, "Failures are ignored")
			}
			if def.Watchdog != nil {
				fmt.Fprintf(out, "Watchdog threshold: %s\n", def.Watchdog.Threshold.Duration())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "pipeline", "p", "", "Pipeline definition file (required)")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}
