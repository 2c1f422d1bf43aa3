// Command autoqcd monitors a single acquisition run. It is normally started
// in the background by `autoqc run submit` and exits once the run completes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"autoqc/internal/config"
	"autoqc/internal/monitor"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFlag  string
		logLevel    string
		development bool
	)

	cmd := &cobra.Command{
		Use:           "autoqcd ACQUISITION_PATH INSTRUMENT_ID RUN_ID",
		Short:         "Monitor one acquisition run and classify its samples",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(strings.TrimSpace(configFlag))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return monitor.Run(cmd.Context(), cfg, monitor.Options{
				AcquisitionPath: args[0],
				InstrumentID:    args[1],
				RunID:           args[2],
				LogLevel:        logLevel,
				Development:     development,
			})
		},
	}

	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in log output")
	return cmd
}
