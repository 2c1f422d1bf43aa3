package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"autoqc/internal/preflight"
	"autoqc/internal/store"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, free space, external tools, and collaborators",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cfg)
			results = append(results,
				storeCheck(cmd.Context(), preflight.CheckStoreFromConfig(cfg), func(c context.Context) error {
					st, err := store.Open(cfg)
					if err != nil {
						return err
					}
					defer st.Close()
					return st.Ping(c)
				}),
				preflight.CheckNotificationsFromConfig(cfg),
				preflight.CheckBackupFromConfig(cfg),
			)

			if ctx.JSONMode() {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
				return preflight.FirstFailure(results)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, r := range results {
				fmt.Fprintln(out, preflightLine(r, colorize))
			}
			return preflight.FirstFailure(results)
		},
	}
}

// storeCheck confirms the configured backend is reachable.
func storeCheck(ctx context.Context, summary preflight.Result, ping func(context.Context) error) preflight.Result {
	if !summary.Passed {
		return summary
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := ping(pingCtx); err != nil {
		summary.Passed = false
		summary.Detail = fmt.Sprintf("%s: %v", summary.Detail, err)
	}
	return summary
}
