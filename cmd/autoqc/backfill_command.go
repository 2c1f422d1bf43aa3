package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"autoqc/internal/backup"
	"autoqc/internal/config"
	"autoqc/internal/coordinator"
	"autoqc/internal/fileutil"
	"autoqc/internal/logging"
	"autoqc/internal/notifications"
	"autoqc/internal/pipeline"
	"autoqc/internal/runctl"
	"autoqc/internal/staging"
	"autoqc/internal/store"
)

func newRunBackfillCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill INSTRUMENT_ID RUN_ID",
		Short: "Classify sample files already on disk without waiting for new ones",
		Long: `Process every unprocessed sample whose file already exists under the
run's acquisition path, in run order, then exit. Files are assumed to be fully
written. The run is finalized if its last sample ends up classified.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			instrumentID, runID := args[0], args[1]
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer cancel()

				run, err := st.GetRun(runCtx, instrumentID, runID)
				if err != nil {
					return err
				}
				if runctl.Alive(run.MonitorPID) {
					return fmt.Errorf("monitor (pid %d) is running for %s/%s; stop it first", run.MonitorPID, instrumentID, runID)
				}
				out := cmd.OutOrStdout()
				if run.Status == store.RunComplete {
					fmt.Fprintf(out, "Run %s/%s is already complete\n", instrumentID, runID)
					return nil
				}

				logger, err := logging.New(logging.Options{
					Level:       cfg.Logging.Level,
					Format:      "json",
					OutputPaths: []string{cfg.RunLogPath(instrumentID, runID)},
				})
				if err != nil {
					return fmt.Errorf("init logger: %w", err)
				}
				opts := coordinator.Options{
					AcquisitionPath: run.AcquisitionPath,
					InstrumentID:    instrumentID,
					RunID:           runID,
					Staging:         staging.ForRun(cfg, instrumentID, runID),
					Extensions:      cfg.Watcher.Extensions,
					Retry:           fileutil.DefaultRetryPolicy(),
				}

				present, err := coordinator.New(st, nil, nil, logger, opts).Present(runCtx)
				if err != nil {
					return err
				}
				if len(present) == 0 {
					fmt.Fprintln(out, "No unprocessed sample files found")
					return nil
				}

				var extra []coordinator.Option
				syncer, err := newExportSyncer(runCtx, cfg, cfg.Backup.Enabled)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warn: backup disabled: %v\n", err)
				} else {
					extra = append(extra, coordinator.WithBackup(syncer))
				}

				bar := progressbar.NewOptions(len(present),
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetDescription("backfill"),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
				runner := pipeline.NewRunnerFromConfig(cfg, pipeline.ExecLauncher{}, logger)
				coord := coordinator.New(st, runner, notifications.NewService(cfg), logger, opts, extra...)
				attempted, err := coord.Backfill(runCtx, func(string) { _ = bar.Add(1) })
				_ = bar.Finish()
				if err != nil {
					return err
				}

				updated, err := st.GetRun(runCtx, instrumentID, runID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Backfilled %d samples; %d/%d processed (%d pass, %d warning, %d fail)\n",
					attempted, updated.Progress.Processed, updated.Progress.Total,
					updated.Progress.Passed, updated.Progress.Warned, updated.Progress.Failed)
				if updated.Status == store.RunComplete {
					fmt.Fprintln(out, "Run complete")
				}
				return nil
			})
		},
	}
}

// newExportSyncer writes exports to the results directory and, when upload
// is set, to the configured bucket.
func newExportSyncer(ctx context.Context, cfg *config.Config, upload bool) (*backup.Syncer, error) {
	if !upload {
		return backup.NewSyncer(nil, cfg.Backup.Prefix, cfg.Paths.ResultsDir, logging.NewNop()), nil
	}
	if strings.TrimSpace(cfg.Backup.Bucket) == "" {
		return nil, fmt.Errorf("backup.bucket is not configured")
	}
	uploader, err := backup.NewS3(ctx, cfg.Backup)
	if err != nil {
		return nil, err
	}
	return backup.NewSyncer(uploader, cfg.Backup.Prefix, cfg.Paths.ResultsDir, logging.NewNop()), nil
}
