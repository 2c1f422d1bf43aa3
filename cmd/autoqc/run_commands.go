package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"autoqc/internal/config"
	"autoqc/internal/fileutil"
	"autoqc/internal/runctl"
	"autoqc/internal/sequence"
	"autoqc/internal/store"
)

const stopGracePeriod = 10 * time.Second

func newRunCommand(ctx *commandContext) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Submit and manage acquisition runs",
	}

	runCmd.AddCommand(newRunSubmitCommand(ctx))
	runCmd.AddCommand(newRunListCommand(ctx))
	runCmd.AddCommand(newRunShowCommand(ctx))
	runCmd.AddCommand(newRunCompleteCommand(ctx))
	runCmd.AddCommand(newRunDeleteCommand(ctx))
	runCmd.AddCommand(newRunStopCommand(ctx))
	runCmd.AddCommand(newRunRestartCommand(ctx))
	runCmd.AddCommand(newRunExportCommand(ctx))
	runCmd.AddCommand(newRunBackfillCommand(ctx))
	runCmd.AddCommand(newRunLogsCommand(ctx))

	return runCmd
}

func newRunSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		instrumentID    string
		runID           string
		method          string
		qcConfig        string
		acquisitionPath string
		noStart         bool
	)

	cmd := &cobra.Command{
		Use:   "submit SEQUENCE_CSV",
		Short: "Register a run from an instrument sequence file and start monitoring it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				acq, err := config.ExpandPath(strings.TrimSpace(acquisitionPath))
				if err != nil {
					return fmt.Errorf("resolve acquisition path: %w", err)
				}
				if info, err := os.Stat(acq); err != nil || !info.IsDir() {
					return fmt.Errorf("acquisition path %q is not a directory", acq)
				}
				if _, err := st.GetMethod(cmd.Context(), method); err != nil {
					return err
				}
				standards, err := st.ListBiologicalStandards(cmd.Context(), method)
				if err != nil {
					return err
				}
				samples, err := sequence.ParseFile(args[0], sequence.OptionsFromConfig(cfg.Sequence, standards))
				if err != nil {
					return err
				}

				run := store.Run{
					InstrumentID:    instrumentID,
					RunID:           runID,
					Method:          method,
					QCConfig:        qcConfig,
					AcquisitionPath: acq,
				}
				if err := st.CreateRun(cmd.Context(), run, samples); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created run %s/%s with %d expected samples\n", instrumentID, runID, len(samples))
				if noStart {
					fmt.Fprintln(out, "Monitor not started; use `autoqc run restart` to start it")
					return nil
				}
				opts, err := ctx.launchOptions()
				if err != nil {
					return fmt.Errorf("run created but monitor not started: %w", err)
				}
				pid, err := runctl.Start(cmd.Context(), st, opts, instrumentID, runID)
				if err != nil {
					return fmt.Errorf("run created but monitor not started: %w", err)
				}
				fmt.Fprintf(out, "Monitor started (pid %d); log: %s\n", pid, cfg.RunLogPath(instrumentID, runID))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&instrumentID, "instrument", "i", "", "Instrument id")
	cmd.Flags().StringVarP(&runID, "run", "r", "", "Run id")
	cmd.Flags().StringVarP(&method, "method", "m", "", "Chromatography method")
	cmd.Flags().StringVar(&qcConfig, "qc-config", store.DefaultQCConfigName, "QC configuration name")
	cmd.Flags().StringVarP(&acquisitionPath, "acquisition-path", "a", "", "Directory the instrument writes sample files to")
	cmd.Flags().BoolVar(&noStart, "no-start", false, "Register the run without launching a monitor")
	_ = cmd.MarkFlagRequired("instrument")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("method")
	_ = cmd.MarkFlagRequired("acquisition-path")
	return cmd
}

type runSummary struct {
	InstrumentID   string `json:"instrument_id"`
	RunID          string `json:"run_id"`
	Method         string `json:"method"`
	QCConfig       string `json:"qc_config"`
	Status         string `json:"status"`
	ForcedComplete bool   `json:"forced_complete"`
	Total          int    `json:"total"`
	Processed      int    `json:"processed"`
	Passed         int    `json:"passed"`
	Warned         int    `json:"warned"`
	Failed         int    `json:"failed"`
	MonitorPID     int    `json:"monitor_pid,omitempty"`
	MonitorAlive   bool   `json:"monitor_alive"`
	CreatedAt      string `json:"created_at"`
}

func summarizeRun(run store.Run) runSummary {
	return runSummary{
		InstrumentID:   run.InstrumentID,
		RunID:          run.RunID,
		Method:         run.Method,
		QCConfig:       run.QCConfig,
		Status:         string(run.Status),
		ForcedComplete: run.ForcedComplete,
		Total:          run.Progress.Total,
		Processed:      run.Progress.Processed,
		Passed:         run.Progress.Passed,
		Warned:         run.Progress.Warned,
		Failed:         run.Progress.Failed,
		MonitorPID:     run.MonitorPID,
		MonitorAlive:   runctl.Alive(run.MonitorPID),
		CreatedAt:      run.CreatedAt.Format(time.RFC3339),
	}
}

func newRunListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs with verdict counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				runs, err := st.ListRuns(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					summaries := make([]runSummary, 0, len(runs))
					for _, run := range runs {
						summaries = append(summaries, summarizeRun(run))
					}
					return writeJSON(cmd, summaries)
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs registered")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						run.InstrumentID,
						run.RunID,
						run.Method,
						statusLabel(run),
						fmt.Sprintf("%d/%d", run.Progress.Processed, run.Progress.Total),
						strconv.Itoa(run.Progress.Passed),
						strconv.Itoa(run.Progress.Warned),
						strconv.Itoa(run.Progress.Failed),
						yesNo(runctl.Alive(run.MonitorPID)),
						humanize.Time(run.CreatedAt),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Instrument", "Run", "Method", "Status", "Processed", "Pass", "Warn", "Fail", "Monitor", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func statusLabel(run store.Run) string {
	label := string(run.Status)
	if run.ForcedComplete {
		label += " (forced)"
	}
	return label
}

func newRunShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show INSTRUMENT_ID RUN_ID",
		Short: "Show per-sample verdicts for a run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				run, err := st.GetRun(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					type sampleView struct {
						SampleID string `json:"sample_id"`
						Polarity string `json:"polarity"`
						Role     string `json:"role"`
						Result   string `json:"result"`
						Reason   string `json:"reason,omitempty"`
					}
					samples := make([]sampleView, 0, len(run.Samples))
					for _, s := range run.Samples {
						samples = append(samples, sampleView{
							SampleID: s.SampleID,
							Polarity: s.Polarity.Label(),
							Role:     s.Role.Label(),
							Result:   s.Result.Label(),
							Reason:   s.FailureReason,
						})
					}
					return writeJSON(cmd, map[string]any{
						"run":     summarizeRun(*run),
						"samples": samples,
					})
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader(fmt.Sprintf("%s / %s", run.InstrumentID, run.RunID), colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintf(out, "Method:       %s\n", run.Method)
				fmt.Fprintf(out, "QC config:    %s\n", run.QCConfig)
				fmt.Fprintf(out, "Acquisition:  %s\n", run.AcquisitionPath)
				fmt.Fprintf(out, "Status:       %s\n", statusLabel(*run))
				fmt.Fprintf(out, "Monitor:      %s\n", monitorLabel(run))
				if run.CurrentSample != "" {
					fmt.Fprintf(out, "Watching:     %s\n", run.CurrentSample)
				}
				fmt.Fprintf(out, "Progress:     %d/%d (%d pass, %d warning, %d fail)\n\n",
					run.Progress.Processed, run.Progress.Total, run.Progress.Passed, run.Progress.Warned, run.Progress.Failed)

				rows := make([][]string, 0, len(run.Samples))
				for _, s := range run.Samples {
					rows = append(rows, []string{
						strconv.Itoa(s.Position),
						s.SampleID,
						s.Polarity.Label(),
						s.Role.Label(),
						colorVerdict(s.Result, colorize),
						s.FailureReason,
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"#", "Sample", "Polarity", "Role", "Verdict", "Reason"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}
}

func monitorLabel(run *store.Run) string {
	if runctl.Alive(run.MonitorPID) {
		return fmt.Sprintf("running (pid %d)", run.MonitorPID)
	}
	return "not running"
}

func newRunCompleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "complete INSTRUMENT_ID RUN_ID",
		Short: "Stop monitoring and mark a run complete, leaving missing samples unprocessed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				if err := stopIfRunning(cmd, st, args[0], args[1]); err != nil {
					return err
				}
				if err := st.MarkRunComplete(cmd.Context(), args[0], args[1], true); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s/%s marked complete\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newRunDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete INSTRUMENT_ID RUN_ID",
		Short: "Stop monitoring and delete a run with its verdicts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				if _, err := st.GetRun(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				if err := stopIfRunning(cmd, st, args[0], args[1]); err != nil {
					return err
				}
				if err := st.DeleteRun(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				if err := os.RemoveAll(cfg.RunStagingDir(args[0], args[1])); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warn: unable to remove staging area: %v\n", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func stopIfRunning(cmd *cobra.Command, st *store.Store, instrumentID, runID string) error {
	result, err := runctl.Stop(cmd.Context(), st, instrumentID, runID, stopGracePeriod)
	switch {
	case errors.Is(err, runctl.ErrNotRunning):
		return nil
	case err != nil:
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), stopMessage(result))
	return nil
}

func stopMessage(result runctl.StopResult) string {
	if result.ForcedKill {
		return fmt.Sprintf("Monitor (pid %d) killed after grace period", result.PID)
	}
	return fmt.Sprintf("Monitor (pid %d) stopped", result.PID)
}

func newRunStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop INSTRUMENT_ID RUN_ID",
		Short: "Stop a run's monitor; the run stays active and can be restarted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				result, err := runctl.Stop(cmd.Context(), st, args[0], args[1], stopGracePeriod)
				if errors.Is(err, runctl.ErrNotRunning) {
					fmt.Fprintf(cmd.OutOrStdout(), "Run %s/%s has no running monitor\n", args[0], args[1])
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), stopMessage(result))
				return nil
			})
		},
	}
}

func newRunRestartCommand(ctx *commandContext) *cobra.Command {
	var reopen bool

	cmd := &cobra.Command{
		Use:   "restart INSTRUMENT_ID RUN_ID",
		Short: "Terminate and relaunch a run's monitor, resuming where it left off",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				run, err := st.GetRun(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if run.Status == store.RunComplete {
					if !reopen {
						return fmt.Errorf("run %s/%s is complete; pass --reopen to monitor it again", args[0], args[1])
					}
					if err := st.ReopenRun(cmd.Context(), args[0], args[1]); err != nil {
						return err
					}
				}
				opts, err := ctx.launchOptions()
				if err != nil {
					return err
				}
				result, err := runctl.Restart(cmd.Context(), st, opts, args[0], args[1], stopGracePeriod)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if result.WasRunning {
					fmt.Fprintln(out, stopMessage(result.Stop))
				}
				fmt.Fprintf(out, "Monitor started (pid %d); log: %s\n", result.PID, cfg.RunLogPath(args[0], args[1]))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&reopen, "reopen", false, "Reopen a completed run before restarting")
	return cmd
}

func newRunExportCommand(ctx *commandContext) *cobra.Command {
	var (
		upload bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "export INSTRUMENT_ID RUN_ID",
		Short: "Write a run's results CSV to the results directory, optionally uploading it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				syncer, err := newExportSyncer(cmd.Context(), cfg, upload)
				if err != nil {
					return err
				}
				result, err := syncer.SyncRun(cmd.Context(), st, args[0], args[1])
				if err != nil {
					return err
				}
				if output != "" {
					if err := fileutil.CopyFile(result.LocalPath, output); err != nil {
						return fmt.Errorf("copy results to %s: %w", output, err)
					}
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{
						"local_path":  result.LocalPath,
						"output_path": output,
						"remote_key":  result.RemoteKey,
						"bytes":       result.Bytes,
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Wrote %s (%s)\n", filepath.Clean(result.LocalPath), humanize.Bytes(uint64(result.Bytes)))
				if output != "" {
					fmt.Fprintf(out, "Copied to %s\n", filepath.Clean(output))
				}
				if result.RemoteKey != "" {
					fmt.Fprintf(out, "Uploaded to s3://%s/%s\n", cfg.Backup.Bucket, result.RemoteKey)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&upload, "upload", false, "Upload to the configured S3 bucket")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Also copy the CSV to this path")
	return cmd
}
