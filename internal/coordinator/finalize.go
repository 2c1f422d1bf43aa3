package coordinator

import (
	"context"
	"errors"
	"fmt"

	"autoqc/internal/logging"
	"autoqc/internal/notifications"
	"autoqc/internal/store"
)

// finalize marks the run complete, exports results, notifies, and releases
// the staging area.
func (c *Coordinator) finalize(ctx context.Context) error {
	logger := logging.WithContext(ctx, c.logger)
	defer func() {
		if err := c.opts.Staging.Release(); err != nil {
			logger.Warn("failed to release staging area",
				logging.String("staging_dir", c.opts.Staging.Root),
				logging.Error(err),
				logging.String(logging.FieldEventType, "staging_release_failed"),
				logging.String(logging.FieldImpact, "disk space held until staging clean"),
			)
		}
	}()

	err := c.store.MarkRunComplete(ctx, c.opts.InstrumentID, c.opts.RunID, false)
	if errors.Is(err, store.ErrRunIncomplete) {
		logging.WarnWithContext(logger, "last sample classified with earlier samples missing; forcing completion", "run_forced_complete",
			logging.Int("unprocessed", c.remaining()),
			logging.String(logging.FieldImpact, "missing samples remain unprocessed"),
		)
		err = c.store.MarkRunComplete(ctx, c.opts.InstrumentID, c.opts.RunID, true)
	}
	if err != nil {
		return fmt.Errorf("mark run complete: %w", err)
	}

	run, err := c.store.GetRun(ctx, c.opts.InstrumentID, c.opts.RunID)
	if err != nil {
		return fmt.Errorf("reload run: %w", err)
	}
	progress := run.Progress
	c.metrics.SetRemaining(progress.Remaining())

	if c.syncer != nil {
		result, err := c.syncer.SyncRun(ctx, c.store, c.opts.InstrumentID, c.opts.RunID)
		if err != nil {
			logging.WarnWithContext(logger, "results export failed", "results_export_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check backup settings, then run `autoqc run export`"),
				logging.String(logging.FieldImpact, "results are only in the database"),
			)
		} else {
			logger.Info("results exported",
				logging.String("results_path", result.LocalPath),
				logging.String("remote_key", result.RemoteKey),
				logging.String(logging.FieldEventType, "results_exported"),
			)
		}
	}

	c.publish(ctx, notifications.EventRunCompleted, notifications.Payload{
		"passed":      progress.Passed,
		"warned":      progress.Warned,
		"failed":      progress.Failed,
		"unprocessed": progress.Remaining(),
	})
	logger.Info("run complete",
		logging.Int("passed", progress.Passed),
		logging.Int("warned", progress.Warned),
		logging.Int("failed", progress.Failed),
		logging.Int("unprocessed", progress.Remaining()),
		logging.Bool("forced", run.ForcedComplete),
		logging.String(logging.FieldEventType, "run_complete"),
	)
	return nil
}
