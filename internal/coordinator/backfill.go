package coordinator

import (
	"context"

	"autoqc/internal/logging"
	"autoqc/internal/services"
	"autoqc/internal/store"
)

// Backfill classifies every unprocessed sample whose file is already on disk,
// in run order, without watching for new files. onSample is called after each
// attempt. The run is finalized when its last sample ends up classified.
func (c *Coordinator) Backfill(ctx context.Context, onSample func(sampleID string)) (int, error) {
	ctx = services.WithRun(ctx, c.opts.InstrumentID, c.opts.RunID)
	logger := logging.WithContext(ctx, c.logger)

	if err := c.load(ctx); err != nil {
		return 0, err
	}
	if c.run.Status == store.RunComplete {
		return 0, nil
	}
	if err := c.scan(nil, c.opts.AcquisitionPath, false); err != nil {
		return 0, err
	}
	if err := c.opts.Staging.Prepare(); err != nil {
		return 0, services.Wrap(services.ErrConfiguration, "coordinator", "prepare staging", c.opts.Staging.Root, err)
	}

	attempted := 0
	for _, sample := range c.order {
		if _, ok := c.pendingSample(sample.SampleID); !ok {
			continue
		}
		path, ok := c.knownPath(sample.SampleID)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			_ = c.opts.Staging.Release()
			return attempted, err
		}
		c.process(ctx, sample, path)
		attempted++
		if onSample != nil {
			onSample(sample.SampleID)
		}
	}

	logger.Info("backfill finished",
		logging.Int("attempted", attempted),
		logging.Int("remaining_samples", c.remaining()),
		logging.String(logging.FieldEventType, "run_backfill_finished"),
	)
	if c.complete() {
		return attempted, c.finalize(ctx)
	}
	return attempted, c.opts.Staging.Release()
}

// Present returns the ids of unprocessed samples whose files exist under the
// acquisition path, in run order.
func (c *Coordinator) Present(ctx context.Context) ([]string, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	if err := c.scan(nil, c.opts.AcquisitionPath, false); err != nil {
		return nil, err
	}
	var ids []string
	for _, sample := range c.order {
		if _, ok := c.pendingSample(sample.SampleID); !ok {
			continue
		}
		if _, ok := c.knownPath(sample.SampleID); ok {
			ids = append(ids, sample.SampleID)
		}
	}
	return ids, nil
}
