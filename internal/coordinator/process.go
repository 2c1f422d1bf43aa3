package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"autoqc/internal/logging"
	"autoqc/internal/notifications"
	"autoqc/internal/peaks"
	"autoqc/internal/pipeline"
	"autoqc/internal/qc"
	"autoqc/internal/services"
	"autoqc/internal/store"
	"autoqc/internal/watcher"
)

// cycle waits for a queued sample file to finish acquiring, then processes it.
func (c *Coordinator) cycle(ctx context.Context, item queuedSample) {
	sample, ok := c.pendingSample(item.sampleID)
	if !ok {
		return
	}
	ctx = services.WithSample(ctx, sample.SampleID)
	logger := logging.WithContext(ctx, c.logger)

	if err := c.store.SetCurrentSample(ctx, c.opts.InstrumentID, c.opts.RunID, sample.SampleID); err != nil {
		logger.Warn("failed to record current sample",
			logging.Error(err),
			logging.String(logging.FieldEventType, "current_sample_update_failed"),
		)
	}

	w := watcher.New(watcher.Target{
		SampleID:   sample.SampleID,
		Path:       item.path,
		Last:       c.isLast(sample.SampleID),
		NextExists: func() bool { return c.nextPresent(sample.SampleID) },
	}, watcher.Options{
		Quiescence: c.opts.Quiescence,
		Retry:      c.opts.Retry,
		Record:     c.recordChecksum,
		Logger:     logger,
	})
	if err := w.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.metrics.WatchAbandoned()
		// A later create event for the same file re-arms the watch.
		c.mu.Lock()
		delete(c.queued, sample.SampleID)
		c.mu.Unlock()
		return
	}
	c.process(ctx, sample, item.path)
}

func (c *Coordinator) recordChecksum(ctx context.Context, sampleID, checksum string) error {
	return c.store.SetSampleChecksum(ctx, c.opts.InstrumentID, c.opts.RunID, sampleID, checksum)
}

// process runs one sample through the pipeline, classifies it, and stores the
// verdict. Persistence failures leave the sample unprocessed for the next
// resume; every other failure becomes a Fail verdict.
func (c *Coordinator) process(ctx context.Context, sample store.Sample, path string) {
	ctx = services.WithRequestID(services.WithSample(ctx, sample.SampleID), uuid.NewString())
	logger := logging.WithContext(ctx, c.logger)
	started := time.Now()

	logger.Info("sample processing started",
		logging.String("path", path),
		logging.String(logging.FieldPolarity, string(sample.Polarity)),
		logging.String("role", string(sample.Role)),
		logging.String(logging.FieldEventType, "sample_processing_started"),
	)

	features, verdict, err := c.evaluate(ctx, logger, sample, path)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("sample processing interrupted; sample stays unprocessed",
				logging.String(logging.FieldEventType, "sample_processing_interrupted"),
			)
			return
		}
		logger.Error("sample evaluation failed; sample stays unprocessed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "sample_persistence_failed"),
			logging.String(logging.FieldErrorHint, "check database access, then restart the run"),
			logging.String(logging.FieldImpact, "sample is retried when the run resumes"),
		)
		return
	}

	err = c.store.WriteVerdict(ctx, c.opts.InstrumentID, c.opts.RunID, sample.SampleID, features, verdict)
	switch {
	case errors.Is(err, store.ErrAlreadyClassified):
		logger.Warn("sample already classified; keeping stored verdict",
			logging.String(logging.FieldEventType, "verdict_already_stored"),
		)
		c.markClassified(sample.SampleID)
		return
	case err != nil:
		logger.Error("failed to store verdict; sample stays unprocessed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "verdict_write_failed"),
			logging.String(logging.FieldErrorHint, "check database access, then restart the run"),
			logging.String(logging.FieldImpact, "sample is retried when the run resumes"),
		)
		return
	}

	c.markClassified(sample.SampleID)
	if err := c.store.SetCurrentSample(ctx, c.opts.InstrumentID, c.opts.RunID, ""); err != nil {
		logger.Debug("failed to clear current sample", logging.Error(err))
	}
	c.metrics.ObserveVerdict(verdict.Result)
	c.metrics.SetRemaining(c.remaining())

	logger.Info("sample classified",
		logging.String(logging.FieldVerdict, verdict.Result.Label()),
		logging.String("reason", verdict.Reason),
		logging.Int("compounds", len(features)),
		logging.Duration("elapsed", time.Since(started)),
		logging.Int("remaining_samples", c.remaining()),
		logging.String(logging.FieldEventType, "sample_classified"),
	)

	var event notifications.Event
	switch verdict.Result {
	case store.ResultFail:
		event = notifications.EventSampleFailed
	case store.ResultWarning:
		event = notifications.EventSampleWarning
	default:
		return
	}
	c.publish(ctx, event, notifications.Payload{
		"sample": sample.SampleID,
		"reason": verdict.Reason,
	})
}

// evaluate produces the features and verdict for a sample. The returned error
// is reserved for persistence and cancellation; tool and parse failures are
// folded into a Fail verdict.
func (c *Coordinator) evaluate(ctx context.Context, logger *slog.Logger, sample store.Sample, path string) ([]store.Feature, store.Verdict, error) {
	refs, err := c.references(ctx, sample)
	if err != nil {
		return nil, store.Verdict{}, err
	}

	table, err := c.pipe.Run(ctx, pipeline.Request{
		InputPath:     path,
		SampleName:    sample.SampleID,
		ConversionDir: c.opts.Staging.Conversion,
		ExtractionDir: c.opts.Staging.Extraction,
		Parameters:    c.parameters(sample),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, store.Verdict{}, ctxErr
		}
		c.logPipelineFailure(logger, err)
		return nil, qc.PipelineFailure(err), nil
	}

	rows, err := peaks.ReadFile(table)
	if err != nil {
		c.logPipelineFailure(logger, err)
		return nil, qc.PipelineFailure(err), nil
	}
	features := peaks.Reconcile(rows, refs)

	if sample.IsBiologicalStandard() {
		return features, qc.BiologicalStandard(refs, features), nil
	}
	inRun, err := qc.InRunAverages(ctx, c.store, c.opts.InstrumentID, c.opts.RunID, sample.Polarity, refs)
	if err != nil {
		return nil, store.Verdict{}, err
	}
	return features, qc.Classify(qc.Input{
		References: refs,
		Features:   features,
		InRun:      inRun,
		Config:     c.qcConfig,
	}), nil
}

func (c *Coordinator) logPipelineFailure(logger *slog.Logger, err error) {
	details := services.Describe(err)
	marker := "unknown"
	if details.Marker != nil {
		marker = details.Marker.Error()
	}
	logging.WarnWithContext(logger, "sample pipeline failed; recording Fail verdict", "sample_pipeline_failed",
		logging.String("error_kind", marker),
		logging.String("error_detail", details.Message),
		logging.String(logging.FieldErrorHint, "check converter/extractor configuration and the run log"),
		logging.String(logging.FieldImpact, "sample is force-failed; run continues"),
	)
}

func (c *Coordinator) references(ctx context.Context, sample store.Sample) ([]store.ReferenceCompound, error) {
	key := refKey{polarity: sample.Polarity}
	if sample.IsBiologicalStandard() {
		key.standard = sample.BiologicalStandard
	}
	if refs, ok := c.refs[key]; ok {
		return refs, nil
	}
	refs, err := c.store.GetReferenceCompounds(ctx, c.method.Name, key.polarity, key.standard)
	if err != nil {
		return nil, fmt.Errorf("load reference compounds: %w", err)
	}
	c.refs[key] = refs
	return refs, nil
}

func (c *Coordinator) parameters(sample store.Sample) string {
	if sample.IsBiologicalStandard() {
		if std, ok := c.standards[sample.BiologicalStandard]; ok {
			if params := std.Parameters(sample.Polarity); params != "" {
				return params
			}
		}
	}
	return c.method.Parameters(sample.Polarity)
}
