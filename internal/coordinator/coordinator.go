package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"autoqc/internal/backup"
	"autoqc/internal/fileutil"
	"autoqc/internal/logging"
	"autoqc/internal/metrics"
	"autoqc/internal/notifications"
	"autoqc/internal/pipeline"
	"autoqc/internal/services"
	"autoqc/internal/staging"
	"autoqc/internal/store"
)

// Store is the persistence port the coordinator depends on.
type Store interface {
	GetRun(ctx context.Context, instrumentID, runID string) (*store.Run, error)
	GetMethod(ctx context.Context, name string) (store.Method, error)
	ListBiologicalStandards(ctx context.Context, method string) ([]store.BiologicalStandard, error)
	GetReferenceCompounds(ctx context.Context, method string, polarity store.Polarity, biologicalStandard string) ([]store.ReferenceCompound, error)
	GetRunQCConfig(ctx context.Context, instrumentID, runID string) (store.QCConfig, error)
	WriteVerdict(ctx context.Context, instrumentID, runID, sampleID string, features []store.Feature, verdict store.Verdict) error
	InRunAverage(ctx context.Context, instrumentID, runID string, polarity store.Polarity, compound string) (float64, bool, error)
	ListUnprocessedSamples(ctx context.Context, instrumentID, runID string) ([]store.Sample, *store.Sample, error)
	SetSampleChecksum(ctx context.Context, instrumentID, runID, sampleID, checksum string) error
	SetCurrentSample(ctx context.Context, instrumentID, runID, sampleID string) error
	MarkRunComplete(ctx context.Context, instrumentID, runID string, force bool) error
	ListFeatures(ctx context.Context, instrumentID, runID, sampleID string) ([]store.FeatureRecord, error)
}

// Pipeline turns one sample file into a feature table.
type Pipeline interface {
	Run(ctx context.Context, req pipeline.Request) (string, error)
}

// Options identifies the run and tunes completion detection.
type Options struct {
	AcquisitionPath string
	InstrumentID    string
	RunID           string
	Staging         staging.Area
	// Extensions limits which file extensions count as sample files. Empty accepts any.
	Extensions []string
	Quiescence time.Duration
	Retry      fileutil.RetryPolicy
}

// Option configures optional collaborators.
type Option func(*Coordinator)

// WithBackup exports and uploads results at finalization.
func WithBackup(syncer *backup.Syncer) Option {
	return func(c *Coordinator) { c.syncer = syncer }
}

// WithMetrics records verdicts, remaining samples, and abandoned watches.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(c *Coordinator) { c.metrics = recorder }
}

// WithWatchStarted calls fn once the directory watch is registered. Files
// created after fn runs go through the completion watcher.
func WithWatchStarted(fn func()) Option {
	return func(c *Coordinator) { c.onWatch = fn }
}

// Coordinator drives a single run from resume to finalization.
type Coordinator struct {
	store    Store
	pipe     Pipeline
	notifier notifications.Service
	syncer   *backup.Syncer
	metrics  *metrics.Recorder
	onWatch  func()
	logger   *slog.Logger
	opts     Options

	run       *store.Run
	method    store.Method
	standards map[string]store.BiologicalStandard
	qcConfig  store.QCConfig
	refs      map[refKey][]store.ReferenceCompound
	order     []store.Sample
	index     map[string]int

	mu      sync.Mutex
	pending map[string]store.Sample
	queued  map[string]bool
	paths   map[string]string
	queue   chan queuedSample
}

type refKey struct {
	polarity store.Polarity
	standard string
}

type queuedSample struct {
	sampleID string
	path     string
}

// New constructs a Coordinator. A nil notifier disables notifications.
func New(st Store, pipe Pipeline, notifier notifications.Service, logger *slog.Logger, opts Options, extra ...Option) *Coordinator {
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	c := &Coordinator{
		store:    st,
		pipe:     pipe,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "coordinator"),
		opts:     opts,
		refs:     make(map[refKey][]store.ReferenceCompound),
		pending:  make(map[string]store.Sample),
		queued:   make(map[string]bool),
		paths:    make(map[string]string),
	}
	for _, opt := range extra {
		opt(c)
	}
	return c
}

// Run resumes the run, watches for new sample files, and finalizes once the
// last expected sample has a verdict. It returns ctx.Err() when cancelled
// before completion; unfinished samples stay unprocessed for the next monitor.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx = services.WithRun(ctx, c.opts.InstrumentID, c.opts.RunID)
	logger := logging.WithContext(ctx, c.logger)

	if err := c.load(ctx); err != nil {
		return err
	}
	if c.run.Status == store.RunComplete {
		logger.Info("run already complete; nothing to monitor",
			logging.String(logging.FieldEventType, "run_already_complete"),
		)
		return nil
	}
	if err := c.opts.Staging.Prepare(); err != nil {
		return services.Wrap(services.ErrConfiguration, "coordinator", "prepare staging", c.opts.Staging.Root, err)
	}

	logger.Info("run monitoring started",
		logging.String("acquisition_path", c.opts.AcquisitionPath),
		logging.String("method", c.run.Method),
		logging.String("qc_config", c.qcConfig.Name),
		logging.Int("expected_samples", len(c.order)),
		logging.Int("remaining_samples", c.remaining()),
		logging.String(logging.FieldEventType, "run_monitor_started"),
	)
	if c.run.Progress.Processed == 0 {
		c.publish(ctx, notifications.EventRunStarted, notifications.Payload{"samples": len(c.order)})
	}

	if err := c.resume(ctx); err != nil {
		return err
	}
	if !c.complete() {
		watch, err := c.startWatch(ctx)
		if err != nil {
			return err
		}
		if c.onWatch != nil {
			c.onWatch()
		}
		err = c.work(ctx)
		watch.Close()
		if err != nil {
			return err
		}
	}
	return c.finalize(ctx)
}

func (c *Coordinator) load(ctx context.Context) error {
	run, err := c.store.GetRun(ctx, c.opts.InstrumentID, c.opts.RunID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	method, err := c.store.GetMethod(ctx, run.Method)
	if err != nil {
		return fmt.Errorf("load method: %w", err)
	}
	standards, err := c.store.ListBiologicalStandards(ctx, run.Method)
	if err != nil {
		return fmt.Errorf("load biological standards: %w", err)
	}
	qcConfig, err := c.store.GetRunQCConfig(ctx, c.opts.InstrumentID, c.opts.RunID)
	if err != nil {
		return fmt.Errorf("load qc config: %w", err)
	}

	c.run = run
	c.method = method
	c.qcConfig = qcConfig
	c.standards = make(map[string]store.BiologicalStandard, len(standards))
	for _, std := range standards {
		c.standards[std.Name] = std
	}
	c.order = run.Samples
	c.index = make(map[string]int, len(run.Samples))
	for i, sample := range run.Samples {
		c.index[sample.SampleID] = i
		if !sample.Processed() {
			c.pending[sample.SampleID] = sample
		}
	}
	c.queue = make(chan queuedSample, len(run.Samples)+1)
	c.metrics.SetRemaining(len(c.pending))
	return nil
}

// work is the single sequential worker.
func (c *Coordinator) work(ctx context.Context) error {
	for !c.complete() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-c.queue:
			c.cycle(ctx, item)
		}
	}
	return nil
}

// complete reports whether the last expected sample has a verdict.
func (c *Coordinator) complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return true
	}
	if len(c.order) == 0 {
		return true
	}
	_, lastPending := c.pending[c.order[len(c.order)-1].SampleID]
	return !lastPending
}

func (c *Coordinator) remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) pendingSample(sampleID string) (store.Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sample, ok := c.pending[sampleID]
	return sample, ok
}

func (c *Coordinator) markClassified(sampleID string) {
	c.mu.Lock()
	delete(c.pending, sampleID)
	delete(c.queued, sampleID)
	c.mu.Unlock()
}

func (c *Coordinator) isLast(sampleID string) bool {
	idx, ok := c.index[sampleID]
	return ok && idx == len(c.order)-1
}

func (c *Coordinator) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if payload == nil {
		payload = notifications.Payload{}
	}
	payload["instrument"] = c.opts.InstrumentID
	payload["run"] = c.opts.RunID
	if err := c.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, c.logger), "notification delivery failed", "notification_failed",
			logging.String("notification_event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			logging.String(logging.FieldImpact, "operator was not alerted; verdicts are unaffected"),
		)
	}
}
