package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"autoqc/internal/config"
	"autoqc/internal/logging"
	"autoqc/internal/services"
)

// Request is one sample's trip through both stages.
type Request struct {
	InputPath     string
	SampleName    string
	ConversionDir string
	ExtractionDir string
	Parameters    string
}

// Observer receives per-stage timing, e.g. for metrics.
type Observer func(stage string, elapsed time.Duration, err error)

// Runner chains conversion and extraction for a single sample at a time.
type Runner struct {
	converter Converter
	extractor Extractor
	retries   int
	cooldown  time.Duration
	logger    *slog.Logger
	observe   Observer
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver registers a stage timing observer.
func WithObserver(fn Observer) Option {
	return func(r *Runner) { r.observe = fn }
}

// WithRetryPolicy overrides the conversion retry count and cooldown.
func WithRetryPolicy(retries int, cooldown time.Duration) Option {
	return func(r *Runner) {
		r.retries = retries
		r.cooldown = cooldown
	}
}

// NewRunner wires the stages.
func NewRunner(converter Converter, extractor Extractor, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		converter: converter,
		extractor: extractor,
		retries:   3,
		cooldown:  180 * time.Second,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRunnerFromConfig builds a Runner backed by the configured external tools.
func NewRunnerFromConfig(cfg *config.Config, launcher Launcher, logger *slog.Logger, opts ...Option) *Runner {
	poll := cfg.PollInterval()
	converter := NewTool("conversion", cfg.Pipeline.Converter, poll, launcher)
	extractor := NewTool("extraction", cfg.Pipeline.Extractor, poll, launcher)
	base := []Option{WithRetryPolicy(cfg.Pipeline.ConversionRetries, cfg.RetryCooldown())}
	return NewRunner(converter, extractor, logger, append(base, opts...)...)
}

// Run converts and extracts one sample and returns the feature-table path.
// Any error is terminal for the sample; the caller records a Fail verdict.
func (r *Runner) Run(ctx context.Context, req Request) (string, error) {
	logger := logging.WithContext(ctx, r.logger)
	if err := resetDir(req.ConversionDir); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "conversion", "prepare staging", req.ConversionDir, err)
	}
	if err := resetDir(req.ExtractionDir); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "extraction", "prepare staging", req.ExtractionDir, err)
	}

	converted, err := r.convert(ctx, logger, req)
	if err != nil {
		return "", err
	}
	logger.Debug("conversion complete", logging.String("converted_path", converted))

	started := time.Now()
	table, err := r.extractor.Extract(ctx, req.ConversionDir, req.Parameters, req.ExtractionDir, req.SampleName)
	r.record("extraction", started, err)
	if clearErr := clearDir(req.ConversionDir); clearErr != nil {
		logging.WarnWithContext(logger, "failed to clear conversion staging", "staging_clear_failed",
			logging.String("staging_dir", req.ConversionDir),
			logging.Error(clearErr),
			logging.String(logging.FieldImpact, "next sample may see stale converted files"),
		)
	}
	if err != nil {
		return "", err
	}
	logger.Info("feature extraction complete",
		logging.String("feature_table", table),
		logging.Duration("elapsed", time.Since(started)),
	)
	return table, nil
}

func (r *Runner) convert(ctx context.Context, logger *slog.Logger, req Request) (string, error) {
	attempts := r.retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		started := time.Now()
		out, err := r.converter.Convert(ctx, req.InputPath, req.SampleName, req.ConversionDir)
		r.record("conversion", started, err)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !services.IsToolFailure(err) || attempt == attempts {
			break
		}
		logging.WarnWithContext(logger, "conversion failed; retrying after cooldown", "conversion_retry",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Duration("cooldown", r.cooldown),
			logging.Error(err),
			logging.String(logging.FieldImpact, "sample verdict delayed"),
		)
		if err := sleepCtx(ctx, r.cooldown); err != nil {
			return "", err
		}
		if err := resetDir(req.ConversionDir); err != nil {
			return "", services.Wrap(services.ErrConfiguration, "conversion", "prepare staging", req.ConversionDir, err)
		}
	}
	return "", fmt.Errorf("conversion failed after %d attempt(s): %w", attempts, lastErr)
}

func (r *Runner) record(stage string, started time.Time, err error) {
	if r.observe != nil {
		r.observe(stage, time.Since(started), err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
