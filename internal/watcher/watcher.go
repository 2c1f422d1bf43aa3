package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"autoqc/internal/fileutil"
	"autoqc/internal/logging"
	"autoqc/internal/services"
)

// State is a position in the completion state machine.
type State int

const (
	StateUnseen State = iota
	StateAppearedUnstable
	StateStable
	StateConfirmed
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateUnseen:
		return "unseen"
	case StateAppearedUnstable:
		return "appeared_unstable"
	case StateStable:
		return "stable"
	case StateConfirmed:
		return "confirmed"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further Step is possible.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateAbandoned
}

// Target describes the sample file being watched.
type Target struct {
	SampleID string
	Path     string
	// Last marks the final expected sample of the run.
	Last bool
	// NextExists reports whether the next expected sample's file is on disk.
	NextExists func() bool
}

// ChecksumRecorder persists a digest baseline for a sample.
type ChecksumRecorder func(ctx context.Context, sampleID, checksum string) error

// Options configures a Watcher. Zero values fall back to defaults.
type Options struct {
	Quiescence time.Duration
	Retry      fileutil.RetryPolicy
	Digest     func(path string) (string, error)
	Record     ChecksumRecorder
	Logger     *slog.Logger
	// After replaces time.NewTimer in tests.
	After func(d time.Duration) (<-chan time.Time, func() bool)
}

// Watcher tracks one sample through the completion state machine.
type Watcher struct {
	target   Target
	interval time.Duration
	retry    fileutil.RetryPolicy
	digest   func(string) (string, error)
	record   ChecksumRecorder
	logger   *slog.Logger
	after    func(time.Duration) (<-chan time.Time, func() bool)

	state    State
	baseline string
	polls    int
}

// New constructs a Watcher in StateUnseen.
func New(target Target, opts Options) *Watcher {
	w := &Watcher{
		target:   target,
		interval: opts.Quiescence,
		retry:    opts.Retry,
		digest:   opts.Digest,
		record:   opts.Record,
		logger:   opts.Logger,
		after:    opts.After,
		state:    StateUnseen,
	}
	if w.interval <= 0 {
		w.interval = 180 * time.Second
	}
	if w.retry.MaxAttempts <= 0 {
		w.retry = fileutil.DefaultRetryPolicy()
	}
	if w.digest == nil {
		w.digest = fileutil.Checksum
	}
	if w.logger == nil {
		w.logger = logging.NewNop()
	}
	if w.after == nil {
		w.after = func(d time.Duration) (<-chan time.Time, func() bool) {
			timer := time.NewTimer(d)
			return timer.C, timer.Stop
		}
	}
	return w
}

// State returns the current state.
func (w *Watcher) State() State { return w.state }

// Baseline returns the most recently persisted digest.
func (w *Watcher) Baseline() string { return w.baseline }

// Step performs one transition. The caller waits one quiescence interval
// between calls. An error moves the watcher to StateAbandoned.
func (w *Watcher) Step(ctx context.Context) (State, error) {
	switch w.state {
	case StateUnseen:
		sum, err := w.checksum(ctx)
		if err != nil {
			return w.abandon(err)
		}
		if err := w.persist(ctx, sum); err != nil {
			return w.abandon(err)
		}
		w.state = StateAppearedUnstable
		w.logger.Info("sample file appeared",
			logging.String(logging.FieldSampleID, w.target.SampleID),
			logging.String("path", w.target.Path),
			logging.Int64("size_bytes", fileSize(w.target.Path)),
			logging.String(logging.FieldEventType, "sample_appeared"),
		)
	case StateAppearedUnstable:
		sum, err := w.checksum(ctx)
		if err != nil {
			return w.abandon(err)
		}
		w.polls++
		if sum != w.baseline {
			if err := w.persist(ctx, sum); err != nil {
				return w.abandon(err)
			}
			w.logger.Debug("sample file still growing",
				logging.String(logging.FieldSampleID, w.target.SampleID),
				logging.Int64("size_bytes", fileSize(w.target.Path)),
				logging.Int("polls", w.polls),
			)
			return w.state, nil
		}
		if !w.corroborated() {
			w.logger.Debug("digest unchanged, waiting for next sample file",
				logging.String(logging.FieldSampleID, w.target.SampleID),
				logging.Int("polls", w.polls),
			)
			return w.state, nil
		}
		w.state = StateStable
		w.logger.Info("sample file stable",
			logging.String(logging.FieldSampleID, w.target.SampleID),
			logging.Int("polls", w.polls),
			logging.Bool("last_sample", w.target.Last),
			logging.String(logging.FieldEventType, "sample_stable"),
		)
	case StateStable:
		w.state = StateConfirmed
		w.logger.Info("sample acquisition confirmed",
			logging.String(logging.FieldSampleID, w.target.SampleID),
			logging.String(logging.FieldEventType, "sample_confirmed"),
		)
	}
	return w.state, nil
}

// Run drives Step until the sample is confirmed, the watch is abandoned, or
// ctx is cancelled. The write-stability wait has no ceiling.
func (w *Watcher) Run(ctx context.Context) error {
	for !w.state.Terminal() {
		if w.state != StateUnseen {
			if err := w.wait(ctx); err != nil {
				return err
			}
		}
		if _, err := w.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) wait(ctx context.Context) error {
	ch, stop := w.after(w.interval)
	select {
	case <-ctx.Done():
		stop()
		return ctx.Err()
	case <-ch:
		return nil
	}
}

func (w *Watcher) corroborated() bool {
	if w.target.Last {
		return true
	}
	return w.target.NextExists != nil && w.target.NextExists()
}

func (w *Watcher) checksum(ctx context.Context) (string, error) {
	return fileutil.RetryTransient(ctx, w.retry, func() (string, error) {
		return w.digest(w.target.Path)
	})
}

func (w *Watcher) persist(ctx context.Context, sum string) error {
	w.baseline = sum
	if w.record == nil {
		return nil
	}
	return w.record(ctx, w.target.SampleID, sum)
}

func (w *Watcher) abandon(err error) (State, error) {
	w.state = StateAbandoned
	marker := services.ErrTransient
	if errors.Is(err, os.ErrNotExist) {
		marker = services.ErrNotFound
	}
	wrapped := services.Wrap(marker, "watch", "digest sample file", "watch abandoned; sample stays unprocessed", err)
	logging.WarnWithContext(w.logger, "sample watch abandoned", "watch_abandoned",
		logging.String(logging.FieldSampleID, w.target.SampleID),
		logging.String("path", w.target.Path),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "restart the run to re-arm the watch"),
		logging.String(logging.FieldImpact, "sample remains unprocessed until resumed"),
	)
	return w.state, wrapped
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
