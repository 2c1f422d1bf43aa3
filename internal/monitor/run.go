package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"autoqc/internal/backup"
	"autoqc/internal/config"
	"autoqc/internal/coordinator"
	"autoqc/internal/fileutil"
	"autoqc/internal/logging"
	"autoqc/internal/metrics"
	"autoqc/internal/notifications"
	"autoqc/internal/pipeline"
	"autoqc/internal/preflight"
	"autoqc/internal/staging"
	"autoqc/internal/store"
)

// ErrAlreadyMonitored is returned when another process holds the run lock.
var ErrAlreadyMonitored = errors.New("run is already monitored by another process")

// Options identifies the run to monitor and tunes logging.
type Options struct {
	AcquisitionPath string
	InstrumentID    string
	RunID           string
	LogLevel        string
	Development     bool
}

// Run monitors one run until it completes or a termination signal arrives.
// A signal is a clean shutdown; the run stays active for the next monitor.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	opts.InstrumentID = strings.TrimSpace(opts.InstrumentID)
	opts.RunID = strings.TrimSpace(opts.RunID)
	if opts.InstrumentID == "" || opts.RunID == "" {
		return fmt.Errorf("instrument id and run id are required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	lockPath := cfg.RunLockPath(opts.InstrumentID, opts.RunID)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyMonitored, opts.InstrumentID, opts.RunID)
	}
	defer lock.Unlock() //nolint:errcheck

	logPath := cfg.RunLogPath(opts.InstrumentID, opts.RunID)
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(cfg, logPath, opts.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldSessionID, uuid.NewString()))
	logging.PruneRunLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, logPath)

	results := preflight.RunAll(cfg)
	logPreflight(logger, results)
	if err := preflight.FirstFailure(results); err != nil {
		logger.Error("preflight failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "run `autoqc preflight` for details"),
		)
		return err
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}
	defer st.Close()

	run, err := st.GetRun(signalCtx, opts.InstrumentID, opts.RunID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	acquisitionPath := strings.TrimSpace(opts.AcquisitionPath)
	if acquisitionPath == "" {
		acquisitionPath = run.AcquisitionPath
	}

	if err := st.SetMonitorPID(signalCtx, opts.InstrumentID, opts.RunID, os.Getpid()); err != nil {
		logger.Warn("failed to record monitor pid",
			logging.Error(err),
			logging.String(logging.FieldEventType, "monitor_pid_update_failed"),
			logging.String(logging.FieldImpact, "`autoqc run stop` cannot find this process"),
		)
	}
	defer func() {
		if err := st.SetMonitorPID(context.Background(), opts.InstrumentID, opts.RunID, 0); err != nil {
			logger.Debug("failed to clear monitor pid", logging.Error(err))
		}
	}()

	recorder := metrics.New(opts.InstrumentID, opts.RunID)
	extra := []coordinator.Option{coordinator.WithMetrics(recorder)}
	syncer, err := newSyncer(signalCtx, cfg, logger)
	if err != nil {
		logging.WarnWithContext(logger, "backup disabled for this run", "backup_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check backup settings and AWS credentials"),
			logging.String(logging.FieldImpact, "results are only written locally"),
		)
	}
	if syncer != nil {
		extra = append(extra, coordinator.WithBackup(syncer))
	}

	runner := pipeline.NewRunnerFromConfig(cfg, pipeline.ExecLauncher{}, logger, pipeline.WithObserver(recorder.ObserveStage))
	retry := fileutil.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Watcher.TransientRetries + 1

	coord := coordinator.New(st, runner, notifications.NewService(cfg), logger, coordinator.Options{
		AcquisitionPath: acquisitionPath,
		InstrumentID:    opts.InstrumentID,
		RunID:           opts.RunID,
		Staging:         staging.ForRun(cfg, opts.InstrumentID, opts.RunID),
		Extensions:      cfg.Watcher.Extensions,
		Quiescence:      cfg.Quiescence(),
		Retry:           retry,
	}, extra...)

	err = serve(signalCtx, coord, recorder, cfg.Metrics.ListenAddress, logger)
	if errors.Is(err, context.Canceled) && signalCtx.Err() != nil {
		logger.Info("monitor shutting down; run stays active",
			logging.String(logging.FieldEventType, "monitor_shutdown"),
		)
		return nil
	}
	return err
}

// serve runs the coordinator and, when configured, the metrics endpoint.
// The endpoint stops once the coordinator returns.
func serve(ctx context.Context, coord *coordinator.Coordinator, recorder *metrics.Recorder, listenAddress string, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	g.Go(func() error {
		defer stopServe()
		return coord.Run(gctx)
	})
	if listenAddress != "" {
		g.Go(func() error {
			return recorder.Serve(serveCtx, listenAddress, logger)
		})
	}
	return g.Wait()
}

func newSyncer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backup.Syncer, error) {
	if !cfg.Backup.Enabled {
		return nil, nil
	}
	uploader, err := backup.NewS3(ctx, cfg.Backup)
	if err != nil {
		return nil, err
	}
	return backup.NewSyncer(uploader, cfg.Backup.Prefix, cfg.Paths.ResultsDir, logger), nil
}

func logPreflight(logger *slog.Logger, results []preflight.Result) {
	for _, r := range results {
		level := slog.LevelInfo
		if !r.Passed {
			level = slog.LevelWarn
		}
		logger.Log(context.Background(), level, "preflight check",
			logging.Args(
				logging.String("check", r.Name),
				logging.Bool("passed", r.Passed),
				logging.String("detail", r.Detail),
				logging.String(logging.FieldEventType, "preflight_check"),
			)...,
		)
	}
}
