package backup

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"autoqc/internal/logging"
	"autoqc/internal/services"
	"autoqc/internal/store"
)

// RunSource loads everything an export needs.
type RunSource interface {
	GetRun(ctx context.Context, instrumentID, runID string) (*store.Run, error)
	ListFeatures(ctx context.Context, instrumentID, runID, sampleID string) ([]store.FeatureRecord, error)
}

// Syncer writes the local results export and optionally uploads it.
type Syncer struct {
	uploader   Uploader
	prefix     string
	resultsDir string
	logger     *slog.Logger
}

// NewSyncer constructs a Syncer. A nil uploader disables the upload.
func NewSyncer(uploader Uploader, prefix, resultsDir string, logger *slog.Logger) *Syncer {
	return &Syncer{
		uploader:   uploader,
		prefix:     prefix,
		resultsDir: resultsDir,
		logger:     logging.NewComponentLogger(logger, "backup"),
	}
}

// Result describes where a run export ended up.
type Result struct {
	LocalPath string
	RemoteKey string
	Bytes     int
}

// SyncRun exports the run's verdicts and uploads them when configured.
func (s *Syncer) SyncRun(ctx context.Context, src RunSource, instrumentID, runID string) (Result, error) {
	run, err := src.GetRun(ctx, instrumentID, runID)
	if err != nil {
		return Result{}, err
	}
	records, err := src.ListFeatures(ctx, instrumentID, runID, "")
	if err != nil {
		return Result{}, err
	}

	var buf bytes.Buffer
	if err := WriteResults(&buf, run, records); err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "finalize", "export results", "", err)
	}
	res := Result{Bytes: buf.Len()}

	if s.resultsDir != "" {
		local := filepath.Join(s.resultsDir, fmt.Sprintf("%s_%s_results.csv", instrumentID, runID))
		if err := os.MkdirAll(s.resultsDir, 0o755); err != nil {
			return res, fmt.Errorf("ensure results dir: %w", err)
		}
		if err := os.WriteFile(local, buf.Bytes(), 0o644); err != nil {
			return res, fmt.Errorf("write results export: %w", err)
		}
		res.LocalPath = local
	}

	if s.uploader != nil {
		key := ObjectKey(s.prefix, instrumentID, runID)
		if err := s.uploader.Upload(ctx, key, buf.Bytes(), "text/csv"); err != nil {
			return res, services.Wrap(services.ErrTransient, "finalize", "upload results", key, err)
		}
		res.RemoteKey = key
	}

	s.logger.Info("run results exported",
		logging.String(logging.FieldInstrumentID, instrumentID),
		logging.String(logging.FieldRunID, runID),
		logging.String("local_path", res.LocalPath),
		logging.String("remote_key", res.RemoteKey),
		logging.Int("export_bytes", res.Bytes),
		logging.String(logging.FieldEventType, "run_exported"),
	)
	return res, nil
}

// ObjectKey returns the bucket key for a run export.
func ObjectKey(prefix, instrumentID, runID string) string {
	return path.Join(prefix, instrumentID, runID, "results.csv")
}
