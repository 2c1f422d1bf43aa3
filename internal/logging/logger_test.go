package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autoqc/internal/config"
	"autoqc/internal/logging"
	"autoqc/internal/services"
)

func TestNewFromConfigMirrorsToFile(t *testing.T) {
	cfg := config.Default()
	logPath := filepath.Join(t.TempDir(), "logs", "run.log")

	logger, err := logging.NewFromConfig(&cfg, logPath, false)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("monitor started")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "monitor started") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message without caller")
	if strings.Contains(buf.String(), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", buf.String())
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with caller")
	if !strings.Contains(buf.String(), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", buf.String())
	}
}

func TestConsoleHeaderCarriesRunSubject(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := services.WithRun(context.Background(), "QE1", "RUN-042")
	ctx = services.WithSample(ctx, "S3_Pos")
	ctx = services.WithStage(ctx, "extraction")
	component := logging.NewComponentLogger(logger, "pipeline")
	logging.WithContext(ctx, component).Info("stage finished",
		logging.Int64("output_bytes", 2048),
		logging.Duration("stage_duration", 1500*time.Millisecond),
		logging.String(logging.FieldVerdict, "Pass"),
	)

	out := buf.String()
	for _, fragment := range []string{
		"INFO [pipeline] QE1/RUN-042 · S3_Pos (extraction) – stage finished",
		"- Output Bytes: 2.0 KiB",
		"- Stage Duration: 1.5s",
		"- Verdict: Pass",
	} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in output:\n%s", fragment, out)
		}
	}
	if strings.Contains(out, "correlation") {
		t.Fatalf("unexpected debug-only field in info output:\n%s", out)
	}
}

func TestJSONLoggerEmitsContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := services.WithRun(context.Background(), "QE1", "RUN-042")
	ctx = services.WithRequestID(ctx, "req-xyz")
	logging.WithContext(ctx, logger).Info("contextual log")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, buf.String())
	}
	want := map[string]string{
		logging.FieldInstrumentID:  "QE1",
		logging.FieldRunID:         "RUN-042",
		logging.FieldCorrelationID: "req-xyz",
		"level":                    "info",
		"msg":                      "contextual log",
	}
	for key, value := range want {
		if payload[key] != value {
			t.Fatalf("field %s = %v, want %q", key, payload[key], value)
		}
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts field, got %v", payload)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "invalid", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output for info level: %q", buf.String())
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "notification failed", "notification_failed",
		logging.String(logging.FieldImpact, "operator not alerted"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if payload[logging.FieldEventType] != "notification_failed" {
		t.Fatalf("unexpected event type: %v", payload[logging.FieldEventType])
	}
	if payload[logging.FieldErrorHint] != "check the run log for details" {
		t.Fatalf("unexpected hint: %v", payload[logging.FieldErrorHint])
	}
	if payload[logging.FieldImpact] != "operator not alerted" {
		t.Fatalf("expected caller impact preserved, got %v", payload[logging.FieldImpact])
	}
}

func TestPruneRunLogsRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "autoqcd-QE1-R0.log")
	newPath := filepath.Join(dir, "autoqcd-QE1-R1.log")
	keepPath := filepath.Join(dir, "autoqcd-QE1-R2.log")
	otherPath := filepath.Join(dir, "notes.log")
	for _, path := range []string{oldPath, newPath, keepPath, otherPath} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().AddDate(0, 0, -10)
	for _, path := range []string{oldPath, keepPath, otherPath} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := logging.PruneRunLogs(logging.NewNop(), dir, 5, keepPath)
	if len(removed) != 1 || removed[0] != oldPath {
		t.Fatalf("unexpected removals %v", removed)
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("expected old log removed, stat err=%v", err)
	}
	for _, path := range []string{newPath, keepPath, otherPath} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}
