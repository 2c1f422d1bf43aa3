package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"autoqc/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("AUTOQC_NTFY_TOPIC", "")
	t.Setenv("AUTOQC_DATABASE_DSN", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "autoqc", "staging")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.Store.Driver)
	}
	if got := cfg.SQLitePath(); got != filepath.Join(tempHome, ".local", "share", "autoqc", "autoqc.db") {
		t.Fatalf("unexpected sqlite path: %q", got)
	}
	if cfg.Watcher.QuiescenceSeconds != 180 {
		t.Fatalf("unexpected quiescence: %d", cfg.Watcher.QuiescenceSeconds)
	}
	if cfg.Pipeline.Converter.TimeoutSeconds != 30 || cfg.Pipeline.Extractor.TimeoutSeconds != 30 {
		t.Fatalf("unexpected tool ceilings: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.ConversionRetries != 3 || cfg.Pipeline.RetryCooldownSeconds != 180 {
		t.Fatalf("unexpected retry policy: %+v", cfg.Pipeline)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.StagingDir, cfg.Paths.LogDir, cfg.Paths.ResultsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "autoqc.toml")

	type payload struct {
		Store struct {
			Driver string `toml:"driver"`
			DSN    string `toml:"dsn"`
		} `toml:"store"`
		Watcher struct {
			QuiescenceSeconds int      `toml:"quiescence_seconds"`
			Extensions        []string `toml:"extensions"`
		} `toml:"watcher"`
		Sequence struct {
			ExcludePatterns []string `toml:"exclude_patterns"`
		} `toml:"sequence"`
	}
	custom := payload{}
	custom.Store.Driver = "PostgreSQL"
	custom.Store.DSN = "postgres://qc@localhost/qc"
	custom.Watcher.QuiescenceSeconds = 5
	custom.Watcher.Extensions = []string{"RAW", ".raw", " mzML "}
	custom.Sequence.ExcludePatterns = []string{" Wash ", ""}

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Store.Driver != "postgres" {
		t.Fatalf("expected driver alias normalized to postgres, got %q", cfg.Store.Driver)
	}
	if cfg.Watcher.QuiescenceSeconds != 5 {
		t.Fatalf("unexpected quiescence: %d", cfg.Watcher.QuiescenceSeconds)
	}
	if strings.Join(cfg.Watcher.Extensions, ",") != ".raw,.mzml" {
		t.Fatalf("unexpected extensions: %v", cfg.Watcher.Extensions)
	}
	if len(cfg.Sequence.ExcludePatterns) != 1 || cfg.Sequence.ExcludePatterns[0] != "wash" {
		t.Fatalf("unexpected exclude patterns: %v", cfg.Sequence.ExcludePatterns)
	}
	if cfg.Pipeline.Converter.Binary != "msconvert" {
		t.Fatalf("expected default converter binary, got %q", cfg.Pipeline.Converter.Binary)
	}
}

func TestEnvOverridesFillEmptyValues(t *testing.T) {
	t.Setenv("AUTOQC_NTFY_TOPIC", "https://ntfy.example/qc")
	t.Setenv("AUTOQC_DATABASE_DSN", "/tmp/qc.db")
	path := filepath.Join(t.TempDir(), "missing.toml")

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected missing config file")
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example/qc" {
		t.Fatalf("unexpected topic: %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.SQLitePath() != "/tmp/qc.db" {
		t.Fatalf("expected dsn to override sqlite path, got %q", cfg.SQLitePath())
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"postgres without dsn", func(c *config.Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" }, "store.dsn"},
		{"unknown driver", func(c *config.Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"zero quiescence", func(c *config.Config) { c.Watcher.QuiescenceSeconds = 0 }, "watcher.quiescence_seconds"},
		{"converter without input", func(c *config.Config) { c.Pipeline.Converter.Args = []string{"-o", "{output_dir}"} }, "{input}"},
		{"extractor without output", func(c *config.Config) { c.Pipeline.Extractor.Args = []string{"{input_dir}"} }, "{output_dir}"},
		{"backup without bucket", func(c *config.Config) { c.Backup.Enabled = true }, "backup.bucket"},
		{"same markers", func(c *config.Config) { c.Sequence.NegativeMarker = c.Sequence.PositiveMarker }, "marker"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestRunPathsSanitizeIdentifiers(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StagingDir = "/srv/staging"
	cfg.Paths.DataDir = "/srv/data"
	cfg.Paths.LogDir = "/srv/logs"

	if got := cfg.RunStagingDir("QE 1", "2024/05"); got != "/srv/staging/QE_1/2024_05" {
		t.Fatalf("unexpected staging dir: %q", got)
	}
	if got := cfg.RunLockPath("QE1", "RUN"); got != "/srv/data/locks/QE1_RUN.lock" {
		t.Fatalf("unexpected lock path: %q", got)
	}
	if got := cfg.RunLogPath("QE1", "RUN"); got != "/srv/logs/autoqcd-QE1-RUN.log" {
		t.Fatalf("unexpected log path: %q", got)
	}
}

func TestCreateSampleWritesParsableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
}
