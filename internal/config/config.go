package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	ResultsDir string `toml:"results_dir"`
}

// Store selects the persistence backend.
type Store struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Watcher contains the acquisition-completion timings.
type Watcher struct {
	QuiescenceSeconds int      `toml:"quiescence_seconds"`
	Extensions        []string `toml:"extensions"`
	TransientRetries  int      `toml:"transient_retries"`
}

// Tool describes one external analysis program invocation.
type Tool struct {
	Binary         string   `toml:"binary"`
	Args           []string `toml:"args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// Pipeline contains the converter and extractor settings plus retry policy.
type Pipeline struct {
	Converter            Tool `toml:"converter"`
	Extractor            Tool `toml:"extractor"`
	PollIntervalMillis   int  `toml:"poll_interval_millis"`
	ConversionRetries    int  `toml:"conversion_retries"`
	RetryCooldownSeconds int  `toml:"retry_cooldown_seconds"`
}

// Sequence controls how instrument sequence files become expected samples.
type Sequence struct {
	PositiveMarker  string   `toml:"positive_marker"`
	NegativeMarker  string   `toml:"negative_marker"`
	ExcludePatterns []string `toml:"exclude_patterns"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Warnings       bool   `toml:"warnings"`
	Failures       bool   `toml:"failures"`
	RunComplete    bool   `toml:"run_complete"`
}

// Backup contains S3 export settings.
type Backup struct {
	Enabled      bool   `toml:"enabled"`
	Bucket       string `toml:"bucket"`
	Prefix       string `toml:"prefix"`
	Region       string `toml:"region"`
	Endpoint     string `toml:"endpoint"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// Metrics contains Prometheus exposition settings. An empty listen address
// disables the HTTP endpoint.
type Metrics struct {
	ListenAddress string `toml:"listen_address"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for autoqc.
//
// Configuration sections by subsystem:
//   - Paths: data, staging, log, and results directories
//   - Store: sqlite (default) or postgres persistence
//   - Watcher: write-stability quiescence interval and file extensions
//   - Pipeline: converter/extractor command lines, ceilings, retry policy
//   - Sequence: polarity markers and excluded sample names
//   - Notifications: ntfy push notification settings
//   - Backup: S3 results export
//   - Metrics: Prometheus endpoint
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Watcher       Watcher       `toml:"watcher"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Sequence      Sequence      `toml:"sequence"`
	Notifications Notifications `toml:"notifications"`
	Backup        Backup        `toml:"backup"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("autoqc.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a monitor process writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StagingDir, c.Paths.LogDir, c.Paths.ResultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RunStagingDir returns the run-exclusive staging area. The converter and
// extractor write below it; it is cleared between samples.
func (c *Config) RunStagingDir(instrumentID, runID string) string {
	return filepath.Join(c.Paths.StagingDir, sanitizeSegment(instrumentID), sanitizeSegment(runID))
}

// RunLockPath returns the flock path guarding a run against concurrent monitors.
func (c *Config) RunLockPath(instrumentID, runID string) string {
	return filepath.Join(c.Paths.DataDir, "locks", sanitizeSegment(instrumentID)+"_"+sanitizeSegment(runID)+".lock")
}

// RunLogPath returns the per-run log file written by the monitor process.
func (c *Config) RunLogPath(instrumentID, runID string) string {
	return filepath.Join(c.Paths.LogDir, "autoqcd-"+sanitizeSegment(instrumentID)+"-"+sanitizeSegment(runID)+".log")
}

// SQLitePath returns the database file used when store.driver is sqlite and no DSN is set.
func (c *Config) SQLitePath() string {
	if dsn := strings.TrimSpace(c.Store.DSN); dsn != "" {
		return dsn
	}
	return filepath.Join(c.Paths.DataDir, "autoqc.db")
}

// Quiescence returns the write-stability wait.
func (c *Config) Quiescence() time.Duration {
	return time.Duration(c.Watcher.QuiescenceSeconds) * time.Second
}

// PollInterval returns the external tool liveness poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Pipeline.PollIntervalMillis) * time.Millisecond
}

// RetryCooldown returns the wait between conversion attempts.
func (c *Config) RetryCooldown() time.Duration {
	return time.Duration(c.Pipeline.RetryCooldownSeconds) * time.Second
}

// Timeout returns the tool's liveness ceiling.
func (t Tool) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

func sanitizeSegment(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, value)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
