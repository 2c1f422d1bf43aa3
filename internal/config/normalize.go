package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeWatcher()
	c.normalizePipeline()
	c.normalizeSequence()
	c.normalizeNotifications()
	c.normalizeBackup()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ResultsDir) == "" {
		c.Paths.ResultsDir = defaultResultsDir
	}
	if c.Paths.ResultsDir, err = expandPath(c.Paths.ResultsDir); err != nil {
		return fmt.Errorf("paths.results_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "", "sqlite", "sqlite3":
		c.Store.Driver = "sqlite"
	case "postgresql", "pgx":
		c.Store.Driver = "postgres"
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.DSN == "" {
		if value, ok := os.LookupEnv("AUTOQC_DATABASE_DSN"); ok {
			c.Store.DSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeWatcher() {
	if c.Watcher.TransientRetries < 0 {
		c.Watcher.TransientRetries = 0
	}
	exts := make([]string, 0, len(c.Watcher.Extensions))
	seen := make(map[string]struct{}, len(c.Watcher.Extensions))
	for _, ext := range c.Watcher.Extensions {
		normalized := strings.ToLower(strings.TrimSpace(ext))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		exts = append(exts, normalized)
	}
	c.Watcher.Extensions = exts
}

func (c *Config) normalizePipeline() {
	c.Pipeline.Converter.Binary = strings.TrimSpace(c.Pipeline.Converter.Binary)
	if c.Pipeline.Converter.Binary == "" {
		c.Pipeline.Converter.Binary = defaultConverterBinary
	}
	if len(c.Pipeline.Converter.Args) == 0 {
		c.Pipeline.Converter.Args = append([]string(nil), defaultConverterArgs...)
	}
	c.Pipeline.Extractor.Binary = strings.TrimSpace(c.Pipeline.Extractor.Binary)
	if c.Pipeline.Extractor.Binary == "" {
		c.Pipeline.Extractor.Binary = defaultExtractorBinary
	}
	if len(c.Pipeline.Extractor.Args) == 0 {
		c.Pipeline.Extractor.Args = append([]string(nil), defaultExtractorArgs...)
	}
	if c.Pipeline.PollIntervalMillis <= 0 {
		c.Pipeline.PollIntervalMillis = defaultPollIntervalMillis
	}
	if c.Pipeline.ConversionRetries < 0 {
		c.Pipeline.ConversionRetries = 0
	}
	if c.Pipeline.RetryCooldownSeconds < 0 {
		c.Pipeline.RetryCooldownSeconds = 0
	}
}

func (c *Config) normalizeSequence() {
	c.Sequence.PositiveMarker = strings.TrimSpace(c.Sequence.PositiveMarker)
	if c.Sequence.PositiveMarker == "" {
		c.Sequence.PositiveMarker = defaultPositiveMarker
	}
	c.Sequence.NegativeMarker = strings.TrimSpace(c.Sequence.NegativeMarker)
	if c.Sequence.NegativeMarker == "" {
		c.Sequence.NegativeMarker = defaultNegativeMarker
	}
	patterns := make([]string, 0, len(c.Sequence.ExcludePatterns))
	for _, pattern := range c.Sequence.ExcludePatterns {
		if trimmed := strings.ToLower(strings.TrimSpace(pattern)); trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	c.Sequence.ExcludePatterns = patterns
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("AUTOQC_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeBackup() {
	c.Backup.Bucket = strings.TrimSpace(c.Backup.Bucket)
	c.Backup.Prefix = strings.Trim(strings.TrimSpace(c.Backup.Prefix), "/")
	c.Backup.Region = strings.TrimSpace(c.Backup.Region)
	c.Backup.Endpoint = strings.TrimSpace(c.Backup.Endpoint)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
