package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateTimings(); err != nil {
		return err
	}
	if err := c.validateTemplates(); err != nil {
		return err
	}
	if err := c.validateBackup(); err != nil {
		return err
	}
	if c.Sequence.PositiveMarker == c.Sequence.NegativeMarker {
		return errors.New("sequence.positive_marker and sequence.negative_marker must differ")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "sqlite":
		return nil
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn must be set when store.driver is postgres (or set AUTOQC_DATABASE_DSN)")
		}
		return nil
	default:
		return fmt.Errorf("store.driver: unsupported value %q (want sqlite or postgres)", c.Store.Driver)
	}
}

func (c *Config) validateTimings() error {
	return ensurePositiveMap(map[string]int{
		"watcher.quiescence_seconds":         c.Watcher.QuiescenceSeconds,
		"pipeline.converter.timeout_seconds": c.Pipeline.Converter.TimeoutSeconds,
		"pipeline.extractor.timeout_seconds": c.Pipeline.Extractor.TimeoutSeconds,
		"pipeline.poll_interval_millis":      c.Pipeline.PollIntervalMillis,
		"notifications.request_timeout":      c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateTemplates() error {
	if !containsPlaceholder(c.Pipeline.Converter.Args, "{input}") {
		return errors.New("pipeline.converter.args must reference {input}")
	}
	if !containsPlaceholder(c.Pipeline.Extractor.Args, "{input_dir}") && !containsPlaceholder(c.Pipeline.Extractor.Args, "{input}") {
		return errors.New("pipeline.extractor.args must reference {input_dir} or {input}")
	}
	if !containsPlaceholder(c.Pipeline.Extractor.Args, "{output_dir}") {
		return errors.New("pipeline.extractor.args must reference {output_dir}")
	}
	return nil
}

func (c *Config) validateBackup() error {
	if !c.Backup.Enabled {
		return nil
	}
	if c.Backup.Bucket == "" {
		return errors.New("backup.bucket must be set when backup.enabled is true")
	}
	return nil
}

func containsPlaceholder(args []string, placeholder string) bool {
	for _, arg := range args {
		if strings.Contains(arg, placeholder) {
			return true
		}
	}
	return false
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
