package preflight

import (
	"fmt"
	"strings"

	"autoqc/internal/config"
)

// CheckNotificationsFromConfig summarizes the push notification settings.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown", Optional: true}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled", Optional: true}
	}
	return Result{Name: name, Passed: true, Detail: topic, Optional: true}
}

// CheckBackupFromConfig summarizes the S3 results export settings.
func CheckBackupFromConfig(cfg *config.Config) Result {
	const name = "Backup"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown", Optional: true}
	}
	if !cfg.Backup.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled", Optional: true}
	}
	if strings.TrimSpace(cfg.Backup.Bucket) == "" {
		return Result{Name: name, Detail: "Missing bucket", Optional: true}
	}
	detail := "s3://" + cfg.Backup.Bucket
	if prefix := strings.Trim(cfg.Backup.Prefix, "/"); prefix != "" {
		detail += "/" + prefix
	}
	if cfg.Backup.Endpoint != "" {
		detail = fmt.Sprintf("%s via %s", detail, cfg.Backup.Endpoint)
	}
	return Result{Name: name, Passed: true, Detail: detail, Optional: true}
}

// CheckStoreFromConfig describes the configured persistence backend.
func CheckStoreFromConfig(cfg *config.Config) Result {
	const name = "Store"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	switch cfg.Store.Driver {
	case "postgres":
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return Result{Name: name, Detail: "postgres (missing dsn)"}
		}
		return Result{Name: name, Passed: true, Detail: "postgres"}
	default:
		return Result{Name: name, Passed: true, Detail: "sqlite " + cfg.SQLitePath()}
	}
}
