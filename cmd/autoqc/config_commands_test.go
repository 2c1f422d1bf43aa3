package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigInitWritesSample(t *testing.T) {
	env := setupCLITestEnv(t)
	target := filepath.Join(env.baseDir, "fresh", "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Created autoqc config at "+target)
	requireContains(t, out, "autoqc preflight")

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read sample config: %v", err)
	}
	requireContains(t, string(data), "[pipeline]")

	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err == nil || !strings.Contains(err.Error(), "--force") {
		t.Fatalf("expected --force hint, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "-f"}, ""); err != nil {
		t.Fatalf("config init -f: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Config path:    "+env.configPath)
	requireContains(t, out, "Store:          sqlite")
	requireContains(t, out, "Staging:        "+env.cfg.Paths.StagingDir)
	requireContains(t, out, "Quiescence:     1s")
	requireContains(t, out, "Notifications:  disabled")
	requireContains(t, out, "Configuration OK")
}

func TestConfigValidateJSON(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate --json: %v", err)
	}
	var settings map[string]any
	if err := json.Unmarshal([]byte(out), &settings); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if settings["store_driver"] != "sqlite" || settings["from_defaults"] != false || settings["backup"] != "disabled" {
		t.Fatalf("unexpected settings %v", settings)
	}
}

func TestConfigValidateRejectsBadTiming(t *testing.T) {
	env := setupCLITestEnv(t)
	bad := writeFixture(t, env.baseDir, "bad.toml", "[watcher]\nquiescence_seconds = -1\n")

	_, _, err := runCLI(t, []string{"config", "validate"}, bad)
	if err == nil || !strings.Contains(err.Error(), "quiescence_seconds") {
		t.Fatalf("expected quiescence validation error, got %v", err)
	}
}
