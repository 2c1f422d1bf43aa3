package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autoqc/internal/store"
	"autoqc/internal/testsupport"
)

var references = []store.ReferenceCompound{
	{Name: "Caffeine", ExpectedMZ: 195.0877, ExpectedRT: 2.10},
	{Name: "Tryptophan", ExpectedMZ: 205.0972, ExpectedRT: 3.40},
}

const sequenceCSV = `Bracket Type=4,,
Sample Type,File Name,Path
Unknown,QC_Pos_01,C:\Xcalibur\data
Unknown,Wash_Pos_02,C:\Xcalibur\data
Unknown,QC_Pos_03,C:\Xcalibur\data
`

func submitArgs(env *cliTestEnv, sequencePath string) []string {
	return []string{"run", "submit", sequencePath,
		"--instrument", "QE1", "--run", "R1", "--method", "HILIC",
		"--acquisition-path", env.acqDir, "--no-start"}
}

func TestRunSubmitListShow(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.SeedMethod(t, env.store, "HILIC", references...)
	seq := writeFixture(t, env.baseDir, "sequence.csv", sequenceCSV)

	out, _, err := runCLI(t, submitArgs(env, seq), env.configPath)
	if err != nil {
		t.Fatalf("run submit: %v", err)
	}
	requireContains(t, out, "Created run QE1/R1 with 2 expected samples")

	run, err := env.store.GetRun(context.Background(), "QE1", "R1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(run.Samples) != 2 || run.Samples[1].SampleID != "QC_Pos_03" {
		t.Fatalf("unexpected samples %+v", run.Samples)
	}
	if run.AcquisitionPath != env.acqDir {
		t.Fatalf("unexpected acquisition path %q", run.AcquisitionPath)
	}

	out, _, err = runCLI(t, []string{"run", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("run list: %v", err)
	}
	requireContains(t, out, "QE1")
	requireContains(t, out, "0/2")

	out, _, err = runCLI(t, []string{"--json", "run", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("run list --json: %v", err)
	}
	var summaries []runSummary
	if err := json.Unmarshal([]byte(out), &summaries); err != nil {
		t.Fatalf("decode run list: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Total != 2 || summaries[0].Status != string(store.RunActive) {
		t.Fatalf("unexpected summaries %+v", summaries)
	}

	out, _, err = runCLI(t, []string{"run", "show", "QE1", "R1"}, env.configPath)
	if err != nil {
		t.Fatalf("run show: %v", err)
	}
	requireContains(t, out, "QC_Pos_01")
	requireContains(t, out, "Unprocessed")
	requireContains(t, out, "not running")
}

func TestRunSubmitRejectsSampleWithoutPolarity(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.SeedMethod(t, env.store, "HILIC", references...)
	seq := writeFixture(t, env.baseDir, "sequence.csv", "File Name\nQC_01\n")

	_, _, err := runCLI(t, submitArgs(env, seq), env.configPath)
	if err == nil || !strings.Contains(err.Error(), "QC_01") {
		t.Fatalf("expected polarity error naming QC_01, got %v", err)
	}
	if _, err := env.store.GetRun(context.Background(), "QE1", "R1"); !errors.Is(err, store.ErrRunNotFound) {
		t.Fatalf("expected no run created, got %v", err)
	}
}

func TestRunSubmitRejectsDuplicateRun(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.SeedMethod(t, env.store, "HILIC", references...)
	seq := writeFixture(t, env.baseDir, "sequence.csv", sequenceCSV)

	if _, _, err := runCLI(t, submitArgs(env, seq), env.configPath); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, _, err := runCLI(t, submitArgs(env, seq), env.configPath)
	if !errors.Is(err, store.ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}
}

func TestRunSubmitLaunchesMonitor(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.SeedMethod(t, env.store, "HILIC", references...)
	seq := writeFixture(t, env.baseDir, "sequence.csv", sequenceCSV)

	argsFile := filepath.Join(env.baseDir, "monitor-args.txt")
	script := writeFixture(t, env.baseDir, "fake-autoqcd", "#!/bin/sh\necho \"$@\" > "+argsFile+"\n")
	if err := os.Chmod(script, 0o755); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Setenv("AUTOQC_MONITOR_BINARY", script)

	args := submitArgs(env, seq)
	out, _, err := runCLI(t, args[:len(args)-1], env.configPath)
	if err != nil {
		t.Fatalf("run submit: %v", err)
	}
	requireContains(t, out, "Monitor started (pid")

	deadline := time.Now().Add(5 * time.Second)
	var got []byte
	for {
		got, err = os.ReadFile(argsFile)
		if err == nil && len(got) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("monitor was not launched: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	want := "--config " + env.configPath + " " + env.acqDir + " QE1 R1"
	if strings.TrimSpace(string(got)) != want {
		t.Fatalf("unexpected monitor args %q, want %q", strings.TrimSpace(string(got)), want)
	}
}

func TestRunCompleteAndRestartRequiresReopen(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.SeedMethod(t, env.store, "HILIC", references...)
	testsupport.NewRun(t, env.store, "QE1", "R1", "HILIC", env.acqDir, "S1", "S2")

	out, _, err := runCLI(t, []string{"run", "complete", "QE1", "R1"}, env.configPath)
	if err != nil {
		t.Fatalf("run complete: %v", err)
	}
	requireContains(t, out, "marked complete")

	run, err := env.store.GetRun(context.Background(), "QE1", "R1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != store.RunComplete || !run.ForcedComplete {
		t.Fatalf("expected forced completion, got %s forced=%v", run.Status, run.ForcedComplete)
	}

	_, _, err = runCLI(t, []string{"run", "restart", "QE1", "R1"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "--reopen") {
		t.Fatalf("expected reopen hint, got %v", err)
	}
}

func TestRunStopWithoutMonitor(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.SeedMethod(t, env.store, "HILIC", references...)
	testsupport.NewRun(t, env.store, "QE1", "R1", "HILIC", env.acqDir, "S1")

	out, _, err := runCLI(t, []string{"run", "stop", "QE1", "R1"}, env.configPath)
	if err != nil {
		t.Fatalf("run stop: %v", err)
	}
	requireContains(t, out, "has no running monitor")
}

func TestRunExportWritesResults(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.SeedMethod(t, env.store, "HILIC", references...)
	testsupport.NewRun(t, env.store, "QE1", "R1", "HILIC", env.acqDir, "S1", "S2")
	features := []store.Feature{
		{Compound: "Caffeine", ObservedMZ: 195.0880, ObservedRT: 2.12, Intensity: 1000, Confirmed: true},
		{Compound: "Tryptophan", ObservedMZ: 205.0970, ObservedRT: 3.41, Intensity: 800, Confirmed: true},
	}
	verdict := store.Verdict{
		Result: store.ResultPass,
		Diagnostics: []store.Diagnostic{
			{Compound: "Caffeine", DeltaMZ: 0.0003, DeltaRT: 0.02},
			{Compound: "Tryptophan", DeltaMZ: -0.0002, DeltaRT: 0.01},
		},
	}
	if err := env.store.WriteVerdict(context.Background(), "QE1", "R1", "S1", features, verdict); err != nil {
		t.Fatalf("WriteVerdict: %v", err)
	}

	out, _, err := runCLI(t, []string{"run", "export", "QE1", "R1"}, env.configPath)
	if err != nil {
		t.Fatalf("run export: %v", err)
	}
	requireContains(t, out, "Wrote")

	data, err := os.ReadFile(filepath.Join(env.cfg.Paths.ResultsDir, "QE1_R1_results.csv"))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	requireContains(t, string(data), "Caffeine")
	requireContains(t, string(data), "S1")

	copyPath := filepath.Join(t.TempDir(), "reports", "qe1.csv")
	out, _, err = runCLI(t, []string{"run", "export", "QE1", "R1", "--output", copyPath}, env.configPath)
	if err != nil {
		t.Fatalf("run export --output: %v", err)
	}
	requireContains(t, out, "Copied to "+copyPath)
	copied, err := os.ReadFile(copyPath)
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if string(copied) != string(data) {
		t.Fatalf("copy differs from results CSV:\n%s\n---\n%s", copied, data)
	}
}

func TestRunDeleteRemovesRun(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.SeedMethod(t, env.store, "HILIC", references...)
	testsupport.NewRun(t, env.store, "QE1", "R1", "HILIC", env.acqDir, "S1")
	stagingDir := env.cfg.RunStagingDir("QE1", "R1")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		t.Fatalf("mkdir staging: %v", err)
	}

	out, _, err := runCLI(t, []string{"run", "delete", "QE1", "R1"}, env.configPath)
	if err != nil {
		t.Fatalf("run delete: %v", err)
	}
	requireContains(t, out, "Deleted run QE1/R1")
	if _, err := env.store.GetRun(context.Background(), "QE1", "R1"); !errors.Is(err, store.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := os.Stat(stagingDir); !os.IsNotExist(err) {
		t.Fatalf("expected staging removed, got %v", err)
	}
}

func TestRunBackfillWithoutFiles(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.SeedMethod(t, env.store, "HILIC", references...)
	testsupport.NewRun(t, env.store, "QE1", "R1", "HILIC", env.acqDir, "S1")

	out, _, err := runCLI(t, []string{"run", "backfill", "QE1", "R1"}, env.configPath)
	if err != nil {
		t.Fatalf("run backfill: %v", err)
	}
	requireContains(t, out, "No unprocessed sample files found")
}

func TestRunLogsPrintsTrailingLines(t *testing.T) {
	env := setupCLITestEnv(t)
	logPath := env.cfg.RunLogPath("QE1", "R1")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	if err := os.WriteFile(logPath, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"run", "logs", "QE1", "R1", "--lines", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("run logs: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("unexpected output %q", out)
	}

	_, _, err = runCLI(t, []string{"run", "logs", "QE1", "R2"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "no log") {
		t.Fatalf("expected missing log error, got %v", err)
	}
}
