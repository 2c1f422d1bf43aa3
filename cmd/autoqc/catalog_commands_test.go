package main

import (
	"context"
	"testing"

	"autoqc/internal/store"
)

const hilicLibrary = `NAME: Caffeine
PRECURSORMZ: 195.0877
RETENTIONTIME: 2.10
Num Peaks: 2
138.0662 100
195.0877 45

NAME: Tryptophan
PRECURSORMZ: 205.0972
RETENTIONTIME: 3.40
Num Peaks: 1
188.0706 100
`

func TestMethodAddAndLibraryImport(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"method", "add", "HILIC", "--pos-params", "pos.txt", "--neg-params", "neg.txt"}, env.configPath)
	if err != nil {
		t.Fatalf("method add: %v", err)
	}
	requireContains(t, out, "Saved method HILIC")

	msp := writeFixture(t, env.baseDir, "hilic_pos.msp", hilicLibrary)
	out, _, err = runCLI(t, []string{"library", "import", msp, "--method", "HILIC", "--polarity", "pos"}, env.configPath)
	if err != nil {
		t.Fatalf("library import: %v", err)
	}
	requireContains(t, out, "Imported 2 reference compounds for HILIC (Positive)")

	refs, err := env.store.GetReferenceCompounds(context.Background(), "HILIC", store.PolarityPositive, "")
	if err != nil {
		t.Fatalf("GetReferenceCompounds: %v", err)
	}
	if len(refs) != 2 || len(refs[0].Spectrum) == 0 {
		t.Fatalf("unexpected reference compounds %+v", refs)
	}

	out, _, err = runCLI(t, []string{"library", "show", "--method", "HILIC", "--polarity", "positive"}, env.configPath)
	if err != nil {
		t.Fatalf("library show: %v", err)
	}
	requireContains(t, out, "Tryptophan")
	requireContains(t, out, "195.0877")

	out, _, err = runCLI(t, []string{"method", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("method list: %v", err)
	}
	requireContains(t, out, "pos.txt")
}

func TestLibraryImportRejectsUnknownPolarity(t *testing.T) {
	env := setupCLITestEnv(t)
	msp := writeFixture(t, env.baseDir, "lib.msp", hilicLibrary)
	if _, _, err := runCLI(t, []string{"library", "import", msp, "--method", "HILIC", "--polarity", "sideways"}, env.configPath); err == nil {
		t.Fatal("expected polarity error")
	}
}

func TestBiostandardAdd(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"method", "add", "HILIC"}, env.configPath); err != nil {
		t.Fatalf("method add: %v", err)
	}
	out, _, err := runCLI(t, []string{"biostandard", "add", "Urine", "--method", "HILIC", "--identifier", "Urine"}, env.configPath)
	if err != nil {
		t.Fatalf("biostandard add: %v", err)
	}
	requireContains(t, out, "Saved biological standard Urine")

	out, _, err = runCLI(t, []string{"biostandard", "list", "--method", "HILIC"}, env.configPath)
	if err != nil {
		t.Fatalf("biostandard list: %v", err)
	}
	requireContains(t, out, "Urine")
}

func TestQCConfigSetKeepsUnchangedValues(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"qc-config", "set", "strict", "--library-rt-cutoff", "0.05", "--in-run-rt=false"}, env.configPath); err != nil {
		t.Fatalf("qc-config set: %v", err)
	}
	cfg, err := env.store.GetQCConfig(context.Background(), "strict")
	if err != nil {
		t.Fatalf("GetQCConfig: %v", err)
	}
	defaults := store.DefaultQCConfig()
	if cfg.LibraryRTCutoff != 0.05 || cfg.InRunRTEnabled {
		t.Fatalf("expected changed values applied, got %+v", cfg)
	}
	if cfg.DropoutCutoff != defaults.DropoutCutoff || cfg.LibraryMZCutoff != defaults.LibraryMZCutoff || !cfg.LibraryMZEnabled {
		t.Fatalf("expected untouched values to keep defaults, got %+v", cfg)
	}

	out, _, err := runCLI(t, []string{"qc-config", "show", "strict"}, env.configPath)
	if err != nil {
		t.Fatalf("qc-config show: %v", err)
	}
	requireContains(t, out, "strict")
	requireContains(t, out, "(off)")
}
