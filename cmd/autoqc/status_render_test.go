package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"autoqc/internal/preflight"
	"autoqc/internal/store"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Converter", statusError, "not found", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Converter:", "[ERROR] not found")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Store", statusOK, "sqlite", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestPreflightLineOptionalFailureIsWarning(t *testing.T) {
	line := preflightLine(preflight.Result{Name: "Notifications", Detail: "unreachable", Optional: true}, false)
	if !strings.Contains(line, "[WARN] unreachable") {
		t.Fatalf("expected warning, got %q", line)
	}
	line = preflightLine(preflight.Result{Name: "Extractor", Detail: "missing"}, false)
	if !strings.Contains(line, "[ERROR] missing") {
		t.Fatalf("expected error, got %q", line)
	}
}

func TestColorVerdict(t *testing.T) {
	if got := colorVerdict(store.ResultUnprocessed, false); got != "Unprocessed" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := colorVerdict(store.ResultFail, true); got != ansiRed+"Fail"+ansiReset {
		t.Fatalf("unexpected coloured label %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
