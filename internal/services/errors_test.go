package services_test

import (
	"errors"
	"strings"
	"testing"

	"autoqc/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "conversion", "msconvert", "exited non-zero", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"conversion", "msconvert", "exited non-zero"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestIsToolFailure(t *testing.T) {
	timeout := services.Wrap(services.ErrTimeout, "extraction", "wait", "still running at ceiling", nil)
	if !services.IsToolFailure(timeout) {
		t.Fatal("expected timeout to count as tool failure")
	}
	validation := services.Wrap(services.ErrValidation, "reconcile", "parse", "bad header", nil)
	if services.IsToolFailure(validation) {
		t.Fatal("expected validation error not to count as tool failure")
	}
}

func TestDescribe(t *testing.T) {
	err := services.Wrap(services.ErrValidation, "reconcile", "parse", "missing name column", nil)
	details := services.Describe(err)
	if details.Marker != services.ErrValidation {
		t.Fatalf("unexpected marker: %v", details.Marker)
	}
	if details.Message != "reconcile: parse: missing name column" {
		t.Fatalf("unexpected message: %q", details.Message)
	}
	if got := services.Describe(nil); got.Message != "" || got.Marker != nil {
		t.Fatalf("expected empty details for nil, got %+v", got)
	}
}
