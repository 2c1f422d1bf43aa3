package fileutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "reports", "dst.txt")

	content := []byte("hello world")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(src, dst); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestCopyFile_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := CopyFile(filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	if err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestChecksumChangesWhenFileGrows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "S1.raw")
	if err := os.WriteFile(path, []byte("scan-1"), 0o644); err != nil {
		t.Fatal(err)
	}
	first, err := Checksum(path)
	if err != nil {
		t.Fatal(err)
	}
	again, err := Checksum(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != again {
		t.Fatalf("checksum not stable: %s vs %s", first, again)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("scan-2"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	grown, err := Checksum(path)
	if err != nil {
		t.Fatal(err)
	}
	if grown == first {
		t.Fatal("expected checksum to change after append")
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha256, got %q", first)
	}
}

func TestChecksumDirectoryBundle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "S1.d")
	if err := os.MkdirAll(filepath.Join(dir, "AcqData"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "AcqData", "MSScan.bin"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	before, err := Checksum(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "AcqData", "MSPeak.bin"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	after, err := Checksum(dir)
	if err != nil {
		t.Fatal(err)
	}
	if before == after {
		t.Fatal("expected bundle checksum to change when a member is added")
	}
}

func TestChecksumMissingFile(t *testing.T) {
	if _, err := Checksum(filepath.Join(t.TempDir(), "missing.raw")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestStripExtension(t *testing.T) {
	cases := map[string]string{
		"/data/run/QC_Pos_01.raw": "QC_Pos_01",
		"/data/run/S1.d/":         "S1",
		"S2":                      "S2",
	}
	for in, want := range cases {
		if got := StripExtension(in); got != want {
			t.Fatalf("StripExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRetryTransientRecoversFromLock(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
	calls := 0
	got, err := RetryTransient(context.Background(), policy, func() (string, error) {
		calls++
		if calls < 3 {
			return "", &os.PathError{Op: "open", Path: "S1.raw", Err: syscall.EAGAIN}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("RetryTransient: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestRetryTransientStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := RetryTransient(context.Background(), DefaultRetryPolicy(), func() (int, error) {
		calls++
		return 0, os.ErrNotExist
	})
	if !errors.Is(err, os.ErrNotExist) || calls != 1 {
		t.Fatalf("expected one call with ErrNotExist, got %d calls err=%v", calls, err)
	}
}

func TestRetryTransientExhausts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, InitialWait: time.Millisecond}
	_, err := RetryTransient(context.Background(), policy, func() (int, error) {
		return 0, syscall.EBUSY
	})
	if !errors.Is(err, syscall.EBUSY) {
		t.Fatalf("expected wrapped EBUSY, got %v", err)
	}
}
