package testsupport

import (
	"context"
	"testing"

	"autoqc/internal/config"
	"autoqc/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// SeedMethod registers a method with the given reference compounds for both polarities.
func SeedMethod(t testing.TB, st *store.Store, method string, compounds ...store.ReferenceCompound) {
	t.Helper()

	ctx := context.Background()
	if err := st.UpsertMethod(ctx, store.Method{Name: method, PositiveParameters: "pos.txt", NegativeParameters: "neg.txt"}); err != nil {
		t.Fatalf("UpsertMethod: %v", err)
	}
	for _, polarity := range []store.Polarity{store.PolarityPositive, store.PolarityNegative} {
		if err := st.ReplaceReferenceCompounds(ctx, method, polarity, "", compounds); err != nil {
			t.Fatalf("ReplaceReferenceCompounds: %v", err)
		}
	}
}

// NewRun creates a run whose samples are all positive-mode subject samples.
func NewRun(t testing.TB, st *store.Store, instrumentID, runID, method, acquisitionPath string, sampleIDs ...string) *store.Run {
	t.Helper()

	samples := make([]store.Sample, 0, len(sampleIDs))
	for i, id := range sampleIDs {
		samples = append(samples, store.Sample{SampleID: id, Position: i + 1, Polarity: store.PolarityPositive, Role: store.RoleSample})
	}
	ctx := context.Background()
	run := store.Run{InstrumentID: instrumentID, RunID: runID, Method: method, AcquisitionPath: acquisitionPath}
	if err := st.CreateRun(ctx, run, samples); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	created, err := st.GetRun(ctx, instrumentID, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	return created
}
