package coordinator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"autoqc/internal/config"
	"autoqc/internal/coordinator"
	"autoqc/internal/logging"
	"autoqc/internal/notifications"
	"autoqc/internal/pipeline"
	"autoqc/internal/services"
	"autoqc/internal/staging"
	"autoqc/internal/store"
	"autoqc/internal/testsupport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var references = []store.ReferenceCompound{
	{Name: "Caffeine", ExpectedMZ: 195.0877, ExpectedRT: 2.10},
	{Name: "Tryptophan", ExpectedMZ: 205.0972, ExpectedRT: 3.40},
}

const passingTable = "Title\tRT (min)\tPrecursor m/z\tHeight\n" +
	"Caffeine\t2.10\t195.0877\t1000\n" +
	"Tryptophan\t3.40\t205.0972\t900\n"

type fakePipeline struct {
	mu     sync.Mutex
	calls  []pipeline.Request
	fail   map[string]error
	tables map[string]string
}

func (p *fakePipeline) Run(_ context.Context, req pipeline.Request) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	err := p.fail[req.SampleName]
	table, ok := p.tables[req.SampleName]
	p.mu.Unlock()
	if err != nil {
		return "", err
	}
	if !ok {
		table = passingTable
	}
	if err := os.MkdirAll(req.ExtractionDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(req.ExtractionDir, req.SampleName+".txt")
	if err := os.WriteFile(path, []byte(table), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (p *fakePipeline) called(sampleID string) (pipeline.Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, req := range p.calls {
		if req.SampleName == sampleID {
			return req, true
		}
	}
	return pipeline.Request{}, false
}

type published struct {
	event   notifications.Event
	payload notifications.Payload
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{event: event, payload: payload})
	return nil
}

func (n *recordingNotifier) find(event notifications.Event) (published, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.events {
		if p.event == event {
			return p, true
		}
	}
	return published{}, false
}

type harness struct {
	cfg   *config.Config
	st    *store.Store
	dir   string
	pipe  *fakePipeline
	notes *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedMethod(t, st, "HILIC", references...)
	dir := filepath.Join(testsupport.BaseDir(cfg), "acquisition")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir acquisition dir: %v", err)
	}
	return &harness{
		cfg:   cfg,
		st:    st,
		dir:   dir,
		pipe:  &fakePipeline{fail: map[string]error{}, tables: map[string]string{}},
		notes: &recordingNotifier{},
	}
}

func (h *harness) newRun(t *testing.T, ids ...string) {
	t.Helper()
	testsupport.NewRun(t, h.st, "QE1", "R1", "HILIC", h.dir, ids...)
}

type running struct {
	done     chan struct{}
	watching chan struct{}
	err      error
}

func (h *harness) start(t *testing.T) (*running, context.CancelFunc) {
	t.Helper()
	watching := make(chan struct{})
	c := coordinator.New(h.st, h.pipe, h.notes, logging.NewNop(), coordinator.Options{
		AcquisitionPath: h.dir,
		InstrumentID:    "QE1",
		RunID:           "R1",
		Staging:         staging.ForRun(h.cfg, "QE1", "R1"),
		Extensions:      []string{".raw"},
		Quiescence:      20 * time.Millisecond,
	}, coordinator.WithWatchStarted(func() { close(watching) }))
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{done: make(chan struct{}), watching: watching}
	go func() {
		r.err = c.Run(ctx)
		close(r.done)
	}()
	t.Cleanup(func() {
		cancel()
		<-r.done
	})
	return r, cancel
}

func (r *running) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-r.done:
		return r.err
	case <-time.After(15 * time.Second):
		t.Fatal("coordinator did not finish")
		return nil
	}
}

// waitWatching blocks until the directory watch is registered.
func (r *running) waitWatching(t *testing.T) {
	t.Helper()
	select {
	case <-r.watching:
	case <-r.done:
		t.Fatalf("coordinator exited before watching: %v", r.err)
	case <-time.After(10 * time.Second):
		t.Fatal("directory watch was not started")
	}
}

func (h *harness) writeSample(t *testing.T, rel string) {
	t.Helper()
	testsupport.WriteFile(t, filepath.Join(h.dir, rel), 4096)
}

func (h *harness) sample(t *testing.T, id string) store.Sample {
	t.Helper()
	run := h.getRun(t)
	for _, s := range run.Samples {
		if s.SampleID == id {
			return s
		}
	}
	t.Fatalf("sample %s not found", id)
	return store.Sample{}
}

func (h *harness) getRun(t *testing.T) *store.Run {
	t.Helper()
	run, err := h.st.GetRun(context.Background(), "QE1", "R1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	return run
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestResumeProcessesSampleWithoutSuccessorSynchronously(t *testing.T) {
	h := newHarness(t)
	ids := []string{"S1", "S2", "S3", "S4", "S5", "S6", "S7", "S8", "S9", "S10"}
	h.newRun(t, ids...)
	ctx := context.Background()
	for _, id := range ids[:7] {
		if err := h.st.WriteVerdict(ctx, "QE1", "R1", id, nil, store.Verdict{Result: store.ResultPass}); err != nil {
			t.Fatalf("WriteVerdict %s: %v", id, err)
		}
	}
	h.writeSample(t, "S8.raw")

	r, _ := h.start(t)

	waitFor(t, "S8 verdict", func() bool { return h.sample(t, "S8").Processed() })
	if s8 := h.sample(t, "S8"); s8.Checksum != "" {
		t.Fatalf("S8 should not have been watched, checksum %q recorded", s8.Checksum)
	}

	r.waitWatching(t)
	h.writeSample(t, "S9.raw")
	waitFor(t, "S9 watch armed", func() bool { return h.sample(t, "S9").Checksum != "" })
	time.Sleep(150 * time.Millisecond)
	if _, ok := h.pipe.called("S9"); ok {
		t.Fatal("S9 processed before its successor appeared")
	}

	h.writeSample(t, "S10.raw")
	if err := r.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	run := h.getRun(t)
	if run.Status != store.RunComplete || run.ForcedComplete {
		t.Fatalf("unexpected run state %s forced=%v", run.Status, run.ForcedComplete)
	}
	if run.Progress.Passed != 10 {
		t.Fatalf("expected 10 passes, got %+v", run.Progress)
	}
	if _, ok := h.notes.find(notifications.EventRunStarted); ok {
		t.Fatal("resumed run should not announce a start")
	}
	done, ok := h.notes.find(notifications.EventRunCompleted)
	if !ok || done.payload["passed"] != 10 || done.payload["run"] != "R1" {
		t.Fatalf("unexpected completion notification %+v", done)
	}
	if _, err := os.Stat(h.cfg.RunStagingDir("QE1", "R1")); !os.IsNotExist(err) {
		t.Fatalf("expected staging released, got %v", err)
	}
}

func TestResumeWatchesNewestSampleWhenLast(t *testing.T) {
	h := newHarness(t)
	h.newRun(t, "S1", "S2", "S3")
	if err := h.st.WriteVerdict(context.Background(), "QE1", "R1", "S1", nil, store.Verdict{Result: store.ResultPass}); err != nil {
		t.Fatalf("WriteVerdict S1: %v", err)
	}
	h.writeSample(t, "S2.raw")
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(h.dir, "S2.raw"), old, old); err != nil {
		t.Fatalf("chtimes S2: %v", err)
	}
	h.writeSample(t, "S3.raw")

	r, _ := h.start(t)
	if err := r.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if s2 := h.sample(t, "S2"); s2.Checksum != "" || s2.Result != store.ResultPass {
		t.Fatalf("S2 should be processed without a watch, got checksum %q result %s", s2.Checksum, s2.Result)
	}
	if s3 := h.sample(t, "S3"); s3.Checksum == "" || s3.Result != store.ResultPass {
		t.Fatalf("S3 should be watched to completion, got checksum %q result %s", s3.Checksum, s3.Result)
	}
	run := h.getRun(t)
	if run.Status != store.RunComplete || run.ForcedComplete || run.Progress.Passed != 3 {
		t.Fatalf("unexpected run state %s forced=%v %+v", run.Status, run.ForcedComplete, run.Progress)
	}
}

func TestPipelineFailureForcesFailAndRunContinues(t *testing.T) {
	h := newHarness(t)
	h.newRun(t, "S1", "S2", "S3")
	h.pipe.fail["S2"] = services.Wrap(services.ErrTimeout, "conversion", "supervise", "still running after 30s", nil)

	r, _ := h.start(t)
	r.waitWatching(t)
	h.writeSample(t, "S1.raw")
	h.writeSample(t, "S2.raw")
	h.writeSample(t, "S3.raw")
	if err := r.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	s2 := h.sample(t, "S2")
	if s2.Result != store.ResultFail || !strings.Contains(s2.FailureReason, "timeout") {
		t.Fatalf("expected S2 Fail with timeout reason, got %s %q", s2.Result, s2.FailureReason)
	}
	for _, id := range []string{"S1", "S3"} {
		if got := h.sample(t, id).Result; got != store.ResultPass {
			t.Fatalf("expected %s Pass, got %s", id, got)
		}
	}
	failed, ok := h.notes.find(notifications.EventSampleFailed)
	if !ok || failed.payload["sample"] != "S2" {
		t.Fatalf("expected failure notification for S2, got %+v", failed)
	}
	if _, ok := h.notes.find(notifications.EventRunStarted); !ok {
		t.Fatal("expected run started notification")
	}
	if req, _ := h.pipe.called("S1"); req.Parameters != "pos.txt" {
		t.Fatalf("unexpected parameters %q", req.Parameters)
	}
}

func TestSampleInNewSubdirectoryIsDetected(t *testing.T) {
	h := newHarness(t)
	h.newRun(t, "S1")

	r, _ := h.start(t)
	r.waitWatching(t)
	h.writeSample(t, filepath.Join("batch1", "S1.raw"))
	if err := r.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.sample(t, "S1").Result; got != store.ResultPass {
		t.Fatalf("expected Pass, got %s", got)
	}
}

func TestCancelledWatchLeavesSampleUnprocessed(t *testing.T) {
	h := newHarness(t)
	h.newRun(t, "S1", "S2")

	r, cancel := h.start(t)
	r.waitWatching(t)
	h.writeSample(t, "S1.raw")
	waitFor(t, "S1 watch armed", func() bool { return h.sample(t, "S1").Checksum != "" })
	cancel()
	if err := r.wait(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	run := h.getRun(t)
	if run.Status != store.RunActive || run.CurrentSample != "S1" {
		t.Fatalf("unexpected run state %s current=%q", run.Status, run.CurrentSample)
	}
	if h.sample(t, "S1").Processed() {
		t.Fatal("S1 should stay unprocessed")
	}
}

func TestLastSampleForcesCompletionWhenEarlierMissing(t *testing.T) {
	h := newHarness(t)
	h.newRun(t, "S1", "S2")

	r, _ := h.start(t)
	r.waitWatching(t)
	h.writeSample(t, "S2.raw")
	if err := r.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	run := h.getRun(t)
	if run.Status != store.RunComplete || !run.ForcedComplete {
		t.Fatalf("expected forced completion, got %s forced=%v", run.Status, run.ForcedComplete)
	}
	done, ok := h.notes.find(notifications.EventRunCompleted)
	if !ok || done.payload["unprocessed"] != 1 {
		t.Fatalf("unexpected completion notification %+v", done)
	}
}

func TestCompletedRunIsNotMonitored(t *testing.T) {
	h := newHarness(t)
	h.newRun(t, "S1")
	if err := h.st.MarkRunComplete(context.Background(), "QE1", "R1", true); err != nil {
		t.Fatalf("MarkRunComplete: %v", err)
	}
	h.writeSample(t, "S1.raw")

	r, _ := h.start(t)
	if err := r.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := h.pipe.called("S1"); ok {
		t.Fatal("completed run should not process samples")
	}
}

func TestBiologicalStandardAlwaysPasses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.st.UpsertBiologicalStandard(ctx, store.BiologicalStandard{
		Name: "NIST", Method: "HILIC", Identifier: "NIST", PositiveParameters: "nist_pos.txt",
	}); err != nil {
		t.Fatalf("UpsertBiologicalStandard: %v", err)
	}
	if err := h.st.ReplaceReferenceCompounds(ctx, "HILIC", store.PolarityPositive, "NIST", references); err != nil {
		t.Fatalf("ReplaceReferenceCompounds: %v", err)
	}
	samples := []store.Sample{
		{SampleID: "NIST_01", Position: 1, Polarity: store.PolarityPositive, Role: store.RoleBiologicalStandard, BiologicalStandard: "NIST"},
	}
	if err := h.st.CreateRun(ctx, store.Run{InstrumentID: "QE1", RunID: "R1", Method: "HILIC", AcquisitionPath: h.dir}, samples); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	// Retention times far outside the library cutoff.
	h.pipe.tables["NIST_01"] = "Title\tRT (min)\tPrecursor m/z\tHeight\n" +
		"Caffeine\t2.90\t195.0877\t1000\n" +
		"Tryptophan\t4.40\t205.0972\t900\n"

	r, _ := h.start(t)
	r.waitWatching(t)
	h.writeSample(t, "NIST_01.raw")
	if err := r.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := h.sample(t, "NIST_01").Result; got != store.ResultPass {
		t.Fatalf("expected Pass, got %s", got)
	}
	req, ok := h.pipe.called("NIST_01")
	if !ok || req.Parameters != "nist_pos.txt" {
		t.Fatalf("unexpected request %+v", req)
	}
	records, err := h.st.ListFeatures(ctx, "QE1", "R1", "NIST_01")
	if err != nil {
		t.Fatalf("ListFeatures: %v", err)
	}
	if len(records) != 2 || len(records[0].Diagnostic.Failures) != 0 {
		t.Fatalf("expected two untagged diagnostics, got %+v", records)
	}
}

func TestIgnoresUnexpectedFiles(t *testing.T) {
	h := newHarness(t)
	h.newRun(t, "S1")

	r, _ := h.start(t)
	r.waitWatching(t)
	h.writeSample(t, "S1.tmp")
	h.writeSample(t, "Blank_03.raw")
	time.Sleep(100 * time.Millisecond)
	for _, id := range []string{"S1", "Blank_03"} {
		if _, ok := h.pipe.called(id); ok {
			t.Fatalf("unexpected file for %s must not be processed", id)
		}
	}
	h.writeSample(t, "S1.raw")
	if err := r.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestBackfillClassifiesPresentFiles(t *testing.T) {
	h := newHarness(t)
	h.newRun(t, "S1", "S2", "S3")
	h.writeSample(t, "S1.raw")
	h.writeSample(t, "S2.raw")

	opts := coordinator.Options{
		AcquisitionPath: h.dir,
		InstrumentID:    "QE1",
		RunID:           "R1",
		Staging:         staging.ForRun(h.cfg, "QE1", "R1"),
		Extensions:      []string{".raw"},
	}
	present, err := coordinator.New(h.st, h.pipe, h.notes, logging.NewNop(), opts).Present(context.Background())
	if err != nil {
		t.Fatalf("Present: %v", err)
	}
	if strings.Join(present, ",") != "S1,S2" {
		t.Fatalf("unexpected present samples %v", present)
	}

	var seen []string
	n, err := coordinator.New(h.st, h.pipe, h.notes, logging.NewNop(), opts).Backfill(context.Background(), func(id string) {
		seen = append(seen, id)
	})
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if n != 2 || strings.Join(seen, ",") != "S1,S2" {
		t.Fatalf("unexpected backfill %d %v", n, seen)
	}
	if run := h.getRun(t); run.Status != store.RunActive || run.Progress.Processed != 2 {
		t.Fatalf("unexpected run state %s %+v", run.Status, run.Progress)
	}

	h.writeSample(t, "S3.raw")
	if _, err := coordinator.New(h.st, h.pipe, h.notes, logging.NewNop(), opts).Backfill(context.Background(), nil); err != nil {
		t.Fatalf("second Backfill: %v", err)
	}
	if run := h.getRun(t); run.Status != store.RunComplete || run.ForcedComplete {
		t.Fatalf("expected completed run, got %s forced=%v", run.Status, run.ForcedComplete)
	}
}
