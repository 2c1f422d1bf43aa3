package peaks_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"autoqc/internal/peaks"
	"autoqc/internal/services"
	"autoqc/internal/store"
	"autoqc/internal/testsupport"
)

var refs = []store.ReferenceCompound{
	{Name: "Caffeine", ExpectedMZ: 195.0877, ExpectedRT: 2.10},
	{Name: "Tryptophan", ExpectedMZ: 205.0972, ExpectedRT: 3.40},
	{Name: "Creatinine", ExpectedMZ: 114.0662, ExpectedRT: 1.20},
}

const msdialTable = "Project\tdemo\n" +
	"PeakID\tTitle\tRT (min)\tPrecursor m/z\tHeight\tMSMS matched\n" +
	"0\tCaffeine\t2.30\t195.0877\t1000\tFalse\n" +
	"1\tCaffeine\t2.12\t195.0880\t500\tTrue\n" +
	"2\tUnknown\t4.00\t300.1\t50\tFalse\n" +
	"3\tTryptophan\t3.45\t205.0970\t800\tFalse\n" +
	"4\tTryptophan\t3.39\t205.0974\t900\tFalse\n" +
	"5\tcaffeine\t2.10\t195.0877\t10\tTrue\n"

func TestParseSkipsPreambleAndUnknowns(t *testing.T) {
	rows, err := peaks.Parse(strings.NewReader(msdialTable))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(rows))
	}
	if rows[1].Name != "Caffeine" || !rows[1].Confirmed || rows[1].Intensity != 500 || rows[1].Order != 1 {
		t.Fatalf("unexpected row: %+v", rows[1])
	}
}

func TestParseRejectsTableWithoutHeader(t *testing.T) {
	_, err := peaks.Parse(strings.NewReader("a\tb\n1\t2\n"))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestParseRejectsBadNumbers(t *testing.T) {
	_, err := peaks.Parse(strings.NewReader("Name\tm/z\tRT\nCaffeine\tabc\t2.1\n"))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestReconcilePrefersConfirmedAndExactNames(t *testing.T) {
	rows, err := peaks.Parse(strings.NewReader(msdialTable))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := peaks.Reconcile(rows, refs)
	want := []store.Feature{
		{Compound: "Caffeine", ObservedMZ: 195.0880, ObservedRT: 2.12, Intensity: 500, Confirmed: true},
		{Compound: "Tryptophan", ObservedMZ: 205.0974, ObservedRT: 3.39, Intensity: 900},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Reconcile mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileMatchesTrimmedNamesCaseSensitively(t *testing.T) {
	table := "Title\tRT (min)\tPrecursor m/z\tHeight\n" +
		"  Creatinine \t1.21\t114.0660\t300\n" +
		"tryptophan\t3.40\t205.0972\t900\n"
	rows, err := peaks.Parse(strings.NewReader(table))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := peaks.Reconcile(rows, refs)
	want := []store.Feature{
		{Compound: "Creatinine", ObservedMZ: 114.0660, ObservedRT: 1.21, Intensity: 300},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Reconcile mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileEachCompoundAtMostOnce(t *testing.T) {
	var rows []peaks.Row
	for i := 0; i < 30; i++ {
		ref := refs[i%len(refs)]
		rows = append(rows, peaks.Row{
			Name:      ref.Name,
			MZ:        ref.ExpectedMZ + float64(i%4)*0.001,
			RT:        ref.ExpectedRT + float64(i%5)*0.01,
			Intensity: float64(100 + i),
			Confirmed: i%7 == 0,
			Order:     i,
		})
	}
	got := peaks.Reconcile(rows, append(refs, refs[0]))
	seen := map[string]bool{}
	for _, f := range got {
		if seen[f.Compound] {
			t.Fatalf("compound %s reconciled twice", f.Compound)
		}
		seen[f.Compound] = true
	}
	if len(got) != len(refs) {
		t.Fatalf("expected %d compounds, got %d", len(refs), len(got))
	}
}

func TestReconcileEqualDeltasPicksHigherIntensity(t *testing.T) {
	ref := store.ReferenceCompound{Name: "Standard", ExpectedMZ: 100, ExpectedRT: 5}
	rows := []peaks.Row{
		{Name: "Standard", MZ: 100.5, RT: 5.5, Intensity: 10, Order: 0},
		{Name: "Standard", MZ: 99.5, RT: 4.5, Intensity: 40, Order: 1},
		{Name: "Standard", MZ: 100.5, RT: 4.5, Intensity: 40, Order: 2},
		{Name: "Standard", MZ: 100.5, RT: 5.5, Intensity: 20, Order: 3},
	}
	got := peaks.Reconcile(rows, []store.ReferenceCompound{ref})
	want := []store.Feature{{Compound: "Standard", ObservedMZ: 99.5, ObservedRT: 4.5, Intensity: 40}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("tie break mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcilePrefersJointMinimumThenRT(t *testing.T) {
	ref := store.ReferenceCompound{Name: "Standard", ExpectedMZ: 100, ExpectedRT: 5}
	rows := []peaks.Row{
		{Name: "Standard", MZ: 100.25, RT: 5.5, Intensity: 900, Order: 0},
		{Name: "Standard", MZ: 100.5, RT: 5.25, Intensity: 1, Order: 1},
	}
	got := peaks.Reconcile(rows, []store.ReferenceCompound{ref})
	if len(got) != 1 || got[0].ObservedRT != 5.25 {
		t.Fatalf("expected the smaller RT delta to win, got %+v", got)
	}
}

func TestReadFileMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := peaks.ReadFile(filepath.Join(cfg.Paths.StagingDir, "missing.msdial"))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
