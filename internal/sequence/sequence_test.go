package sequence_test

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"autoqc/internal/config"
	"autoqc/internal/sequence"
	"autoqc/internal/services"
	"autoqc/internal/store"
	"autoqc/internal/testsupport"
)

const xcaliburSequence = `Bracket Type=4,,,
Sample Type,File Name,Sample ID,Path,Instrument Method
Unknown,Wash_Pos_01,,D:\Data,HILIC
Unknown,Study_Pos_S1,1,D:\Data,HILIC
Unknown,Study_Neg_S1,1,D:\Data,HILIC
QC,Pool_Pos_QC1,,D:\Data,HILIC
Blank,BLANK_Neg,,D:\Data,HILIC
Unknown,Study_Pos_S2,2,D:\Data,HILIC
`

func defaultOptions() sequence.Options {
	cfg := config.Default()
	return sequence.OptionsFromConfig(cfg.Sequence, []store.BiologicalStandard{{Name: "Pooled Plasma", Method: "HILIC", Identifier: "Pool_"}})
}

func TestParseXcaliburSequence(t *testing.T) {
	got, err := sequence.Parse(strings.NewReader(xcaliburSequence), defaultOptions())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []store.Sample{
		{SampleID: "Study_Pos_S1", Position: 1, Polarity: store.PolarityPositive, Role: store.RoleSample},
		{SampleID: "Study_Neg_S1", Position: 2, Polarity: store.PolarityNegative, Role: store.RoleSample},
		{SampleID: "Pool_Pos_QC1", Position: 3, Polarity: store.PolarityPositive, Role: store.RoleBiologicalStandard, BiologicalStandard: "Pooled Plasma"},
		{SampleID: "Study_Pos_S2", Position: 4, Polarity: store.PolarityPositive, Role: store.RoleSample},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRequiresPolarityMarker(t *testing.T) {
	input := "File Name\nStudy_S1\n"
	_, err := sequence.Parse(strings.NewReader(input), defaultOptions())
	if !errors.Is(err, services.ErrValidation) || !strings.Contains(err.Error(), "Study_S1") {
		t.Fatalf("expected polarity validation error naming the sample, got %v", err)
	}
}

func TestParseRequiresHeader(t *testing.T) {
	_, err := sequence.Parse(strings.NewReader("Sample,Path\nA,B\n"), defaultOptions())
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestParseFileFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sequence.csv")
	testsupport.WriteText(t, path, xcaliburSequence)

	got, err := sequence.ParseFile(path, defaultOptions())
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(got))
	}
	if _, err := sequence.ParseFile(filepath.Join(dir, "missing.csv"), defaultOptions()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
