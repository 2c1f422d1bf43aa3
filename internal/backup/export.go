package backup

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"autoqc/internal/store"
)

var exportHeader = []string{
	"instrument_id", "run_id", "sample_id", "position", "polarity", "role",
	"qc_result", "reason", "compound", "observed_mz", "observed_rt", "intensity",
	"delta_mz", "delta_rt", "in_run_delta_rt", "dropout", "warnings", "failures",
}

// WriteResults writes one CSV row per stored diagnostic. Samples without any
// diagnostic still get a single row so every verdict appears.
func WriteResults(w io.Writer, run *store.Run, records []store.FeatureRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}

	bySample := make(map[string][]store.FeatureRecord, len(run.Samples))
	for _, rec := range records {
		bySample[rec.SampleID] = append(bySample[rec.SampleID], rec)
	}
	for _, sample := range run.Samples {
		base := []string{
			run.InstrumentID, run.RunID, sample.SampleID, strconv.Itoa(sample.Position),
			string(sample.Polarity), string(sample.Role), sample.Result.Label(), sample.FailureReason,
		}
		recs := bySample[sample.SampleID]
		if len(recs) == 0 {
			row := append(append([]string(nil), base...), make([]string, len(exportHeader)-len(base))...)
			if err := cw.Write(row); err != nil {
				return err
			}
			continue
		}
		for _, rec := range recs {
			row := append(append([]string(nil), base...),
				rec.Diagnostic.Compound,
				formatObserved(rec.Feature.ObservedMZ, rec.Diagnostic.Dropout),
				formatObserved(rec.Feature.ObservedRT, rec.Diagnostic.Dropout),
				formatObserved(rec.Feature.Intensity, rec.Diagnostic.Dropout),
				formatObserved(rec.Diagnostic.DeltaMZ, rec.Diagnostic.Dropout),
				formatObserved(rec.Diagnostic.DeltaRT, rec.Diagnostic.Dropout),
				formatObserved(rec.Diagnostic.InRunDeltaRT, rec.Diagnostic.Dropout || !rec.Diagnostic.InRunAvailable),
				strconv.FormatBool(rec.Diagnostic.Dropout),
				strings.Join(rec.Diagnostic.Warnings, "|"),
				strings.Join(rec.Diagnostic.Failures, "|"),
			)
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatObserved(v float64, missing bool) string {
	if missing {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
