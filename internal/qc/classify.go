package qc

import (
	"context"
	"fmt"
	"math"
	"strings"

	"autoqc/internal/store"
)

// Criterion names a QC check. The names double as diagnostic tags.
type Criterion string

const (
	CriterionDropouts  Criterion = "intensity_dropouts"
	CriterionLibraryRT Criterion = "library_rt_shift"
	CriterionInRunRT   Criterion = "in_run_rt_shift"
	CriterionLibraryMZ Criterion = "library_mz_shift"
)

// Warning-band divisors.
const (
	dropoutWarnDivisor   = 1.33
	libraryRTWarnDivisor = 1.5
	inRunRTWarnDivisor   = 1.25
	libraryMZWarnDivisor = 1.25
)

// Outcome is the sample-level result of one criterion.
type Outcome struct {
	Criterion Criterion
	Result    store.Result
	Detail    string
}

// Input is everything the classifier needs for one sample.
type Input struct {
	References []store.ReferenceCompound
	Features   []store.Feature
	// InRun maps compound name to the in-run RT average. Compounds without
	// prior data are absent.
	InRun  map[string]float64
	Config store.QCConfig
}

// Classify evaluates every enabled criterion and aggregates the verdict.
func Classify(in Input) store.Verdict {
	diagnostics := Diagnose(in.References, in.Features, in.InRun)
	outcomes := Evaluate(diagnostics, in.Config)

	results := make([]store.Result, 0, len(outcomes))
	var reasons []string
	for _, o := range outcomes {
		results = append(results, o.Result)
		if o.Result != store.ResultPass {
			reasons = append(reasons, o.Detail)
		}
	}
	return store.Verdict{
		Result:      Aggregate(results...),
		Reason:      strings.Join(reasons, "; "),
		Diagnostics: diagnostics,
	}
}

// Diagnose computes per-compound metrics without applying any cutoff.
func Diagnose(refs []store.ReferenceCompound, features []store.Feature, inRun map[string]float64) []store.Diagnostic {
	observed := make(map[string]store.Feature, len(features))
	for _, f := range features {
		observed[f.Compound] = f
	}
	out := make([]store.Diagnostic, 0, len(refs))
	for _, ref := range refs {
		diag := store.Diagnostic{Compound: ref.Name}
		f, ok := observed[ref.Name]
		if !ok {
			diag.Dropout = true
			out = append(out, diag)
			continue
		}
		diag.DeltaMZ = f.ObservedMZ - ref.ExpectedMZ
		diag.DeltaRT = f.ObservedRT - ref.ExpectedRT
		if avg, ok := inRun[ref.Name]; ok {
			diag.InRunDeltaRT = f.ObservedRT - avg
			diag.InRunAvailable = true
		}
		out = append(out, diag)
	}
	return out
}

// Evaluate applies each enabled criterion to diagnostics, tagging compounds
// in place, and returns one outcome per enabled criterion.
func Evaluate(diagnostics []store.Diagnostic, cfg store.QCConfig) []Outcome {
	var outcomes []Outcome
	if cfg.DropoutsEnabled {
		outcomes = append(outcomes, evaluateDropouts(diagnostics, cfg.DropoutCutoff))
	}
	if cfg.LibraryRTEnabled {
		outcomes = append(outcomes, evaluateShift(diagnostics, CriterionLibraryRT, cfg.LibraryRTCutoff, libraryRTWarnDivisor,
			func(d store.Diagnostic) (float64, bool) { return d.DeltaRT, !d.Dropout }))
	}
	if cfg.InRunRTEnabled && anyInRun(diagnostics) {
		outcomes = append(outcomes, evaluateShift(diagnostics, CriterionInRunRT, cfg.InRunRTCutoff, inRunRTWarnDivisor,
			func(d store.Diagnostic) (float64, bool) { return d.InRunDeltaRT, !d.Dropout && d.InRunAvailable }))
	}
	if cfg.LibraryMZEnabled {
		outcomes = append(outcomes, evaluateShift(diagnostics, CriterionLibraryMZ, cfg.LibraryMZCutoff, libraryMZWarnDivisor,
			func(d store.Diagnostic) (float64, bool) { return d.DeltaMZ, !d.Dropout }))
	}
	return outcomes
}

func evaluateDropouts(diagnostics []store.Diagnostic, cutoff float64) Outcome {
	count := 0
	for _, d := range diagnostics {
		if d.Dropout {
			count++
		}
	}
	out := Outcome{Criterion: CriterionDropouts, Result: store.ResultPass}
	n := float64(count)
	switch {
	case n >= cutoff:
		out.Result = store.ResultFail
	case n > cutoff/dropoutWarnDivisor:
		out.Result = store.ResultWarning
	}
	out.Detail = fmt.Sprintf("%s: %d of %d compounds missing", CriterionDropouts, count, len(diagnostics))
	return out
}

func evaluateShift(diagnostics []store.Diagnostic, criterion Criterion, cutoff, divisor float64, metric func(store.Diagnostic) (float64, bool)) Outcome {
	warnAbove := cutoff / divisor
	var evaluated, failed, warned int
	for i := range diagnostics {
		value, ok := metric(diagnostics[i])
		if !ok {
			continue
		}
		evaluated++
		abs := math.Abs(value)
		switch {
		case abs > cutoff:
			failed++
			diagnostics[i].Failures = append(diagnostics[i].Failures, string(criterion))
		case abs > warnAbove && abs < cutoff:
			warned++
			diagnostics[i].Warnings = append(diagnostics[i].Warnings, string(criterion))
		}
	}

	out := Outcome{Criterion: criterion, Result: store.ResultPass}
	switch {
	case evaluated == 0:
	case 2*failed >= evaluated:
		out.Result = store.ResultFail
	case 2*warned > evaluated:
		out.Result = store.ResultWarning
	}
	out.Detail = fmt.Sprintf("%s: %d failed, %d warned of %d compounds (cutoff %g)", criterion, failed, warned, evaluated, cutoff)
	return out
}

func anyInRun(diagnostics []store.Diagnostic) bool {
	for _, d := range diagnostics {
		if d.InRunAvailable && !d.Dropout {
			return true
		}
	}
	return false
}

// Aggregate combines criterion results: Fail dominates Warning dominates Pass.
func Aggregate(results ...store.Result) store.Result {
	verdict := store.ResultPass
	for _, r := range results {
		switch r {
		case store.ResultFail:
			return store.ResultFail
		case store.ResultWarning:
			verdict = store.ResultWarning
		}
	}
	return verdict
}

// PipelineFailure is the verdict for a sample whose external stages failed.
func PipelineFailure(err error) store.Verdict {
	reason := "pipeline failure"
	if err != nil {
		reason = err.Error()
	}
	return store.Verdict{Result: store.ResultFail, Reason: reason}
}

// BiologicalStandard records diagnostics for a benchmarking sample without
// applying any criterion; the verdict is always Pass.
func BiologicalStandard(refs []store.ReferenceCompound, features []store.Feature) store.Verdict {
	return store.Verdict{
		Result:      store.ResultPass,
		Reason:      "biological standard; criteria not applied",
		Diagnostics: Diagnose(refs, features, nil),
	}
}

// AverageSource supplies in-run RT averages from persisted verdicts.
type AverageSource interface {
	InRunAverage(ctx context.Context, instrumentID, runID string, polarity store.Polarity, compound string) (float64, bool, error)
}

// InRunAverages looks up the current in-run average for each reference compound.
func InRunAverages(ctx context.Context, src AverageSource, instrumentID, runID string, polarity store.Polarity, refs []store.ReferenceCompound) (map[string]float64, error) {
	out := make(map[string]float64, len(refs))
	for _, ref := range refs {
		avg, ok, err := src.InRunAverage(ctx, instrumentID, runID, polarity, ref.Name)
		if err != nil {
			return nil, fmt.Errorf("in-run average for %s: %w", ref.Name, err)
		}
		if ok {
			out[ref.Name] = avg
		}
	}
	return out, nil
}
