package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sampleColumns = "instrument_id, run_id, sample_id, position, polarity, role, biological_standard, checksum, qc_result, failure_reason, processed_at"

func scanSample(scanner rowScanner) (Sample, error) {
	var (
		sample       Sample
		polarity     string
		role         string
		checksum     sql.NullString
		result       sql.NullString
		failure      sql.NullString
		processedRaw sql.NullString
	)
	if err := scanner.Scan(
		&sample.InstrumentID,
		&sample.RunID,
		&sample.SampleID,
		&sample.Position,
		&polarity,
		&role,
		&sample.BiologicalStandard,
		&checksum,
		&result,
		&failure,
		&processedRaw,
	); err != nil {
		return Sample{}, err
	}
	sample.Polarity = Polarity(polarity)
	sample.Role = Role(role)
	sample.Checksum = checksum.String
	sample.Result = Result(result.String)
	sample.FailureReason = failure.String
	sample.ProcessedAt = parseTimeString(processedRaw)
	return sample, nil
}

// ListSamples returns the run's expected samples in acquisition order.
func (s *Store) ListSamples(ctx context.Context, instrumentID, runID string) ([]Sample, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT "+sampleColumns+" FROM samples WHERE instrument_id = ? AND run_id = ? ORDER BY position, sample_id"),
		instrumentID, runID)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()
	var samples []Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// ListUnprocessedSamples returns the samples still lacking a verdict, in
// acquisition order, plus the sample whose watch was last armed if it is
// still unprocessed.
func (s *Store) ListUnprocessedSamples(ctx context.Context, instrumentID, runID string) ([]Sample, *Sample, error) {
	run, err := s.GetRun(ctx, instrumentID, runID)
	if err != nil {
		return nil, nil, err
	}
	var (
		pending []Sample
		current *Sample
	)
	for _, sample := range run.Samples {
		if sample.Processed() {
			continue
		}
		pending = append(pending, sample)
		if sample.SampleID == run.CurrentSample {
			candidate := sample
			current = &candidate
		}
	}
	return pending, current, nil
}

// SetSampleChecksum persists the latest content digest observed for a sample file.
func (s *Store) SetSampleChecksum(ctx context.Context, instrumentID, runID, sampleID, checksum string) error {
	res, err := s.execWithRetry(ctx, "UPDATE samples SET checksum = ? WHERE instrument_id = ? AND run_id = ? AND sample_id = ?",
		nullableString(checksum), instrumentID, runID, sampleID)
	if err != nil {
		return fmt.Errorf("set sample checksum: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s in %s/%s", ErrSampleNotFound, sampleID, instrumentID, runID)
	}
	return nil
}

// WriteVerdict stores a sample's verdict with its reconciled features and
// per-compound diagnostics. The write happens once: a second call for the
// same sample fails with ErrAlreadyClassified and leaves the first intact.
func (s *Store) WriteVerdict(ctx context.Context, instrumentID, runID, sampleID string, features []Feature, verdict Verdict) error {
	ctx = ensureContext(ctx)
	switch verdict.Result {
	case ResultPass, ResultWarning, ResultFail:
	default:
		return fmt.Errorf("write verdict: invalid result %q", verdict.Result)
	}
	observed := make(map[string]Feature, len(features))
	for _, feature := range features {
		observed[feature.Compound] = feature
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE samples SET qc_result = ?, failure_reason = ?, processed_at = ?
WHERE instrument_id = ? AND run_id = ? AND sample_id = ? AND qc_result IS NULL`),
			string(verdict.Result), nullableString(verdict.Reason), formatTime(time.Now()), instrumentID, runID, sampleID)
		if err != nil {
			return fmt.Errorf("update sample verdict: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, s.rebind("SELECT COUNT(1) FROM samples WHERE instrument_id = ? AND run_id = ? AND sample_id = ?"),
				instrumentID, runID, sampleID).Scan(&exists); err != nil {
				return fmt.Errorf("check sample: %w", err)
			}
			if exists == 0 {
				return fmt.Errorf("%w: %s in %s/%s", ErrSampleNotFound, sampleID, instrumentID, runID)
			}
			return fmt.Errorf("%w: %s in %s/%s", ErrAlreadyClassified, sampleID, instrumentID, runID)
		}

		insert := s.rebind(`INSERT INTO features (instrument_id, run_id, sample_id, compound, observed_mz, observed_rt, intensity, confirmed,
    delta_mz, delta_rt, in_run_delta_rt, dropout, warnings, failures)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		written := make(map[string]struct{}, len(verdict.Diagnostics))
		for _, diag := range verdict.Diagnostics {
			feature, present := observed[diag.Compound]
			present = present && !diag.Dropout
			var inRun sql.NullFloat64
			if diag.InRunAvailable {
				inRun = sql.NullFloat64{Float64: diag.InRunDeltaRT, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, insert,
				instrumentID, runID, sampleID, diag.Compound,
				nullFloat(feature.ObservedMZ, present),
				nullFloat(feature.ObservedRT, present),
				nullFloat(feature.Intensity, present),
				boolToInt(present && feature.Confirmed),
				nullFloat(diag.DeltaMZ, present),
				nullFloat(diag.DeltaRT, present),
				inRun,
				boolToInt(diag.Dropout),
				joinTags(diag.Warnings),
				joinTags(diag.Failures),
			); err != nil {
				return fmt.Errorf("insert feature %s: %w", diag.Compound, err)
			}
			written[diag.Compound] = struct{}{}
		}
		for _, feature := range features {
			if _, ok := written[feature.Compound]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, insert,
				instrumentID, runID, sampleID, feature.Compound,
				feature.ObservedMZ, feature.ObservedRT, feature.Intensity, boolToInt(feature.Confirmed),
				nil, nil, nil, 0, "", "",
			); err != nil {
				return fmt.Errorf("insert feature %s: %w", feature.Compound, err)
			}
		}
		return nil
	})
}

// InRunAverage returns the mean observed retention time of a compound over the
// run's already-classified subject samples of the given polarity. The second
// return value is false when no prior sample contributed a measurement. The
// value is derived from stored rows on every call.
func (s *Store) InRunAverage(ctx context.Context, instrumentID, runID string, polarity Polarity, compound string) (float64, bool, error) {
	ctx = ensureContext(ctx)
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT AVG(f.observed_rt)
FROM features f
JOIN samples s ON s.instrument_id = f.instrument_id AND s.run_id = f.run_id AND s.sample_id = f.sample_id
WHERE f.instrument_id = ? AND f.run_id = ? AND f.compound = ?
  AND f.dropout = 0 AND f.observed_rt IS NOT NULL
  AND s.role = ? AND s.polarity = ? AND s.qc_result IS NOT NULL`),
		instrumentID, runID, compound, string(RoleSample), string(polarity)).Scan(&avg)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("in-run average: %w", err)
	}
	if !avg.Valid {
		return 0, false, nil
	}
	return avg.Float64, true, nil
}

// ListFeatures returns stored per-compound rows for a run, optionally limited to one sample.
func (s *Store) ListFeatures(ctx context.Context, instrumentID, runID, sampleID string) ([]FeatureRecord, error) {
	ctx = ensureContext(ctx)
	query := `SELECT f.sample_id, f.compound, f.observed_mz, f.observed_rt, f.intensity, f.confirmed,
    f.delta_mz, f.delta_rt, f.in_run_delta_rt, f.dropout, f.warnings, f.failures
FROM features f
JOIN samples s ON s.instrument_id = f.instrument_id AND s.run_id = f.run_id AND s.sample_id = f.sample_id
WHERE f.instrument_id = ? AND f.run_id = ?`
	args := []any{instrumentID, runID}
	if sampleID != "" {
		query += " AND f.sample_id = ?"
		args = append(args, sampleID)
	}
	query += " ORDER BY s.position, f.compound"
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list features: %w", err)
	}
	defer rows.Close()
	var records []FeatureRecord
	for rows.Next() {
		var (
			rec                     FeatureRecord
			mz, rt, intensity       sql.NullFloat64
			deltaMZ, deltaRT, inRun sql.NullFloat64
			confirmed, dropout      int64
			warnings, failures      string
		)
		if err := rows.Scan(&rec.SampleID, &rec.Feature.Compound, &mz, &rt, &intensity, &confirmed,
			&deltaMZ, &deltaRT, &inRun, &dropout, &warnings, &failures); err != nil {
			return nil, err
		}
		rec.Diagnostic.Compound = rec.Feature.Compound
		rec.Feature.ObservedMZ = mz.Float64
		rec.Feature.ObservedRT = rt.Float64
		rec.Feature.Intensity = intensity.Float64
		rec.Feature.Confirmed = confirmed != 0
		rec.Diagnostic.DeltaMZ = deltaMZ.Float64
		rec.Diagnostic.DeltaRT = deltaRT.Float64
		rec.Diagnostic.InRunDeltaRT = inRun.Float64
		rec.Diagnostic.InRunAvailable = inRun.Valid
		rec.Diagnostic.Dropout = dropout != 0
		rec.Diagnostic.Warnings = splitTags(warnings)
		rec.Diagnostic.Failures = splitTags(failures)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullFloat(value float64, valid bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: value, Valid: valid}
}
