package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const runColumns = "instrument_id, run_id, method, qc_config, acquisition_path, status, forced_complete, monitor_pid, current_sample, created_at, updated_at, completed_at"

func scanRun(scanner rowScanner) (*Run, error) {
	var (
		run           Run
		status        string
		forced        int64
		pid           int64
		currentSample sql.NullString
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
		completedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&run.InstrumentID,
		&run.RunID,
		&run.Method,
		&run.QCConfig,
		&run.AcquisitionPath,
		&status,
		&forced,
		&pid,
		&currentSample,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.ForcedComplete = forced != 0
	run.MonitorPID = int(pid)
	run.CurrentSample = currentSample.String
	run.CreatedAt = parseTimeString(createdRaw)
	run.UpdatedAt = parseTimeString(updatedRaw)
	run.CompletedAt = parseTimeString(completedRaw)
	return &run, nil
}

// CreateRun records a submitted run and its ordered expected-sample list. A
// non-empty reference compound set must exist for the run's method and every
// polarity used by its subject samples.
func (s *Store) CreateRun(ctx context.Context, run Run, samples []Sample) error {
	ctx = ensureContext(ctx)
	run.InstrumentID = strings.TrimSpace(run.InstrumentID)
	run.RunID = strings.TrimSpace(run.RunID)
	if run.InstrumentID == "" || run.RunID == "" {
		return errors.New("instrument id and run id are required")
	}
	if len(samples) == 0 {
		return errors.New("run must list at least one expected sample")
	}
	if _, err := s.GetMethod(ctx, run.Method); err != nil {
		return err
	}
	if strings.TrimSpace(run.QCConfig) == "" {
		run.QCConfig = DefaultQCConfigName
	}
	if _, err := s.GetQCConfig(ctx, run.QCConfig); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(samples))
	polarities := make(map[Polarity]struct{}, 2)
	for i := range samples {
		id := strings.TrimSpace(samples[i].SampleID)
		if id == "" {
			return fmt.Errorf("sample at position %d has no id", i+1)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate sample id %q", id)
		}
		seen[id] = struct{}{}
		samples[i].SampleID = id
		if samples[i].Position == 0 {
			samples[i].Position = i + 1
		}
		if samples[i].Role == "" {
			samples[i].Role = RoleSample
		}
		if samples[i].Role == RoleSample {
			polarities[samples[i].Polarity] = struct{}{}
		}
	}

	now := formatTime(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRowContext(ctx, s.rebind("SELECT COUNT(1) FROM runs WHERE instrument_id = ? AND run_id = ?"),
			run.InstrumentID, run.RunID).Scan(&existing); err != nil {
			return fmt.Errorf("check run: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("%w: %s/%s", ErrRunExists, run.InstrumentID, run.RunID)
		}
		for polarity := range polarities {
			count, err := s.countReferenceCompounds(ctx, tx, run.Method, polarity, "")
			if err != nil {
				return fmt.Errorf("count reference compounds: %w", err)
			}
			if count == 0 {
				return fmt.Errorf("%w: method %s polarity %s", ErrNoReferenceCompounds, run.Method, polarity)
			}
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO runs (instrument_id, run_id, method, qc_config, acquisition_path, status, forced_complete, monitor_pid, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`),
			run.InstrumentID, run.RunID, run.Method, run.QCConfig, run.AcquisitionPath, string(RunActive), now, now); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		insert := s.rebind(`INSERT INTO samples (instrument_id, run_id, sample_id, position, polarity, role, biological_standard)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
		for _, sample := range samples {
			if _, err := tx.ExecContext(ctx, insert, run.InstrumentID, run.RunID, sample.SampleID, sample.Position,
				string(sample.Polarity), string(sample.Role), sample.BiologicalStandard); err != nil {
				return fmt.Errorf("insert sample %s: %w", sample.SampleID, err)
			}
		}
		return nil
	})
}

// GetRun loads a run with its ordered samples and progress counters.
func (s *Store) GetRun(ctx context.Context, instrumentID, runID string) (*Run, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+runColumns+" FROM runs WHERE instrument_id = ? AND run_id = ?"), instrumentID, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrRunNotFound, instrumentID, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	samples, err := s.ListSamples(ctx, instrumentID, runID)
	if err != nil {
		return nil, err
	}
	run.Samples = samples
	run.Progress = progressOf(samples)
	return run, nil
}

// ListRuns returns every run with progress counters, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY created_at DESC, instrument_id, run_id")
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range runs {
		progress, err := s.runProgress(ctx, runs[i].InstrumentID, runs[i].RunID)
		if err != nil {
			return nil, err
		}
		runs[i].Progress = progress
	}
	return runs, nil
}

func (s *Store) runProgress(ctx context.Context, instrumentID, runID string) (Progress, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT COALESCE(qc_result, ''), COUNT(1) FROM samples
WHERE instrument_id = ? AND run_id = ? GROUP BY COALESCE(qc_result, '')`), instrumentID, runID)
	if err != nil {
		return Progress{}, fmt.Errorf("run progress: %w", err)
	}
	defer rows.Close()
	var progress Progress
	for rows.Next() {
		var (
			result string
			count  int
		)
		if err := rows.Scan(&result, &count); err != nil {
			return Progress{}, err
		}
		progress.add(Result(result), count)
	}
	return progress, rows.Err()
}

func progressOf(samples []Sample) Progress {
	var progress Progress
	for _, sample := range samples {
		progress.add(sample.Result, 1)
	}
	return progress
}

func (p *Progress) add(result Result, count int) {
	p.Total += count
	switch result {
	case ResultPass:
		p.Passed += count
	case ResultWarning:
		p.Warned += count
	case ResultFail:
		p.Failed += count
	default:
		return
	}
	p.Processed += count
}

// MarkRunComplete transitions a run to Complete. Without force every expected
// sample must already carry a verdict.
func (s *Store) MarkRunComplete(ctx context.Context, instrumentID, runID string, force bool) error {
	ctx = ensureContext(ctx)
	progress, err := s.runProgress(ctx, instrumentID, runID)
	if err != nil {
		return err
	}
	if progress.Total == 0 {
		return fmt.Errorf("%w: %s/%s", ErrRunNotFound, instrumentID, runID)
	}
	if !force && progress.Remaining() > 0 {
		return fmt.Errorf("%w: %d of %d samples lack a verdict", ErrRunIncomplete, progress.Remaining(), progress.Total)
	}
	forced := force && progress.Remaining() > 0
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `UPDATE runs SET status = ?, forced_complete = ?, current_sample = NULL, completed_at = ?, updated_at = ?
WHERE instrument_id = ? AND run_id = ?`, string(RunComplete), boolToInt(forced), now, now, instrumentID, runID)
	if err != nil {
		return fmt.Errorf("mark run complete: %w", err)
	}
	return requireAffected(res, instrumentID, runID)
}

// ReopenRun returns a completed run to Active so a monitor can resume it.
func (s *Store) ReopenRun(ctx context.Context, instrumentID, runID string) error {
	res, err := s.execWithRetry(ctx, `UPDATE runs SET status = ?, forced_complete = 0, completed_at = NULL, updated_at = ?
WHERE instrument_id = ? AND run_id = ?`, string(RunActive), formatTime(time.Now()), instrumentID, runID)
	if err != nil {
		return fmt.Errorf("reopen run: %w", err)
	}
	return requireAffected(res, instrumentID, runID)
}

// SetMonitorPID records the process id of the run's monitor; zero clears it.
func (s *Store) SetMonitorPID(ctx context.Context, instrumentID, runID string, pid int) error {
	res, err := s.execWithRetry(ctx, "UPDATE runs SET monitor_pid = ?, updated_at = ? WHERE instrument_id = ? AND run_id = ?",
		pid, formatTime(time.Now()), instrumentID, runID)
	if err != nil {
		return fmt.Errorf("set monitor pid: %w", err)
	}
	return requireAffected(res, instrumentID, runID)
}

// SetCurrentSample records the sample whose write-stability watch is armed.
func (s *Store) SetCurrentSample(ctx context.Context, instrumentID, runID, sampleID string) error {
	res, err := s.execWithRetry(ctx, "UPDATE runs SET current_sample = ?, updated_at = ? WHERE instrument_id = ? AND run_id = ?",
		nullableString(sampleID), formatTime(time.Now()), instrumentID, runID)
	if err != nil {
		return fmt.Errorf("set current sample: %w", err)
	}
	return requireAffected(res, instrumentID, runID)
}

// DeleteRun removes a run, its samples, and stored features.
func (s *Store) DeleteRun(ctx context.Context, instrumentID, runID string) error {
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Explicit child deletes keep Postgres and SQLite behaviour identical
		// regardless of foreign key enforcement.
		for _, table := range []string{"features", "samples", "runs"} {
			if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM "+table+" WHERE instrument_id = ? AND run_id = ?"), instrumentID, runID); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		return nil
	})
}

func requireAffected(res sql.Result, instrumentID, runID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrRunNotFound, instrumentID, runID)
	}
	return nil
}
