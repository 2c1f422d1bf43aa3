package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const qcConfigColumns = "name, dropout_cutoff, library_rt_cutoff, in_run_rt_cutoff, library_mz_cutoff, dropouts_enabled, library_rt_enabled, in_run_rt_enabled, library_mz_enabled"

const qcConfigUpsert = `INSERT INTO qc_configs (` + qcConfigColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE SET
    dropout_cutoff = excluded.dropout_cutoff,
    library_rt_cutoff = excluded.library_rt_cutoff,
    in_run_rt_cutoff = excluded.in_run_rt_cutoff,
    library_mz_cutoff = excluded.library_mz_cutoff,
    dropouts_enabled = excluded.dropouts_enabled,
    library_rt_enabled = excluded.library_rt_enabled,
    in_run_rt_enabled = excluded.in_run_rt_enabled,
    library_mz_enabled = excluded.library_mz_enabled`

func qcConfigArgs(cfg QCConfig) []any {
	return []any{
		cfg.Name,
		cfg.DropoutCutoff,
		cfg.LibraryRTCutoff,
		cfg.InRunRTCutoff,
		cfg.LibraryMZCutoff,
		boolToInt(cfg.DropoutsEnabled),
		boolToInt(cfg.LibraryRTEnabled),
		boolToInt(cfg.InRunRTEnabled),
		boolToInt(cfg.LibraryMZEnabled),
	}
}

func scanQCConfig(scanner rowScanner) (QCConfig, error) {
	var cfg QCConfig
	var dropouts, libraryRT, inRunRT, libMZ int64
	if err := scanner.Scan(
		&cfg.Name,
		&cfg.DropoutCutoff,
		&cfg.LibraryRTCutoff,
		&cfg.InRunRTCutoff,
		&cfg.LibraryMZCutoff,
		&dropouts,
		&libraryRT,
		&inRunRT,
		&libMZ,
	); err != nil {
		return QCConfig{}, err
	}
	cfg.DropoutsEnabled = dropouts != 0
	cfg.LibraryRTEnabled = libraryRT != 0
	cfg.InRunRTEnabled = inRunRT != 0
	cfg.LibraryMZEnabled = libMZ != 0
	return cfg, nil
}

// UpsertQCConfig creates or replaces a named QC configuration.
func (s *Store) UpsertQCConfig(ctx context.Context, cfg QCConfig) error {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return errors.New("qc config name is required")
	}
	if cfg.DropoutCutoff <= 0 || cfg.LibraryRTCutoff <= 0 || cfg.InRunRTCutoff <= 0 || cfg.LibraryMZCutoff <= 0 {
		return fmt.Errorf("qc config %q: cutoffs must be positive", cfg.Name)
	}
	if _, err := s.execWithRetry(ctx, qcConfigUpsert, qcConfigArgs(cfg)...); err != nil {
		return fmt.Errorf("upsert qc config: %w", err)
	}
	return nil
}

// GetQCConfig loads a named configuration. The default configuration is
// always available, even if its row was removed by hand.
func (s *Store) GetQCConfig(ctx context.Context, name string) (QCConfig, error) {
	ctx = ensureContext(ctx)
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultQCConfigName
	}
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+qcConfigColumns+" FROM qc_configs WHERE name = ?"), name)
	cfg, err := scanQCConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		if name == DefaultQCConfigName {
			return DefaultQCConfig(), nil
		}
		return QCConfig{}, fmt.Errorf("%w: %s", ErrQCConfigNotFound, name)
	}
	if err != nil {
		return QCConfig{}, fmt.Errorf("get qc config: %w", err)
	}
	return cfg, nil
}

// GetRunQCConfig resolves the configuration assigned to a run.
func (s *Store) GetRunQCConfig(ctx context.Context, instrumentID, runID string) (QCConfig, error) {
	ctx = ensureContext(ctx)
	var name string
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT qc_config FROM runs WHERE instrument_id = ? AND run_id = ?"), instrumentID, runID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return QCConfig{}, fmt.Errorf("%w: %s/%s", ErrRunNotFound, instrumentID, runID)
	}
	if err != nil {
		return QCConfig{}, fmt.Errorf("get run qc config: %w", err)
	}
	return s.GetQCConfig(ctx, name)
}

// ListQCConfigs returns every stored configuration ordered by name.
func (s *Store) ListQCConfigs(ctx context.Context) ([]QCConfig, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT "+qcConfigColumns+" FROM qc_configs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list qc configs: %w", err)
	}
	defer rows.Close()
	var configs []QCConfig
	for rows.Next() {
		cfg, err := scanQCConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// UpsertMethod registers a chromatography method.
func (s *Store) UpsertMethod(ctx context.Context, method Method) error {
	method.Name = strings.TrimSpace(method.Name)
	if method.Name == "" {
		return errors.New("method name is required")
	}
	_, err := s.execWithRetry(ctx, `INSERT INTO methods (name, positive_parameters, negative_parameters, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (name) DO UPDATE SET
    positive_parameters = excluded.positive_parameters,
    negative_parameters = excluded.negative_parameters`,
		method.Name, method.PositiveParameters, method.NegativeParameters, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert method: %w", err)
	}
	return nil
}

// GetMethod loads a registered method.
func (s *Store) GetMethod(ctx context.Context, name string) (Method, error) {
	ctx = ensureContext(ctx)
	var method Method
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT name, positive_parameters, negative_parameters FROM methods WHERE name = ?"), name).
		Scan(&method.Name, &method.PositiveParameters, &method.NegativeParameters)
	if errors.Is(err, sql.ErrNoRows) {
		return Method{}, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}
	if err != nil {
		return Method{}, fmt.Errorf("get method: %w", err)
	}
	return method, nil
}

// ListMethods returns registered methods ordered by name.
func (s *Store) ListMethods(ctx context.Context) ([]Method, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT name, positive_parameters, negative_parameters FROM methods ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list methods: %w", err)
	}
	defer rows.Close()
	var methods []Method
	for rows.Next() {
		var method Method
		if err := rows.Scan(&method.Name, &method.PositiveParameters, &method.NegativeParameters); err != nil {
			return nil, err
		}
		methods = append(methods, method)
	}
	return methods, rows.Err()
}

// UpsertBiologicalStandard registers a biological standard for a method.
func (s *Store) UpsertBiologicalStandard(ctx context.Context, std BiologicalStandard) error {
	std.Name = strings.TrimSpace(std.Name)
	std.Identifier = strings.TrimSpace(std.Identifier)
	if std.Name == "" || std.Identifier == "" {
		return errors.New("biological standard name and identifier are required")
	}
	if _, err := s.GetMethod(ctx, std.Method); err != nil {
		return err
	}
	_, err := s.execWithRetry(ctx, `INSERT INTO biological_standards (name, method, identifier, positive_parameters, negative_parameters)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (name, method) DO UPDATE SET
    identifier = excluded.identifier,
    positive_parameters = excluded.positive_parameters,
    negative_parameters = excluded.negative_parameters`,
		std.Name, std.Method, std.Identifier, std.PositiveParameters, std.NegativeParameters)
	if err != nil {
		return fmt.Errorf("upsert biological standard: %w", err)
	}
	return nil
}

// ListBiologicalStandards returns the standards registered for a method.
func (s *Store) ListBiologicalStandards(ctx context.Context, method string) ([]BiologicalStandard, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT name, method, identifier, positive_parameters, negative_parameters
FROM biological_standards WHERE method = ? ORDER BY name`), method)
	if err != nil {
		return nil, fmt.Errorf("list biological standards: %w", err)
	}
	defer rows.Close()
	var standards []BiologicalStandard
	for rows.Next() {
		var std BiologicalStandard
		if err := rows.Scan(&std.Name, &std.Method, &std.Identifier, &std.PositiveParameters, &std.NegativeParameters); err != nil {
			return nil, err
		}
		standards = append(standards, std)
	}
	return standards, rows.Err()
}

// ReplaceReferenceCompounds swaps the reference set for (method, polarity[, biological standard]).
func (s *Store) ReplaceReferenceCompounds(ctx context.Context, method string, polarity Polarity, biologicalStandard string, compounds []ReferenceCompound) error {
	if _, err := s.GetMethod(ctx, method); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM reference_compounds WHERE method = ? AND polarity = ? AND biological_standard = ?"),
			method, string(polarity), biologicalStandard); err != nil {
			return fmt.Errorf("clear reference compounds: %w", err)
		}
		insert := s.rebind(`INSERT INTO reference_compounds (method, polarity, biological_standard, name, expected_mz, expected_rt, spectrum)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (method, polarity, biological_standard, name) DO UPDATE SET
    expected_mz = excluded.expected_mz,
    expected_rt = excluded.expected_rt,
    spectrum = excluded.spectrum`)
		for _, compound := range compounds {
			name := strings.TrimSpace(compound.Name)
			if name == "" {
				continue
			}
			spectrum, err := encodeSpectrum(compound.Spectrum)
			if err != nil {
				return fmt.Errorf("encode spectrum for %s: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx, insert, method, string(polarity), biologicalStandard, name,
				compound.ExpectedMZ, compound.ExpectedRT, spectrum); err != nil {
				return fmt.Errorf("insert reference compound %s: %w", name, err)
			}
		}
		return nil
	})
}

// GetReferenceCompounds returns the reference set for (method, polarity), or the
// biological standard's set when biologicalStandard is non-empty.
func (s *Store) GetReferenceCompounds(ctx context.Context, method string, polarity Polarity, biologicalStandard string) ([]ReferenceCompound, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT method, polarity, biological_standard, name, expected_mz, expected_rt, spectrum
FROM reference_compounds
WHERE method = ? AND polarity = ? AND biological_standard = ?
ORDER BY name`), method, string(polarity), biologicalStandard)
	if err != nil {
		return nil, fmt.Errorf("get reference compounds: %w", err)
	}
	defer rows.Close()
	var compounds []ReferenceCompound
	for rows.Next() {
		var (
			compound ReferenceCompound
			pol      string
			spectrum string
		)
		if err := rows.Scan(&compound.Method, &pol, &compound.BiologicalStandard, &compound.Name,
			&compound.ExpectedMZ, &compound.ExpectedRT, &spectrum); err != nil {
			return nil, err
		}
		compound.Polarity = Polarity(pol)
		compound.Spectrum = decodeSpectrum(spectrum)
		compounds = append(compounds, compound)
	}
	return compounds, rows.Err()
}

func (s *Store) countReferenceCompounds(ctx context.Context, tx *sql.Tx, method string, polarity Polarity, biologicalStandard string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, s.rebind("SELECT COUNT(1) FROM reference_compounds WHERE method = ? AND polarity = ? AND biological_standard = ?"),
		method, string(polarity), biologicalStandard).Scan(&count)
	return count, err
}
