// Package sequence turns an instrument sequence export into the expected
// sample list of a run.
package sequence

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"autoqc/internal/config"
	"autoqc/internal/services"
	"autoqc/internal/store"
)

const fileNameHeader = "file name"

// Options controls polarity assignment, exclusion and role detection.
type Options struct {
	PositiveMarker string
	NegativeMarker string
	// Exclude drops samples whose lowercased name contains any pattern.
	Exclude   []string
	Standards []store.BiologicalStandard
}

// OptionsFromConfig builds Options from the sequence config section.
func OptionsFromConfig(cfg config.Sequence, standards []store.BiologicalStandard) Options {
	return Options{
		PositiveMarker: cfg.PositiveMarker,
		NegativeMarker: cfg.NegativeMarker,
		Exclude:        append([]string(nil), cfg.ExcludePatterns...),
		Standards:      standards,
	}
}

// ParseFile reads a sequence CSV from disk.
func ParseFile(path string, opts Options) ([]store.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "submit", "open sequence", path, err)
	}
	defer f.Close()
	return Parse(f, opts)
}

// Parse reads a sequence CSV. A leading "Bracket Type" line is tolerated;
// the header row must contain a "File Name" column.
func Parse(r io.Reader, opts Options) ([]store.Sample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	nameCol := -1
	var samples []store.Sample
	var unassigned []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "submit", "parse sequence", "malformed CSV", err)
		}
		if nameCol < 0 {
			nameCol = headerIndex(record)
			continue
		}
		if nameCol >= len(record) {
			continue
		}
		name := strings.TrimSpace(record[nameCol])
		if name == "" || excluded(name, opts.Exclude) {
			continue
		}

		sample := store.Sample{SampleID: name, Position: len(samples) + 1, Role: store.RoleSample}
		switch {
		case opts.PositiveMarker != "" && strings.Contains(name, opts.PositiveMarker):
			sample.Polarity = store.PolarityPositive
		case opts.NegativeMarker != "" && strings.Contains(name, opts.NegativeMarker):
			sample.Polarity = store.PolarityNegative
		default:
			unassigned = append(unassigned, name)
			continue
		}
		if std, ok := matchStandard(name, opts.Standards); ok {
			sample.Role = store.RoleBiologicalStandard
			sample.BiologicalStandard = std
		}
		samples = append(samples, sample)
	}

	if nameCol < 0 {
		return nil, services.Wrap(services.ErrValidation, "submit", "parse sequence", `no "File Name" header row`, nil)
	}
	if len(unassigned) > 0 {
		return nil, services.Wrap(services.ErrValidation, "submit", "assign polarity",
			fmt.Sprintf("no polarity marker (%q/%q) in: %s", opts.PositiveMarker, opts.NegativeMarker, strings.Join(unassigned, ", ")), nil)
	}
	if len(samples) == 0 {
		return nil, services.Wrap(services.ErrValidation, "submit", "parse sequence", "sequence lists no samples", nil)
	}
	return samples, nil
}

func headerIndex(record []string) int {
	for i, cell := range record {
		if strings.EqualFold(strings.TrimSpace(cell), fileNameHeader) {
			return i
		}
	}
	return -1
}

func excluded(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func matchStandard(name string, standards []store.BiologicalStandard) (string, bool) {
	for _, std := range standards {
		if std.Identifier != "" && strings.Contains(name, std.Identifier) {
			return std.Name, true
		}
	}
	return "", false
}
