package peaks

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"autoqc/internal/services"
)

// Row is one detected peak from the feature table.
type Row struct {
	Name      string
	MZ        float64
	RT        float64
	Intensity float64
	Confirmed bool
	// Order is the zero-based position of the row within the table.
	Order int
}

var (
	nameHeaders      = []string{"title", "metabolite name", "name", "compound"}
	mzHeaders        = []string{"precursor m/z", "average mz", "m/z", "mz"}
	rtHeaders        = []string{"rt (min)", "average rt(min)", "rt", "retention time"}
	intensityHeaders = []string{"height", "intensity", "area"}
	confirmHeaders   = []string{"msms matched", "ms/ms matched", "ms/ms assigned"}
)

type columns struct {
	name, mz, rt, intensity, confirmed int
}

// ReadFile parses a tab-separated feature table from disk.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "reconcile", "open feature table", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a tab-separated feature table. Leading metadata lines before
// the header row are skipped.
func Parse(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var (
		cols    columns
		found   bool
		rows    []Row
		lineNum int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "reconcile", "parse feature table", "malformed table", err)
		}
		lineNum++
		if !found {
			if c, ok := detectHeader(record); ok {
				cols, found = c, true
			}
			continue
		}
		row, ok, err := parseRow(record, cols)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "reconcile", "parse feature table", fmt.Sprintf("line %d", lineNum), err)
		}
		if !ok {
			continue
		}
		row.Order = len(rows)
		rows = append(rows, row)
	}
	if !found {
		return nil, services.Wrap(services.ErrValidation, "reconcile", "parse feature table", "no header with name, m/z and RT columns", nil)
	}
	return rows, nil
}

func detectHeader(record []string) (columns, bool) {
	cols := columns{name: -1, mz: -1, rt: -1, intensity: -1, confirmed: -1}
	for i, cell := range record {
		key := strings.ToLower(strings.TrimSpace(cell))
		switch {
		case cols.name < 0 && contains(nameHeaders, key):
			cols.name = i
		case cols.mz < 0 && contains(mzHeaders, key):
			cols.mz = i
		case cols.rt < 0 && contains(rtHeaders, key):
			cols.rt = i
		case cols.intensity < 0 && contains(intensityHeaders, key):
			cols.intensity = i
		case cols.confirmed < 0 && contains(confirmHeaders, key):
			cols.confirmed = i
		}
	}
	return cols, cols.name >= 0 && cols.mz >= 0 && cols.rt >= 0
}

func parseRow(record []string, cols columns) (Row, bool, error) {
	name := cell(record, cols.name)
	if name == "" || strings.EqualFold(name, "unknown") {
		return Row{}, false, nil
	}
	mz, err := parseFloat(cell(record, cols.mz))
	if err != nil {
		return Row{}, false, fmt.Errorf("m/z for %s: %w", name, err)
	}
	rt, err := parseFloat(cell(record, cols.rt))
	if err != nil {
		return Row{}, false, fmt.Errorf("RT for %s: %w", name, err)
	}
	row := Row{Name: name, MZ: mz, RT: rt}
	if cols.intensity >= 0 {
		if v := cell(record, cols.intensity); v != "" {
			if row.Intensity, err = parseFloat(v); err != nil {
				return Row{}, false, fmt.Errorf("intensity for %s: %w", name, err)
			}
		}
	}
	if cols.confirmed >= 0 {
		row.Confirmed = parseBool(cell(record, cols.confirmed))
	}
	return row, true, nil
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func parseFloat(v string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(v), 64)
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1", "y":
		return true
	default:
		return false
	}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
