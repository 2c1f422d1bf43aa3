// Package library imports reference compounds from MSP spectral libraries.
package library

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"autoqc/internal/services"
	"autoqc/internal/store"
)

// ParseFile reads an MSP library from disk.
func ParseFile(path string) ([]store.ReferenceCompound, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrNotFound, "library", "open msp", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads MSP records separated by blank lines. Each record needs NAME,
// PRECURSORMZ and RETENTIONTIME; peaks follow "Num Peaks".
func Parse(r io.Reader) ([]store.ReferenceCompound, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		out     []store.ReferenceCompound
		current *record
		lineNum int
	)
	flush := func() error {
		if current == nil {
			return nil
		}
		compound, err := current.compound()
		if err != nil {
			return services.Wrap(services.ErrValidation, "library", "parse msp", fmt.Sprintf("record ending line %d", lineNum), err)
		}
		out = append(out, compound)
		current = nil
		return nil
	}

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if current == nil {
			current = &record{}
		}
		if current.inPeaks {
			if err := current.addPeaks(line); err != nil {
				return nil, services.Wrap(services.ErrValidation, "library", "parse msp", fmt.Sprintf("line %d", lineNum), err)
			}
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		current.set(strings.ToUpper(strings.TrimSpace(key)), strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "library", "read msp", "", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, services.Wrap(services.ErrValidation, "library", "parse msp", "no compounds found", nil)
	}
	return out, nil
}

type record struct {
	name    string
	mz      string
	rt      string
	peaks   []store.Peak
	inPeaks bool
}

func (r *record) set(key, value string) {
	switch key {
	case "NAME":
		r.name = value
	case "PRECURSORMZ", "PRECURSOR_MZ", "PRECURSOR M/Z":
		r.mz = value
	case "RETENTIONTIME", "RETENTION_TIME", "RT":
		r.rt = value
	case "NUM PEAKS", "NUM_PEAKS":
		r.inPeaks = true
	}
}

func (r *record) addPeaks(line string) error {
	for _, chunk := range strings.Split(line, ";") {
		fields := strings.Fields(chunk)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return fmt.Errorf("peak %q: expected m/z and intensity", chunk)
		}
		mz, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return fmt.Errorf("peak m/z %q: %w", fields[0], err)
		}
		intensity, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("peak intensity %q: %w", fields[1], err)
		}
		r.peaks = append(r.peaks, store.Peak{MZ: mz, Intensity: intensity})
	}
	return nil
}

func (r *record) compound() (store.ReferenceCompound, error) {
	if r.name == "" {
		return store.ReferenceCompound{}, fmt.Errorf("missing NAME")
	}
	mz, err := strconv.ParseFloat(r.mz, 64)
	if err != nil {
		return store.ReferenceCompound{}, fmt.Errorf("%s: precursor m/z %q: %w", r.name, r.mz, err)
	}
	rt, err := strconv.ParseFloat(r.rt, 64)
	if err != nil {
		return store.ReferenceCompound{}, fmt.Errorf("%s: retention time %q: %w", r.name, r.rt, err)
	}
	return store.ReferenceCompound{Name: r.name, ExpectedMZ: mz, ExpectedRT: rt, Spectrum: r.peaks}, nil
}
