package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"autoqc/internal/config"
	"autoqc/internal/services"
)

// Converter turns a vendor data file into an open format.
type Converter interface {
	Convert(ctx context.Context, inputPath, sampleName, outputDir string) (string, error)
}

// Extractor detects features in converted data and writes a feature table.
type Extractor interface {
	Extract(ctx context.Context, inputDir, parameters, outputDir, sampleName string) (string, error)
}

// Tool runs one configured external program under supervision.
type Tool struct {
	Stage    string
	Binary   string
	Args     []string
	Ceiling  time.Duration
	Poll     time.Duration
	Launcher Launcher
}

// NewTool builds a Tool from its config section.
func NewTool(stage string, cfg config.Tool, poll time.Duration, launcher Launcher) *Tool {
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	return &Tool{
		Stage:    stage,
		Binary:   cfg.Binary,
		Args:     append([]string(nil), cfg.Args...),
		Ceiling:  cfg.Timeout(),
		Poll:     poll,
		Launcher: launcher,
	}
}

// Convert runs the tool as a converter and returns the converted file path.
func (t *Tool) Convert(ctx context.Context, inputPath, sampleName, outputDir string) (string, error) {
	vars := map[string]string{
		"input":      inputPath,
		"input_dir":  filepath.Dir(inputPath),
		"output_dir": outputDir,
		"sample":     sampleName,
	}
	if err := t.run(ctx, vars); err != nil {
		return "", err
	}
	return findOutput(t.Stage, outputDir, sampleName)
}

// Extract runs the tool as a feature extractor and returns the feature-table path.
func (t *Tool) Extract(ctx context.Context, inputDir, parameters, outputDir, sampleName string) (string, error) {
	vars := map[string]string{
		"input":      inputDir,
		"input_dir":  inputDir,
		"output_dir": outputDir,
		"parameters": parameters,
		"sample":     sampleName,
	}
	if err := t.run(ctx, vars); err != nil {
		return "", err
	}
	return findOutput(t.Stage, outputDir, sampleName)
}

func (t *Tool) run(ctx context.Context, vars map[string]string) error {
	if strings.TrimSpace(t.Binary) == "" {
		return services.Wrap(services.ErrConfiguration, t.Stage, "launch", "binary not configured", nil)
	}
	proc, err := t.Launcher.Launch(ctx, t.Binary, ExpandArgs(t.Args, vars))
	if err != nil {
		return services.Wrap(services.ErrExternalTool, t.Stage, "launch", t.Binary, err)
	}
	return supervise(ctx, t.Stage, proc, t.Poll, t.Ceiling)
}

// ExpandArgs substitutes {name} placeholders in each argument.
func ExpandArgs(args []string, vars map[string]string) []string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{"+key+"}", value)
	}
	replacer := strings.NewReplacer(pairs...)
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = replacer.Replace(arg)
	}
	return out
}

// findOutput returns the file in dir produced for sampleName. When several
// match, the most recently modified wins.
func findOutput(stage, dir, sampleName string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", services.Wrap(services.ErrValidation, stage, "locate output", "output directory missing", err)
		}
		return "", err
	}
	type candidate struct {
		path    string
		modTime time.Time
	}
	var matches []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), sampleName) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		matches = append(matches, candidate{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}
	if len(matches) == 0 {
		return "", services.Wrap(services.ErrValidation, stage, "locate output", fmt.Sprintf("no output for %s in %s", sampleName, dir), nil)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].modTime.After(matches[j].modTime) })
	return matches[0].path, nil
}
