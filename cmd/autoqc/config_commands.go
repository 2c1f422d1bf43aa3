package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"autoqc/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the autoqc configuration file",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		force      bool
	)

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a starter config with msconvert and MS-DIAL defaults",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if !force {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("%s already exists; pass --force to replace it", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("write starter config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created autoqc config at %s\n", target)
			fmt.Fprintln(out, "Next steps:")
			fmt.Fprintln(out, "  1. Point [pipeline.converter] and [pipeline.extractor] at your msconvert and MS-DIAL installs")
			fmt.Fprintln(out, "  2. Set [notifications] ntfy_topic to receive QC alerts")
			fmt.Fprintln(out, "  3. Run `autoqc config validate` and then `autoqc preflight`")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Where to write the config (default ~/.config/autoqc/config.toml)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing config file")
	return cmd
}

func initTarget(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		target, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return target, nil
	}
	target, err := config.ExpandPath(strings.TrimSpace(path))
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return target, nil
}

// effectiveSettings is the subset of the loaded config an operator checks
// before submitting a run.
type effectiveSettings struct {
	ConfigPath    string `json:"config_path"`
	FromDefaults  bool   `json:"from_defaults"`
	StoreDriver   string `json:"store_driver"`
	StagingDir    string `json:"staging_dir"`
	ResultsDir    string `json:"results_dir"`
	Quiescence    string `json:"quiescence"`
	Converter     string `json:"converter"`
	Extractor     string `json:"extractor"`
	Notifications string `json:"notifications"`
	Backup        string `json:"backup"`
}

func summarizeConfig(cfg *config.Config, path string, exists bool) effectiveSettings {
	settings := effectiveSettings{
		ConfigPath:    path,
		FromDefaults:  !exists,
		StoreDriver:   cfg.Store.Driver,
		StagingDir:    cfg.Paths.StagingDir,
		ResultsDir:    cfg.Paths.ResultsDir,
		Quiescence:    cfg.Quiescence().String(),
		Converter:     cfg.Pipeline.Converter.Binary,
		Extractor:     cfg.Pipeline.Extractor.Binary,
		Notifications: "disabled",
		Backup:        "disabled",
	}
	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		settings.Notifications = topic
	}
	if cfg.Backup.Enabled {
		settings.Backup = "s3://" + cfg.Backup.Bucket + "/" + strings.TrimPrefix(cfg.Backup.Prefix, "/")
	}
	return settings
}

func (s effectiveSettings) render(w io.Writer) {
	fmt.Fprintf(w, "Config path:    %s\n", s.ConfigPath)
	if s.FromDefaults {
		fmt.Fprintln(w, "                (file not found, built-in defaults in effect)")
	}
	fmt.Fprintf(w, "Store:          %s\n", s.StoreDriver)
	fmt.Fprintf(w, "Staging:        %s\n", s.StagingDir)
	fmt.Fprintf(w, "Results:        %s\n", s.ResultsDir)
	fmt.Fprintf(w, "Quiescence:     %s\n", s.Quiescence)
	fmt.Fprintf(w, "Converter:      %s\n", s.Converter)
	fmt.Fprintf(w, "Extractor:      %s\n", s.Extractor)
	fmt.Fprintf(w, "Notifications:  %s\n", s.Notifications)
	fmt.Fprintf(w, "Backup:         %s\n", s.Backup)
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config, check it, and print the settings a run will use",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			settings := summarizeConfig(cfg, ctx.configPath, ctx.configExists)
			if ctx.JSONMode() {
				return writeJSON(cmd, settings)
			}
			out := cmd.OutOrStdout()
			settings.render(out)
			fmt.Fprintln(out, "Configuration OK")
			return nil
		},
	}
}
