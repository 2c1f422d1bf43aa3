package main

import (
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"autoqc/internal/config"
	"autoqc/internal/runctl"
	"autoqc/internal/store"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// JSONMode reports whether --json was passed.
func (c *commandContext) JSONMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) withStore(fn func(*config.Config, *store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st)
}

// launchOptions locates autoqcd and forwards the config file the CLI loaded,
// so the monitor sees the same settings.
func (c *commandContext) launchOptions() (runctl.LaunchOptions, error) {
	executable := strings.TrimSpace(os.Getenv("AUTOQC_MONITOR_BINARY"))
	if executable == "" {
		resolved, err := runctl.ResolveExecutable()
		if err != nil {
			return runctl.LaunchOptions{}, err
		}
		executable = resolved
	}
	opts := runctl.LaunchOptions{Executable: executable}
	if c.configExists {
		opts.ConfigPath = c.configPath
	}
	return opts, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
