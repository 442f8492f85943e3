package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "conductor.config.yaml"

type conductorConfig struct {
	ModulePaths    []string      `yaml:"module_paths"`
	RolesPath      string        `yaml:"roles_path,omitempty"`
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty"`
	FiltersScript  string        `yaml:"filters_script,omitempty"`
	MetricsFile    string        `yaml:"metrics_file,omitempty"`
	LogLevel       string        `yaml:"log_level,omitempty"`
	LogFormat      string        `yaml:"log_format,omitempty"`
}

// loadConfig reads path into c. A missing file leaves c unchanged.
func (c *conductorConfig) loadConfig(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding config file: %w", err)
	}
	return nil
}

func defaultConfig() conductorConfig {
	return conductorConfig{
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// newLogger builds the process logger from a level name and a format
// ("text" or "json").
func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q (want text or json)", format)
}
