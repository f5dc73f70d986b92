// Package config holds the settings shared by the split and serve commands.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML file, FENCEDEMUX_* environment variables and command line flags. Flags
// are applied by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"fencedemux/pkg/demux"
)

const (
	EnvLanguages  = "FENCEDEMUX_LANGUAGES"
	EnvAddr       = "FENCEDEMUX_ADDR"
	EnvLogLevel   = "FENCEDEMUX_LOG_LEVEL"
	EnvStrict     = "FENCEDEMUX_STRICT"
	EnvReopen     = "FENCEDEMUX_REOPEN"
	EnvRefCounted = "FENCEDEMUX_REF_COUNTED_CANCEL"
)

type Config struct {
	Languages        []string `yaml:"languages"`
	Addr             string   `yaml:"addr"`
	LogLevel         string   `yaml:"log_level"`
	Strict           bool     `yaml:"strict"`
	Reopen           string   `yaml:"reopen"`
	RefCountedCancel bool     `yaml:"ref_counted_cancel"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:     "localhost:22124",
		LogLevel: "info",
		Reopen:   demux.ReopenContinue.String(),
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is not
// empty) and then with the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLanguages); ok && v != "" {
		c.Languages = SplitList(v)
	}
	if v, ok := lookup(EnvAddr); ok && v != "" {
		c.Addr = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvReopen); ok && v != "" {
		c.Reopen = v
	}
	if v, ok := lookup(EnvStrict); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvStrict, v, err)
		}
		c.Strict = b
	}
	if v, ok := lookup(EnvRefCounted); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvRefCounted, v, err)
		}
		c.RefCountedCancel = b
	}
	return nil
}

// SplitList splits a comma or whitespace separated list and drops empty items.
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// Validate checks fields that cannot be checked while decoding.
func (c Config) Validate() error {
	if _, err := c.ReopenPolicy(); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ReopenPolicy parses the Reopen field.
func (c Config) ReopenPolicy() (demux.ReopenPolicy, error) {
	switch strings.ToLower(c.Reopen) {
	case "", demux.ReopenContinue.String():
		return demux.ReopenContinue, nil
	case demux.ReopenIgnore.String():
		return demux.ReopenIgnore, nil
	default:
		return 0, fmt.Errorf("invalid reopen policy %q: use %q or %q", c.Reopen, demux.ReopenContinue, demux.ReopenIgnore)
	}
}

// SlogLevel parses the LogLevel field.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// DemuxOptions translates the configuration into demux options.
func (c Config) DemuxOptions(logger *slog.Logger) ([]demux.Option, error) {
	reopen, err := c.ReopenPolicy()
	if err != nil {
		return nil, err
	}
	opts := []demux.Option{
		demux.WithLogger(logger),
		demux.WithReopenPolicy(reopen),
	}
	if c.Strict {
		opts = append(opts, demux.WithStrictFrames())
	}
	if c.RefCountedCancel {
		opts = append(opts, demux.WithRefCountedCancel())
	}
	return opts, nil
}
