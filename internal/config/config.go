// Package config holds the divedl configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"go.tigermatt.uk/dive/protocol"
	"go.tigermatt.uk/dive/registry"
)

type Config struct {
	Log   LogConfig   `yaml:"log"`
	Trace TraceConfig `yaml:"trace"`

	// Devices is an optional YAML descriptor table layered over the
	// built-in one.
	Devices string `yaml:"devices"`

	Session SessionConfig `yaml:"session"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TraceConfig struct {
	Exporter string `yaml:"exporter"`
}

// SessionConfig overrides descriptor timing. Zero keeps the descriptor's.
type SessionConfig struct {
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	HandshakeAttempts int           `yaml:"handshake_attempts"`
	HandshakeDelay    time.Duration `yaml:"handshake_delay"`
	ExchangeAttempts  int           `yaml:"exchange_attempts"`
	// Parallel bounds concurrent downloads; 0 means one at a time.
	Parallel int `yaml:"parallel"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Trace: TraceConfig{Exporter: "noop"},
	}
}

// Load reads, validates and normalizes the file at path. A missing file
// is not an error when optional is set.
func Load(path string, optional bool) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads a configuration, filling unset fields from Default.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}

// Level returns the slog level named by the configuration.
func (c *Config) Level() slog.Level {
	var l slog.Level
	// Validate has already checked the name.
	_ = l.UnmarshalText([]byte(c.Log.Level))
	return l
}

// Registry builds the descriptor registry: the built-in table, with the
// Devices file applied over it.
func (c *Config) Registry() (*registry.Registry, error) {
	base := registry.Default()
	if c.Devices == "" {
		return base, nil
	}

	f, err := os.Open(c.Devices)
	if err != nil {
		return nil, fmt.Errorf("opening device table: %w", err)
	}
	defer f.Close()

	extra, err := registry.LoadYAML(f, base)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Devices, err)
	}
	return registry.New(append(base.Descriptors(), extra...)...)
}

// Options turns the session overrides into protocol options.
func (c *Config) Options() []protocol.Option {
	var opts []protocol.Option
	s := c.Session
	if s.ReadTimeout > 0 {
		opts = append(opts, protocol.WithReadTimeout(s.ReadTimeout))
	}
	if s.HandshakeAttempts > 0 || s.HandshakeDelay > 0 {
		opts = append(opts, protocol.WithHandshake(s.HandshakeAttempts, s.HandshakeDelay))
	}
	if s.ExchangeAttempts > 0 {
		opts = append(opts, protocol.WithRetries(s.ExchangeAttempts))
	}
	return opts
}
