package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks configuration correctness. It does not mutate cfg.
func Validate(cfg *Config) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", cfg.Log.Format)
	}

	switch strings.ToLower(cfg.Trace.Exporter) {
	case "", "noop", "stdout":
	default:
		return fmt.Errorf("trace.exporter %q: want noop or stdout", cfg.Trace.Exporter)
	}

	s := cfg.Session
	if s.ReadTimeout < 0 || s.HandshakeDelay < 0 {
		return fmt.Errorf("session: durations must not be negative")
	}
	if s.HandshakeAttempts < 0 || s.ExchangeAttempts < 0 {
		return fmt.Errorf("session: attempts must not be negative")
	}
	if s.Parallel < 0 {
		return fmt.Errorf("session.parallel %d: must not be negative", s.Parallel)
	}
	return nil
}

// Normalize canonicalises names. It must be called only after Validate.
func Normalize(cfg *Config) {
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	cfg.Trace.Exporter = strings.ToLower(cfg.Trace.Exporter)
	if cfg.Trace.Exporter == "" {
		cfg.Trace.Exporter = "noop"
	}
	if cfg.Session.Parallel == 0 {
		cfg.Session.Parallel = 1
	}
}
