package protocol

import (
	"log/slog"
	"time"

	"go.tigermatt.uk/dive/registry"
	"go.tigermatt.uk/dive/transport"
)

// Config holds the session configuration. Zero values fall back to the
// descriptor's timing.
type Config struct {
	// Logger receives session events (optional).
	Logger *slog.Logger

	// Progress is called after every transferred packet (optional).
	Progress ProgressFunc

	// Opener opens the link. Defaults to transport.System.
	Opener transport.Opener

	// Wrap, if set, wraps every Conn the session opens, for taps such as
	// a recorder or sniffer.
	Wrap func(transport.Conn) transport.Conn

	// Registry, if set, lets a device that only matches the descriptor by
	// signature pass identification.
	Registry *registry.Registry

	ReadTimeout       time.Duration
	HandshakeAttempts int
	HandshakeDelay    time.Duration
	ExchangeAttempts  int
}

func defaultConfig() Config {
	return Config{
		Logger: slog.New(slog.DiscardHandler),
		Opener: transport.System,
	}
}

// Option is a functional option for configuring the Machine.
type Option func(*Config)

// WithLogger sets the logger for session events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithProgress sets a callback to track transfer progress.
//
// Example:
//
//	m := protocol.New(desc, variant, "/dev/ttyUSB0",
//	    protocol.WithProgress(func(p protocol.Progress) {
//	        fmt.Printf("%d/%d bytes\n", p.Bytes, p.Total)
//	    }),
//	)
func WithProgress(fn ProgressFunc) Option {
	return func(c *Config) {
		c.Progress = fn
	}
}

// WithOpener replaces the system transport, typically with a simulator.
func WithOpener(o transport.Opener) Option {
	return func(c *Config) {
		if o != nil {
			c.Opener = o
		}
	}
}

// WithWrap installs a wrapper around every opened Conn.
func WithWrap(wrap func(transport.Conn) transport.Conn) Option {
	return func(c *Config) {
		c.Wrap = wrap
	}
}

// WithRegistry accepts devices identified by signature.
func WithRegistry(r *registry.Registry) Option {
	return func(c *Config) {
		c.Registry = r
	}
}

// WithReadTimeout overrides the descriptor's per-read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ReadTimeout = d
		}
	}
}

// WithHandshake overrides the handshake attempts and the delay between them.
func WithHandshake(attempts int, delay time.Duration) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.HandshakeAttempts = attempts
		}
		if delay > 0 {
			c.HandshakeDelay = delay
		}
	}
}

// WithRetries overrides the number of attempts per exchange.
func WithRetries(attempts int) Option {
	return func(c *Config) {
		if attempts > 0 {
			c.ExchangeAttempts = attempts
		}
	}
}

func (c *Config) fill(t registry.Timing) {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = t.ReadTimeout
	}
	if c.HandshakeAttempts == 0 {
		c.HandshakeAttempts = max(t.HandshakeAttempts, 1)
	}
	if c.HandshakeDelay == 0 {
		c.HandshakeDelay = t.HandshakeDelay
	}
	if c.ExchangeAttempts == 0 {
		c.ExchangeAttempts = max(t.ExchangeAttempts, 1)
	}
}
