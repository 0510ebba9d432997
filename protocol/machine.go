package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"go.tigermatt.uk/dive/internal/tracer"
	"go.tigermatt.uk/dive/rawdump"
	"go.tigermatt.uk/dive/registry"
)

// Variant is the wire protocol of one device family.
type Variant interface {
	// Handshake makes one identification attempt. Timeouts and codec
	// errors are retried by the Machine.
	Handshake(ctx context.Context, c *Connection) (Identity, error)
	// Transfer reads the device's log memory and returns it verbatim.
	Transfer(ctx context.Context, c *Connection) ([]byte, error)
}

// Negotiator is implemented by variants that change the link after
// identification, e.g. switching to a faster baud rate.
type Negotiator interface {
	Negotiate(ctx context.Context, c *Connection) error
}

// Result is the outcome of a completed session.
type Result struct {
	Conn     ulid.ULID
	Identity Identity
	Dump     *rawdump.Dump
}

// Machine runs one download session.
type Machine struct {
	desc    registry.Descriptor
	variant Variant
	addr    string
	cfg     Config

	state   atomic.Int32
	started atomic.Bool
}

// New returns a Machine downloading from the device at addr.
func New(desc registry.Descriptor, v Variant, addr string, opts ...Option) *Machine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.fill(desc.Timing)

	return &Machine{desc: desc, variant: v, addr: addr, cfg: cfg}
}

// State may be called from any goroutine.
func (m *Machine) State() State { return State(m.state.Load()) }

func (m *Machine) enter(s State, log *slog.Logger) {
	prev := State(m.state.Swap(int32(s)))
	log.Debug("state", "from", prev, "to", s)
}

// Run opens the link and downloads the device's memory. The link is closed
// before Run returns, whatever the outcome. Cancelling ctx stops the
// session before its next exchange with an error wrapping ErrCancelled.
func (m *Machine) Run(ctx context.Context) (res *Result, err error) {
	if !m.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	ctx, span := tracer.StartSpan(ctx, "dive.download", trace.WithAttributes(
		tracer.StringAttr("descriptor", m.desc.ID()),
		tracer.StringAttr("transport", m.desc.Transport.Kind.String()),
	))
	defer func() { tracer.End(span, err) }()

	log := m.cfg.Logger.With("device", m.desc.ID())
	if err := ctx.Err(); err != nil {
		return nil, m.fail(log, Idle, "open", cancelled(err))
	}

	c, err := newConnection(m.desc, m.addr, m.cfg)
	if err != nil {
		return nil, m.fail(log, Idle, "open", err)
	}
	log = c.log
	defer func() {
		if cerr := c.close(); cerr != nil {
			log.Debug("close", "err", cerr)
		}
	}()
	span.SetAttributes(tracer.StringAttr("conn", c.ID.String()))
	log.Info("link open", "addr", m.addr, "transport", m.desc.Transport.Kind)

	m.enter(Handshaking, log)
	id, err := m.handshake(ctx, c)
	if err != nil {
		return nil, m.fail(log, Handshaking, "handshake", err)
	}
	if err := m.verify(id); err != nil {
		return nil, m.fail(log, Handshaking, "identify", err)
	}
	c.Identity = id
	m.enter(Identified, log)
	log.Info("device identified", "serial", id.Serial, "firmware", id.Firmware)

	if n, ok := m.variant.(Negotiator); ok {
		if err := n.Negotiate(ctx, c); err != nil {
			return nil, m.fail(log, Identified, "negotiate", err)
		}
	}

	m.enter(Transferring, log)
	c.stats.State = Transferring
	data, err := m.transfer(ctx, c)
	if err != nil {
		return nil, m.fail(log, Transferring, "transfer", err)
	}

	m.enter(Complete, log)
	log.Info("download complete", "bytes", len(data), "packets", c.stats.Packets)

	return &Result{
		Conn:     c.ID,
		Identity: id,
		Dump:     rawdump.New(m.desc.ID(), data),
	}, nil
}

func (m *Machine) handshake(ctx context.Context, c *Connection) (Identity, error) {
	ctx, span := tracer.StartSpan(ctx, "dive.handshake")

	var id Identity
	attempt := 0
	op := func() error {
		if attempt > 0 {
			c.Discard()
		}
		attempt++

		v, err := m.variant.Handshake(ctx, c)
		if err != nil {
			if !retriable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		id = v
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.log.Debug("handshake attempt failed", "attempt", attempt, "retry_in", next, "err", err)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.cfg.HandshakeDelay), uint64(m.cfg.HandshakeAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(op, b, notify)
	switch {
	case err == nil:
	case ctx.Err() != nil && !errors.Is(err, ErrCancelled):
		err = cancelled(ctx.Err())
	case retriable(err):
		err = fmt.Errorf("%w after %d attempts: %w", ErrHandshakeTimeout, attempt, err)
	}

	span.SetAttributes(tracer.IntAttr("attempts", attempt))
	tracer.End(span, err)
	return id, err
}

// verify accepts a device whose response starts with the descriptor's model
// ID, or which the registry resolves to the same descriptor by signature.
func (m *Machine) verify(id Identity) error {
	if bytes.HasPrefix(id.Raw, m.desc.ModelID) {
		return nil
	}
	if m.cfg.Registry != nil {
		if d, err := m.cfg.Registry.Identify(id.Raw); err == nil && d.ID() == m.desc.ID() {
			return nil
		}
	}
	return fmt.Errorf("%w: response % X, want model % X", ErrUnexpectedDevice, id.Raw, m.desc.ModelID)
}

func (m *Machine) transfer(ctx context.Context, c *Connection) ([]byte, error) {
	ctx, span := tracer.StartSpan(ctx, "dive.transfer")

	data, err := m.variant.Transfer(ctx, c)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
		err = cancelled(ctx.Err())
	}

	span.SetAttributes(tracer.IntAttr("bytes", len(data)), tracer.IntAttr("packets", c.stats.Packets))
	tracer.End(span, err)
	return data, err
}

func (m *Machine) fail(log *slog.Logger, s State, op string, err error) error {
	m.enter(Failed, log)
	log.Error("download failed", "state", s, "op", op, "err", err)
	return &Error{Descriptor: m.desc.ID(), State: s, Op: op, Err: err}
}
