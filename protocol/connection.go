package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"go.tigermatt.uk/dive/codec"
	"go.tigermatt.uk/dive/registry"
	"go.tigermatt.uk/dive/transport"
)

// Identity is what a device reported about itself during the handshake.
type Identity struct {
	// Raw is the identification response, matched against model IDs.
	Raw      []byte
	Serial   uint32
	Firmware string
}

// Progress reports a transfer in flight. Bytes and Packets never decrease
// within a session; Total is zero until the variant learns it.
type Progress struct {
	State   State
	Bytes   int
	Packets int
	Total   int
}

type ProgressFunc func(Progress)

// Request is one command and its retry policy.
type Request struct {
	Payload []byte
	// Retry is sent instead of Payload on every attempt after the first,
	// e.g. a NAK asking for retransmission. Nil repeats Payload.
	Retry []byte
	// Next, if set, picks the message for each retry from the error that
	// failed the previous attempt. It takes precedence over Retry.
	Next func(err error) []byte
	// Accept checks that a valid packet answers this request. Returning an
	// error wrapping ErrUnexpectedResponse retries the exchange.
	Accept func(codec.Packet) error
	// Attempts overrides the session's exchange budget when positive.
	Attempts int
}

// Connection is the open link of one session together with what was
// negotiated over it. It is owned by the Machine running the session and
// handed to the Variant for the duration of each step.
type Connection struct {
	ID ulid.ULID

	// Identity is set once the handshake succeeds.
	Identity Identity
	// PacketSize and Seq are free for the variant's negotiated state.
	PacketSize int
	Seq        int

	desc     registry.Descriptor
	params   transport.Params
	addr     string
	opener   transport.Opener
	wrap     func(transport.Conn) transport.Conn
	conn     transport.Conn
	codec    *codec.Codec
	limiter  *rate.Limiter
	log      *slog.Logger
	timeout  time.Duration
	attempts int

	rx  []byte
	buf []byte

	progress ProgressFunc
	stats    Progress
}

func newConnection(desc registry.Descriptor, addr string, cfg Config) (*Connection, error) {
	cd, err := codec.New(desc.Framing)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		ID:       ulid.Make(),
		desc:     desc,
		params:   desc.Transport,
		addr:     addr,
		opener:   cfg.Opener,
		wrap:     cfg.Wrap,
		codec:    cd,
		timeout:  cfg.ReadTimeout,
		attempts: cfg.ExchangeAttempts,
		buf:      make([]byte, 512),
		progress: cfg.Progress,
	}
	c.log = cfg.Logger.With("conn", c.ID.String(), "device", desc.ID())
	if d := desc.Transport.CommandDelay; d > 0 {
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}

	if err := c.open(desc.Transport); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) open(p transport.Params) error {
	conn, err := c.opener.Open(c.addr, p)
	if err != nil {
		return err
	}
	if c.wrap != nil {
		conn = c.wrap(conn)
	}
	c.conn = conn
	c.params = p
	c.rx = c.rx[:0]
	return nil
}

// Descriptor is the descriptor the session runs with.
func (c *Connection) Descriptor() registry.Descriptor { return c.desc }

// Params are the link parameters currently in effect.
func (c *Connection) Params() transport.Params { return c.params }

// Codec frames packets for the device family.
func (c *Connection) Codec() *codec.Codec { return c.codec }

func (c *Connection) Logger() *slog.Logger { return c.log }

// Reopen closes the link and opens it again with p, e.g. at a negotiated
// baud rate.
func (c *Connection) Reopen(p transport.Params) error {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Debug("closing before reopen", "err", err)
		}
		c.conn = nil
	}
	c.log.Info("reopening link", "baud", p.BaudRate)
	return c.open(p)
}

// Send frames payload and writes it. Cancellation is checked here, before
// anything goes on the wire, so a cancelled session never starts another
// exchange.
func (c *Connection) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	frame, err := c.codec.Frame(payload)
	if err != nil {
		return err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			return err
		}
	}
	c.log.Debug("tx", "bytes", fmt.Sprintf("% X", frame))
	_, err = c.conn.Write(frame)
	return err
}

// Receive returns the next valid packet. Noise before a frame is skipped.
// A damaged frame is consumed and reported as a codec error; a silent
// link is a transport timeout.
func (c *Connection) Receive() (codec.Packet, error) {
	for {
		if len(c.rx) > 0 {
			pkt, n, err := c.codec.Unframe(c.rx)
			switch {
			case err == nil:
				c.consume(n)
				return pkt, nil
			case errors.Is(err, codec.ErrTruncated):
			case errors.Is(err, codec.ErrBadSync) && n == 0:
				skip := c.codec.Resync(c.rx)
				c.log.Debug("skipping noise", "bytes", skip)
				c.consume(skip)
				continue
			default:
				c.consume(n)
				return codec.Packet{}, err
			}
		}

		n, err := c.conn.Read(c.buf, c.timeout)
		c.rx = append(c.rx, c.buf[:n]...)
		if err != nil {
			return codec.Packet{}, err
		}
	}
}

func (c *Connection) consume(n int) {
	c.rx = c.rx[:copy(c.rx, c.rx[n:])]
}

// Discard drops buffered input so a retry starts clean.
func (c *Connection) Discard() {
	c.rx = c.rx[:0]
	if err := c.conn.Flush(); err != nil {
		c.log.Debug("flush failed", "err", err)
	}
}

// Exchange sends r and returns the packet answering it. Lost or damaged
// responses are retried within the exchange budget; when every attempt
// came back corrupted the error wraps ErrChecksumRetriesExhausted.
func (c *Connection) Exchange(ctx context.Context, r Request) (codec.Packet, error) {
	attempts := c.attempts
	if r.Attempts > 0 {
		attempts = r.Attempts
	}

	var (
		pkt  codec.Packet
		last error
	)
	attempt := 0
	op := func() error {
		msg := r.Payload
		if attempt > 0 {
			switch {
			case r.Next != nil:
				msg = r.Next(last)
			case r.Retry != nil:
				msg = r.Retry
			}
			c.Discard()
		}
		attempt++

		if err := c.Send(ctx, msg); err != nil {
			return backoff.Permanent(err)
		}
		p, err := c.Receive()
		if err == nil && r.Accept != nil {
			err = r.Accept(p)
		}
		if err != nil {
			if !retriable(err) {
				return backoff.Permanent(err)
			}
			last = err
			c.log.Debug("exchange attempt failed", "attempt", attempt, "of", attempts, "err", err)
			return err
		}
		pkt = p
		return nil
	}

	b := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(attempts-1))
	if err := backoff.Retry(op, b); err != nil {
		if corrupted(err) {
			return codec.Packet{}, fmt.Errorf("%w after %d attempts: %w", ErrChecksumRetriesExhausted, attempt, err)
		}
		return codec.Packet{}, err
	}
	return pkt, nil
}

// SetTotal records the expected transfer size in bytes.
func (c *Connection) SetTotal(n int) {
	if n > c.stats.Total {
		c.stats.Total = n
	}
}

// Advance reports one more packet of n payload bytes.
func (c *Connection) Advance(n int) {
	c.stats.Packets++
	c.stats.Bytes += max(n, 0)
	if c.progress != nil {
		c.progress(c.stats)
	}
}

func (c *Connection) close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
