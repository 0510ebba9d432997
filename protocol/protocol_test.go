package protocol

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.tigermatt.uk/dive/codec"
	"go.tigermatt.uk/dive/registry"
	"go.tigermatt.uk/dive/transport"
)

const (
	cmdHello = 0x01
	cmdRead  = 0x02
	cmdNAK   = 0x15
)

// device answers framed requests from a canned memory of packets.
type device struct {
	t      *testing.T
	codec  *codec.Codec
	ident  []byte
	blocks [][]byte

	silent  int         // handshake requests to ignore
	corrupt map[int]int // block index -> responses to damage
	noise   []byte      // sent ahead of every response
	stretch int         // block responses to send with an enlarged length

	out    []byte
	last   []byte
	writes [][]byte
	closed bool
}

func newDevice(t *testing.T, desc registry.Descriptor, blocks int) *device {
	cd, err := codec.New(desc.Framing)
	require.NoError(t, err)

	d := &device{t: t, codec: cd, ident: append(append([]byte(nil), desc.ModelID...), 0x2A, 0, 0, 0), corrupt: map[int]int{}}
	for i := range blocks {
		d.blocks = append(d.blocks, bytes.Repeat([]byte{byte(i + 1)}, 16))
	}
	return d
}

func (d *device) Open(string, transport.Params) (transport.Conn, error) {
	d.closed = false
	return d, nil
}

func (d *device) Write(p []byte) (int, error) {
	if d.closed {
		return 0, &transport.Error{Op: "write", Err: transport.ErrDisconnected}
	}
	pkt, _, err := d.codec.Unframe(p)
	require.NoError(d.t, err)
	d.writes = append(d.writes, pkt.Payload)

	switch req := pkt.Payload; req[0] {
	case cmdHello:
		if d.silent > 0 {
			d.silent--
			return len(p), nil
		}
		d.send(append([]byte{cmdHello}, d.ident...), false)
	case cmdRead:
		i := int(req[1])
		damage := d.corrupt[i] > 0
		if damage {
			d.corrupt[i]--
		}
		d.send(append([]byte{cmdRead, req[1]}, d.blocks[i]...), damage)
	case cmdNAK:
		i := int(d.last[1])
		damage := d.corrupt[i] > 0
		if damage {
			d.corrupt[i]--
		}
		d.send(d.last, damage)
	}
	return len(p), nil
}

func (d *device) send(payload []byte, damage bool) {
	d.last = payload
	frame, err := d.codec.Frame(payload)
	require.NoError(d.t, err)
	if damage {
		frame[len(frame)-2] ^= 0x01
	}
	if d.stretch > 0 && payload[0] == cmdRead {
		d.stretch--
		// High byte of the little-endian length.
		frame[len(d.codec.Framing().Sync)+1] ^= 0x01
	}
	d.out = append(d.out, d.noise...)
	d.out = append(d.out, frame...)
}

func (d *device) Read(p []byte, _ time.Duration) (int, error) {
	if d.closed {
		return 0, &transport.Error{Op: "read", Err: transport.ErrDisconnected}
	}
	if len(d.out) == 0 {
		return 0, &transport.Error{Op: "read", Err: transport.ErrTimeout}
	}
	// Deliver in small pieces to exercise reassembly.
	n := copy(p[:min(len(p), 5)], d.out)
	d.out = d.out[n:]
	return n, nil
}

func (d *device) Flush() error {
	d.out = nil
	return nil
}

func (d *device) Close() error {
	d.closed = true
	return nil
}

// reads counts how many block reads (not NAKs) were sent for block i.
func (d *device) reads(i int) int {
	n := 0
	for _, w := range d.writes {
		if w[0] == cmdRead && int(w[1]) == i {
			n++
		}
	}
	return n
}

// blockVariant identifies with HELLO and then reads n blocks, NAKing
// damaged ones.
type blockVariant struct{ n int }

func (v blockVariant) Handshake(ctx context.Context, c *Connection) (Identity, error) {
	pkt, err := c.Exchange(ctx, Request{Payload: []byte{cmdHello}, Attempts: 1})
	if err != nil {
		return Identity{}, err
	}
	return Identity{Raw: pkt.Payload[1:], Serial: uint32(pkt.Payload[len(pkt.Payload)-4])}, nil
}

func (v blockVariant) Transfer(ctx context.Context, c *Connection) ([]byte, error) {
	c.SetTotal(v.n * 16)
	var data []byte
	for i := range v.n {
		pkt, err := c.Exchange(ctx, Request{
			Payload: []byte{cmdRead, byte(i)},
			Retry:   []byte{cmdNAK},
			Accept: func(p codec.Packet) error {
				if p.Payload[0] != cmdRead || int(p.Payload[1]) != i {
					return ErrUnexpectedResponse
				}
				return nil
			},
		})
		if err != nil {
			return nil, err
		}
		data = append(data, pkt.Payload[2:]...)
		c.Advance(len(pkt.Payload) - 2)
	}
	return data, nil
}

func testDescriptor() registry.Descriptor {
	d := registry.Builtin()[0]
	d.Timing.HandshakeDelay = time.Millisecond
	return d
}

func TestRun(t *testing.T) {
	desc := testDescriptor()
	dev := newDevice(t, desc, 3)

	var progress []Progress
	m := New(desc, blockVariant{n: 3}, "sim", WithOpener(dev), WithProgress(func(p Progress) {
		progress = append(progress, p)
	}))
	assert.Equal(t, Idle, m.State())

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Complete, m.State())
	assert.True(t, dev.closed)

	assert.Equal(t, desc.ID(), res.Dump.Descriptor)
	assert.Len(t, res.Dump.Data, 48)
	assert.Equal(t, uint32(0x2A), res.Identity.Serial)
	assert.NotZero(t, res.Conn)

	require.Len(t, progress, 3)
	for i, p := range progress {
		assert.Equal(t, Transferring, p.State)
		assert.Equal(t, i+1, p.Packets)
		assert.Equal(t, 16*(i+1), p.Bytes)
		assert.Equal(t, 48, p.Total)
	}

	_, err = m.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestRunSkipsNoise(t *testing.T) {
	desc := testDescriptor()
	dev := newDevice(t, desc, 2)
	dev.noise = []byte{0x00, 0xA5, 0xFF, 0x13}

	res, err := New(desc, blockVariant{n: 2}, "sim", WithOpener(dev)).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Dump.Data, 32)
}

func TestExchangeRetriesDamagedPacket(t *testing.T) {
	desc := testDescriptor()
	dev := newDevice(t, desc, 3)
	dev.corrupt[1] = 1

	res, err := New(desc, blockVariant{n: 3}, "sim", WithOpener(dev)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{2}, 16), res.Dump.Data[16:32])

	// One read request and one NAK for the damaged block.
	assert.Equal(t, 1, dev.reads(1))
	var naks int
	for _, w := range dev.writes {
		if w[0] == cmdNAK {
			naks++
		}
	}
	assert.Equal(t, 1, naks)
	assert.Len(t, dev.writes, 1+3+1)
}

func TestExchangeRecoversFromBadLength(t *testing.T) {
	desc := testDescriptor()
	dev := newDevice(t, desc, 3)
	dev.stretch = 1

	res, err := New(desc, blockVariant{n: 3}, "sim", WithOpener(dev)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{1}, 16), res.Dump.Data[:16])

	// The lengthened frame waits for bytes that never come; the timeout
	// discards it and the NAK fetches a clean copy.
	assert.Equal(t, 1, dev.reads(0))
	assert.Equal(t, []byte{cmdNAK}, dev.writes[2])
	assert.Len(t, dev.writes, 1+3+1)
}

func TestChecksumRetriesExhausted(t *testing.T) {
	desc := testDescriptor()
	dev := newDevice(t, desc, 3)
	dev.corrupt[2] = 100

	m := New(desc, blockVariant{n: 3}, "sim", WithOpener(dev), WithRetries(4))
	_, err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrChecksumRetriesExhausted)
	assert.ErrorIs(t, err, codec.ErrChecksumMismatch)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, Transferring, perr.State)
	assert.Equal(t, Failed, m.State())
	assert.True(t, dev.closed)
	assert.Len(t, dev.writes, 1+2+4)
}

func TestHandshakeTimeout(t *testing.T) {
	desc := testDescriptor()
	dev := newDevice(t, desc, 1)
	dev.silent = 100

	m := New(desc, blockVariant{n: 1}, "sim", WithOpener(dev), WithHandshake(3, time.Millisecond))
	_, err := m.Run(context.Background())
	require.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.True(t, transport.IsTimeout(err))
	assert.Len(t, dev.writes, 3)
	assert.Equal(t, Failed, m.State())
	assert.True(t, dev.closed)
}

func TestHandshakeRecovers(t *testing.T) {
	desc := testDescriptor()
	dev := newDevice(t, desc, 1)
	dev.silent = 2

	_, err := New(desc, blockVariant{n: 1}, "sim", WithOpener(dev), WithHandshake(3, time.Millisecond)).Run(context.Background())
	require.NoError(t, err)
}

func TestUnexpectedDevice(t *testing.T) {
	desc := testDescriptor()
	dev := newDevice(t, desc, 1)
	dev.ident = []byte{'S', 'D', 0x07, 0x01, 0x2A, 0, 0, 0}

	_, err := New(desc, blockVariant{n: 1}, "sim", WithOpener(dev)).Run(context.Background())
	require.ErrorIs(t, err, ErrUnexpectedDevice)
	// The handshake itself succeeded: no retries.
	assert.Len(t, dev.writes, 1)

	t.Run("accepted by signature", func(t *testing.T) {
		dev := newDevice(t, desc, 1)
		dev.ident = []byte{'S', 'D', 0x07, 0x01, 0x2A, 0, 0, 0}
		_, err := New(desc, blockVariant{n: 1}, "sim", WithOpener(dev), WithRegistry(registry.Default())).Run(context.Background())
		assert.NoError(t, err)
	})
}

func TestCancelBetweenExchanges(t *testing.T) {
	desc := testDescriptor()
	dev := newDevice(t, desc, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New(desc, blockVariant{n: 5}, "sim", WithOpener(dev), WithProgress(func(p Progress) {
		if p.Packets == 2 {
			cancel()
		}
	}))
	_, err := m.Run(ctx)
	require.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Failed, m.State())
	assert.True(t, dev.closed)

	assert.Equal(t, 1, dev.reads(1))
	assert.Zero(t, dev.reads(2), "no exchange after cancellation")
}

func TestOpenFailure(t *testing.T) {
	opener := transport.OpenerFunc(func(addr string, p transport.Params) (transport.Conn, error) {
		return nil, &transport.Error{Op: "open", Kind: p.Kind, Addr: addr, Err: transport.ErrIO, Cause: errors.New("no such file or directory")}
	})

	m := New(testDescriptor(), blockVariant{n: 1}, "/dev/missing", WithOpener(opener))
	_, err := m.Run(context.Background())
	require.ErrorIs(t, err, transport.ErrIO)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, Idle, perr.State)
	assert.Equal(t, Failed, m.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "transferring", Transferring.String())
	assert.Equal(t, "state(9)", State(9).String())
	assert.True(t, Failed.Terminal())
	assert.False(t, Identified.Terminal())
}
