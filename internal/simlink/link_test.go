package simlink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.tigermatt.uk/dive/codec"
	"go.tigermatt.uk/dive/parser"
	"go.tigermatt.uk/dive/transport"
)

var framing = codec.Framing{
	Sync:       []byte{0x3C},
	LengthSize: 1,
	MaxPayload: 255,
	Trailer:    []byte{0x3E},
	Checksum:   codec.Checksum{Algorithm: codec.Sum, Width: 1},
}

func echo(req []byte) []byte {
	if req[0] == 0x00 {
		return nil
	}
	return append([]byte{0xEE}, req...)
}

func TestLink(t *testing.T) {
	l, err := New(framing, HandlerFunc(echo))
	require.NoError(t, err)
	cd, err := codec.New(framing)
	require.NoError(t, err)

	_, err = l.Write([]byte{0x00})
	require.ErrorIs(t, err, transport.ErrDisconnected)

	conn, err := l.Open("sim", transport.Params{BaudRate: 9600})
	require.NoError(t, err)

	frame, err := cd.Frame([]byte{0x01, 0x02})
	require.NoError(t, err)

	// A request split across writes, after line noise.
	_, err = conn.Write(append([]byte{0xFF, 0x00}, frame[:2]...))
	require.NoError(t, err)
	_, err = conn.Read(make([]byte, 8), time.Millisecond)
	require.ErrorIs(t, err, transport.ErrTimeout)
	_, err = conn.Write(frame[2:])
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := conn.Read(buf, time.Millisecond)
	require.NoError(t, err)
	pkt, _, err := cd.Unframe(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, []byte{0xEE, 0x01, 0x02}, pkt.Payload)
	assert.Equal(t, [][]byte{{0x01, 0x02}}, l.Requests())

	require.NoError(t, conn.Close())
	assert.True(t, l.Closed())
	assert.Len(t, l.Opened(), 1)
}

func TestLinkFaults(t *testing.T) {
	l, err := New(framing, HandlerFunc(echo))
	require.NoError(t, err)
	cd, err := codec.New(framing)
	require.NoError(t, err)
	conn, err := l.Open("sim", transport.Params{})
	require.NoError(t, err)

	l.Damage(0)
	l.Drop(1)

	send := func(b byte) ([]byte, error) {
		frame, err := cd.Frame([]byte{b})
		require.NoError(t, err)
		_, err = conn.Write(frame)
		require.NoError(t, err)
		buf := make([]byte, 64)
		n, err := conn.Read(buf, time.Millisecond)
		return buf[:n], err
	}

	got, err := send(0x01)
	require.NoError(t, err)
	_, _, err = cd.Unframe(got)
	assert.ErrorIs(t, err, codec.ErrChecksumMismatch)

	_, err = send(0x02)
	assert.True(t, transport.IsTimeout(err))

	got, err = send(0x03)
	require.NoError(t, err)
	_, _, err = cd.Unframe(got)
	assert.NoError(t, err)

	// Silent requests do not count as responses.
	_, err = send(0x00)
	assert.True(t, transport.IsTimeout(err))
}

func TestSynthetic(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	dives := Synthetic(3, start, parser.Celsius)
	require.Len(t, dives, 3)

	for i, d := range dives {
		assert.Equal(t, i+1, d.Number)
		assert.Equal(t, start.Add(time.Duration(i)*24*time.Hour), d.Start)
		require.Len(t, d.Samples, 30)
		assert.Zero(t, d.Samples[29].Depth)
		for j := 1; j < len(d.Samples); j++ {
			assert.Greater(t, d.Samples[j].Time, d.Samples[j-1].Time)
			assert.Zero(t, d.Samples[j].Depth%parser.Centimetre)
		}
	}
}
