package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.tigermatt.uk/dive/parser"
	"go.tigermatt.uk/dive/protocol"
	"go.tigermatt.uk/dive/registry"
	"go.tigermatt.uk/dive/transport"
)

const sixtyFourth = 15625 * parser.Micrometre

var epoch = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func descriptor(t *testing.T) registry.Descriptor {
	t.Helper()
	d, err := registry.Default().Lookup("generic/stream-s1")
	require.NoError(t, err)
	d.Timing.HandshakeDelay = time.Millisecond
	return d
}

// testDive descends to n*5 m in five one-metre-per-n steps.
func testDive(n int) *parser.Dive {
	d := &parser.Dive{
		Number: n,
		Start:  epoch.Add(time.Duration(n) * 24 * time.Hour),
		Gases:  []parser.GasMix{{Oxygen: 32}, {Oxygen: 50}},
	}
	for i := range 5 {
		s := parser.Sample{
			Time:        time.Duration(i*20) * time.Second,
			Depth:       parser.Depth((i+1)*n) * parser.Metre,
			Temperature: &parser.Temperature{Milli: int64(20000 - i*500), Unit: parser.Celsius},
		}
		if i == 2 {
			s.Pressures = []parser.TankPressure{{Gas: 0, Pressure: 180 * parser.Bar}}
			s.Events = []parser.Event{{Kind: parser.EventGasSwitch, Value: 1}}
		}
		d.Samples = append(d.Samples, s)
	}
	return d
}

// newestFirst encodes dives numbered 1..n in the order a device sends them.
func newestFirst(t *testing.T, n int) [][]byte {
	t.Helper()
	var out [][]byte
	for i := n; i >= 1; i-- {
		b, err := Encode(testDive(i), sixtyFourth)
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func download(t *testing.T, sim *Simulator, opts ...protocol.Option) (*protocol.Result, error) {
	t.Helper()
	opts = append([]protocol.Option{protocol.WithOpener(sim)}, opts...)
	return protocol.New(descriptor(t), Protocol{}, "sim", opts...).Run(context.Background())
}

func TestDownloadAndParse(t *testing.T) {
	sim, err := NewSimulator(descriptor(t), 0xC0FFEE, newestFirst(t, 3)...)
	require.NoError(t, err)

	res, err := download(t, sim)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xC0FFEE), res.Identity.Serial)
	assert.Len(t, res.Identity.Raw, 8)
	assert.True(t, sim.Closed())

	dives, err := parser.Collect(Parse(res.Dump.Data))
	require.NoError(t, err)
	require.Len(t, dives, 3)

	for i, d := range dives {
		n := i + 1
		assert.Equal(t, n, d.Number, "oldest first")
		assert.Equal(t, epoch.Add(time.Duration(n)*24*time.Hour), d.Start)
		require.Len(t, d.Samples, 5)
		for j, s := range d.Samples {
			assert.Equal(t, time.Duration(j*20)*time.Second, s.Time)
			assert.Equal(t, parser.Depth((j+1)*n)*parser.Metre, s.Depth)
		}
		assert.Equal(t, parser.Depth(5*n)*parser.Metre, d.MaxDepth)
		assert.Equal(t, 80*time.Second, d.Duration)
		assert.Equal(t, int64(18000), d.MinTemperature.Milli)
		assert.Equal(t, int64(20000), d.MaxTemperature.Milli)
		assert.Equal(t, []parser.GasMix{{Oxygen: 32}, {Oxygen: 50}}, d.Gases)
		assert.Equal(t, []parser.TankPressure{{Gas: 0, Pressure: 180 * parser.Bar}}, d.Samples[2].Pressures)
		assert.Equal(t, parser.EventGasSwitch, d.Samples[2].Events[0].Kind)
	}
}

func TestDamagedDiveIsResent(t *testing.T) {
	sim, err := NewSimulator(descriptor(t), 1, newestFirst(t, 3)...)
	require.NoError(t, err)
	// Responses: 0 identity, 1 first dive, 2 second dive.
	sim.Damage(2)

	res, err := download(t, sim)
	require.NoError(t, err)

	assert.Equal(t, 1, sim.Sent(0))
	assert.Equal(t, 2, sim.Sent(1))
	assert.Equal(t, 1, sim.Sent(2))

	var cmds []byte
	for _, r := range sim.Requests() {
		cmds = append(cmds, r[0])
	}
	assert.Equal(t, []byte{cmdHello, cmdDump, cmdACK, cmdNAK, cmdACK, cmdACK}, cmds)

	dives, err := parser.Collect(Parse(res.Dump.Data))
	require.NoError(t, err)
	assert.Len(t, dives, 3)
}

// garbleACK corrupts the checksum of the first few ACK frames the host
// writes, so the device drops them unseen.
type garbleACK struct {
	transport.Conn
	left int
}

func (g *garbleACK) Write(p []byte) (int, error) {
	// sync[2] len[2] ACK crc[2]
	if g.left > 0 && len(p) == 7 && p[4] == cmdACK {
		g.left--
		bad := append([]byte(nil), p...)
		bad[len(bad)-1] ^= 0x01
		return g.Conn.Write(bad)
	}
	return g.Conn.Write(p)
}

func TestDamagedAckIsResent(t *testing.T) {
	sim, err := NewSimulator(descriptor(t), 1, newestFirst(t, 3)...)
	require.NoError(t, err)

	res, err := download(t, sim, protocol.WithWrap(func(c transport.Conn) transport.Conn {
		return &garbleACK{Conn: c, left: 1}
	}))
	require.NoError(t, err)

	// The NAK brings back the first dive, so the ACK goes again.
	var cmds []byte
	for _, r := range sim.Requests() {
		cmds = append(cmds, r[0])
	}
	assert.Equal(t, []byte{cmdHello, cmdDump, cmdNAK, cmdACK, cmdACK, cmdACK}, cmds)
	assert.Equal(t, 2, sim.Sent(0))
	assert.Equal(t, 1, sim.Sent(1))

	dives, err := parser.Collect(Parse(res.Dump.Data))
	require.NoError(t, err)
	require.Len(t, dives, 3)
	for i, d := range dives {
		assert.Equal(t, i+1, d.Number)
	}
}

func TestLostDiveIsResent(t *testing.T) {
	sim, err := NewSimulator(descriptor(t), 1, newestFirst(t, 2)...)
	require.NoError(t, err)
	sim.Drop(1)

	_, err = download(t, sim)
	require.NoError(t, err)
	assert.Equal(t, 2, sim.Sent(0))

	// Nothing has been sent yet for a NAK to repeat.
	var cmds []byte
	for _, r := range sim.Requests() {
		cmds = append(cmds, r[0])
	}
	assert.Equal(t, []byte{cmdHello, cmdDump, cmdDump, cmdACK, cmdACK}, cmds)
}

func TestRetriesExhausted(t *testing.T) {
	sim, err := NewSimulator(descriptor(t), 1, newestFirst(t, 3)...)
	require.NoError(t, err)
	sim.Damage(2, 3, 4)

	_, err = download(t, sim)
	require.ErrorIs(t, err, protocol.ErrChecksumRetriesExhausted)
	assert.Equal(t, 3, sim.Sent(1))
	assert.True(t, sim.Closed())
}

func TestCancelAfterFirstDive(t *testing.T) {
	sim, err := NewSimulator(descriptor(t), 1, newestFirst(t, 3)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := protocol.New(descriptor(t), Protocol{}, "sim", protocol.WithOpener(sim),
		protocol.WithProgress(func(protocol.Progress) { cancel() }))
	_, err = m.Run(ctx)
	require.ErrorIs(t, err, protocol.ErrCancelled)
	assert.True(t, sim.Closed())
	assert.Len(t, sim.Requests(), 2, "no ACK after cancellation")
	assert.Zero(t, sim.Sent(1))
}

func TestHandshakeTimeout(t *testing.T) {
	sim, err := NewSimulator(descriptor(t), 1)
	require.NoError(t, err)
	sim.Drop(0, 1, 2)

	_, err = download(t, sim)
	require.ErrorIs(t, err, protocol.ErrHandshakeTimeout)
	assert.Len(t, sim.Requests(), 3)
}

func TestEmptyLog(t *testing.T) {
	sim, err := NewSimulator(descriptor(t), 1)
	require.NoError(t, err)

	res, err := download(t, sim)
	require.NoError(t, err)
	assert.Empty(t, res.Dump.Data)

	dives, err := parser.Collect(Parse(res.Dump.Data))
	require.NoError(t, err)
	assert.Empty(t, dives)
}

func header(samples uint16) []byte {
	b, _ := Encode(&parser.Dive{Number: 7, Start: epoch}, sixtyFourth)
	b[headerLen-2], b[headerLen-1] = byte(samples>>8), byte(samples)
	return b
}

func TestDecodeErrors(t *testing.T) {
	t.Run("time going backwards", func(t *testing.T) {
		b := append(header(2), tagTime, 0, 20, 0, 64, tagTime, 0, 10, 0, 64)
		_, err := Decode(b, 0)
		require.ErrorIs(t, err, parser.ErrTimeNonMonotonic)

		var perr *parser.Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, 7, perr.Dive)
		assert.Equal(t, headerLen+5, perr.Offset)
	})

	t.Run("unknown tag", func(t *testing.T) {
		b := append(header(1), tagTime, 0, 0, 0, 64, 0x20, 0x01)
		_, err := Decode(b, 100)
		require.ErrorIs(t, err, parser.ErrUnknownRecordTag)

		var perr *parser.Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, byte(0x20), perr.Tag)
		assert.Equal(t, 100+headerLen+5, perr.Offset)
	})

	t.Run("extension record skipped", func(t *testing.T) {
		b := append(header(1), tagTime, 0, 0, 0, 64, 0x90, 2, 0xAA, 0xBB)
		d, err := Decode(b, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, d.Skipped)
		assert.Equal(t, parser.Metre, d.MaxDepth)
	})

	t.Run("record runs past the dive", func(t *testing.T) {
		b := append(header(1), tagTime, 0, 0)
		_, err := Decode(b, 0)
		assert.ErrorIs(t, err, parser.ErrInvalidSampleLength)
	})

	t.Run("sample count mismatch", func(t *testing.T) {
		b := append(header(3), tagTime, 0, 0, 0, 64)
		_, err := Decode(b, 0)
		assert.ErrorIs(t, err, parser.ErrInvalidSampleLength)
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := Decode(header(0)[:10], 0)
		assert.ErrorIs(t, err, parser.ErrTruncatedHeader)

		_, err = Index([]byte{0x20, 0x00, 0x01})
		assert.ErrorIs(t, err, parser.ErrTruncatedHeader)
	})
}

func TestParseStopsAtFirstBadDive(t *testing.T) {
	good, err := Encode(testDive(1), sixtyFourth)
	require.NoError(t, err)
	bad := append(header(1), 0x20)
	bad[0]++ // months newer than the good dive

	var data []byte
	for _, d := range [][]byte{bad, good} {
		data = append(data, byte(len(d)), byte(len(d)>>8))
		data = append(data, d...)
	}

	dives, err := parser.Collect(Parse(data))
	require.ErrorIs(t, err, parser.ErrUnknownRecordTag)
	require.Len(t, dives, 1)
	assert.Equal(t, 1, dives[0].Number)
}
