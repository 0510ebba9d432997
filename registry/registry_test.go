package registry

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.tigermatt.uk/dive/codec"
	"go.tigermatt.uk/dive/parser"
	"go.tigermatt.uk/dive/transport"
)

func TestDefaultIsValid(t *testing.T) {
	r := Default()
	descs := r.Descriptors()
	require.Len(t, descs, len(Builtin()))

	for _, d := range descs {
		got, err := r.Lookup(d.ID())
		require.NoError(t, err)
		assert.Equal(t, d.Product, got.Product)
	}

	_, err := r.Lookup("generic/nothing")
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestIdentify(t *testing.T) {
	r := Default()

	for _, c := range []struct {
		name string
		resp []byte
		want string
	}{
		{"exact stream model", []byte{'S', 'D', 0x01, 0x02, 0x11, 0x22, 0x33, 0x44}, "generic/stream-s1-bt"},
		{"exact memory model", []byte{'M', 'X', 0x02, 0x01, 0x00}, "generic/memory-m2-ir"},
		{"unknown S2 revision", []byte{'S', 'D', 0x02, 0x09, 0x00, 0x00}, "generic/stream-s2"},
		{"unknown stream model", []byte{'S', 'D', 0x07, 0x01}, "generic/stream-s1"},
		{"unknown M3 revision", []byte{'M', 'X', 0x03, 0x05}, "generic/memory-m3"},
	} {
		t.Run(c.name, func(t *testing.T) {
			d, err := r.Identify(c.resp)
			require.NoError(t, err)
			assert.Equal(t, c.want, d.ID())
		})
	}

	_, err := r.Identify([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	assert.ErrorIs(t, err, ErrNoMatch)
	_, err = r.Identify(nil)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestIdentifyAmbiguous(t *testing.T) {
	a := Builtin()[0]
	b := a
	b.Product = "Stream S1 Clone"

	r, err := New(a, b)
	require.NoError(t, err)

	_, err = r.Identify(append(append([]byte(nil), a.ModelID...), 0, 0, 0, 0))
	require.ErrorIs(t, err, ErrAmbiguous)

	var merr *MatchError
	require.ErrorAs(t, err, &merr)
	assert.ElementsMatch(t, []string{"generic/stream-s1", "generic/stream-s1-clone"}, merr.Candidates)

	t.Run("ambiguous signature", func(t *testing.T) {
		_, err := r.Identify([]byte{'S', 'D', 0x09, 0x09})
		assert.ErrorIs(t, err, ErrAmbiguous)
	})

	t.Run("longer model id wins", func(t *testing.T) {
		c := a
		c.Product = "Stream S1 Pro"
		c.ModelID = append(append([]byte(nil), a.ModelID...), 0x01)
		r, err := New(a, c)
		require.NoError(t, err)

		d, err := r.Identify(append(append([]byte(nil), a.ModelID...), 0x01, 0x00))
		require.NoError(t, err)
		assert.Equal(t, "generic/stream-s1-pro", d.ID())
	})
}

func TestDescriptorsAreCopies(t *testing.T) {
	descs := Builtin()
	r, err := New(descs...)
	require.NoError(t, err)
	resp := []byte{'S', 'D', 0x01, 0x01, 0x2A, 0, 0, 0}

	descs[0].ModelID[0] = 'X'
	r.Descriptors()[0].ModelID[0] = 'X'
	got, err := r.Lookup("generic/stream-s1")
	require.NoError(t, err)
	got.ModelID[1] = 'X'
	got.Signature[0] = 'X'
	got.Framing.Sync[0] = 0x00

	d, err := r.Identify(resp)
	require.NoError(t, err)
	assert.Equal(t, "generic/stream-s1", d.ID())
	assert.Equal(t, []byte{0xA5, 0x5A}, d.Framing.Sync)

	d.ModelID[2] = 0x09
	d, err = r.Identify(resp)
	require.NoError(t, err)
	assert.Equal(t, "generic/stream-s1", d.ID())
}

func TestNewValidates(t *testing.T) {
	good := Builtin()[0]

	for name, mutate := range map[string]func(*Descriptor){
		"variant":   func(d *Descriptor) { d.Protocol = "smoke-signals" },
		"transport": func(d *Descriptor) { d.Transport.Kind = 0 },
		"model id":  func(d *Descriptor) { d.ModelID = nil },
		"framing":   func(d *Descriptor) { d.Framing = codec.Framing{} },
		"budget":    func(d *Descriptor) { d.Timing.ExchangeAttempts = 0 },
		"timeout":   func(d *Descriptor) { d.Timing.ReadTimeout = 0 },
	} {
		d := good
		mutate(&d)
		_, err := New(d)
		assert.Error(t, err, name)
	}

	t.Run("later descriptors override", func(t *testing.T) {
		d := good
		d.Timing.ReadTimeout = 9 * time.Second
		r, err := New(good, d)
		require.NoError(t, err)
		require.Len(t, r.Descriptors(), 1)
		assert.Equal(t, 9*time.Second, r.Descriptors()[0].Timing.ReadTimeout)
	})
}

const overlay = `
devices:
  - base: generic/memory-m2
    product: Memory M2 Pro
    model_id: "4D 58 02 07"
    transport:
      baud_rate: 19200
      fast_baud_rate: 57600
      dtr: clear
    units:
      depth_factor: 3048
      temperature_unit: fahrenheit
  - vendor: Acme
    product: Reef
    protocol: stream
    model_id: "53440901"
    transport:
      kind: bluetooth
      channel: 3
    framing:
      sync: [0xA5, 0x5A]
      length_size: 2
      max_payload: 2048
      cover_header: true
      checksum:
        algorithm: crc16
        width: 2
        poly: 0x1021
        init: 0xFFFF
        big_endian: true
    timing:
      read_timeout: 1500ms
      handshake_attempts: 2
      handshake_delay: 100ms
      exchange_attempts: 2
`

func TestLoadYAML(t *testing.T) {
	base := Default()
	descs, err := LoadYAML(strings.NewReader(overlay), base)
	require.NoError(t, err)
	require.Len(t, descs, 2)

	pro := descs[0]
	assert.Equal(t, "generic/memory-m2-pro", pro.ID())
	assert.Equal(t, Memory, pro.Protocol)
	assert.Equal(t, []byte{'M', 'X', 0x02, 0x07}, pro.ModelID)
	assert.Nil(t, pro.Signature)
	assert.Equal(t, 19200, pro.Transport.BaudRate)
	assert.Equal(t, 57600, pro.Transport.FastBaudRate)
	assert.Equal(t, transport.LineClear, pro.Transport.DTR)
	assert.Equal(t, transport.LineClear, pro.Transport.RTS)
	assert.Equal(t, int64(3048), pro.Units.Depth.Factor)
	assert.Equal(t, parser.Fahrenheit, pro.Units.TempUnit)

	reef := descs[1]
	assert.Equal(t, "acme/reef", reef.ID())
	assert.Equal(t, Stream, reef.Parser)
	assert.Equal(t, transport.Bluetooth, reef.Transport.Kind)
	assert.Equal(t, codec.CCITT, reef.Framing.Checksum)
	assert.Equal(t, 1500*time.Millisecond, reef.Timing.ReadTimeout)

	r, err := New(append(base.Descriptors(), descs...)...)
	require.NoError(t, err)
	d, err := r.Identify([]byte{'S', 'D', 0x09, 0x01, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "acme/reef", d.ID())
}

func TestLoadYAMLErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown field": "devices:\n  - vendr: x\n",
		"bad hex":       "devices:\n  - vendor: a\n    product: b\n    model_id: zz\n",
		"unknown base":  "devices:\n  - base: generic/nope\n",
		"parity":        "devices:\n  - transport: {parity: mark}\n",
	} {
		_, err := LoadYAML(strings.NewReader(doc), Default())
		assert.Error(t, err, name)
	}
}
