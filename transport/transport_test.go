package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for k := range kindNames {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("USBHID")))
	assert.Equal(t, USBHID, k)

	_, err := ParseKind("carrier-pigeon")
	assert.Error(t, err)
}

func TestParseBDAddr(t *testing.T) {
	bd, err := ParseBDAddr("00:1A:7D:DA:71:13")
	require.NoError(t, err)
	assert.Equal(t, [6]byte{0x00, 0x1A, 0x7D, 0xDA, 0x71, 0x13}, bd)

	for _, bad := range []string{"", "00:1A:7D:DA:71", "00:1A:7D:DA:71:1", "zz:1A:7D:DA:71:13"} {
		_, err := ParseBDAddr(bad)
		assert.Error(t, err, bad)
	}
}

func TestHIDReports(t *testing.T) {
	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}

	reports := packReports(payload, 64)
	require.Len(t, reports, 2)

	var joined []byte
	for _, r := range reports {
		assert.Len(t, r, 64)
		data, err := unpackReport(r)
		require.NoError(t, err)
		joined = append(joined, data...)
	}
	assert.Equal(t, payload, joined)

	_, err := unpackReport([]byte{10, 1, 2})
	assert.Error(t, err)
}

func TestClassifySocket(t *testing.T) {
	for _, c := range []struct {
		in   error
		want error
	}{
		{os.ErrDeadlineExceeded, ErrTimeout},
		{io.EOF, ErrDisconnected},
		{fmt.Errorf("read: %w", syscall.ECONNRESET), ErrDisconnected},
		{syscall.EACCES, ErrIO},
	} {
		assert.Equal(t, c.want, classifySocket(c.in), c.in.Error())
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("device went away")
	err := fmt.Errorf("handshake: %w", &Error{Op: "read", Kind: Serial, Addr: "/dev/ttyUSB0", Err: ErrDisconnected, Cause: cause})

	assert.ErrorIs(t, err, ErrDisconnected)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "serial read /dev/ttyUSB0: disconnected")
}
