package rawdump

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerRoundTrip(t *testing.T) {
	d := New("generic/stream-s1", []byte{0xDE, 0xAD, 0xBE, 0xEF})

	var buf bytes.Buffer
	n, err := d.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, d.Descriptor, got.Descriptor)
	assert.True(t, d.Created.Equal(got.Created))
	assert.Equal(t, d.Data, got.Data)
}

func TestContainerRejectsDamage(t *testing.T) {
	var buf bytes.Buffer
	_, err := New("generic/memory-m2", bytes.Repeat([]byte{0x42}, 64)).WriteTo(&buf)
	require.NoError(t, err)
	good := buf.Bytes()

	t.Run("flipped data byte", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[len(bad)-10] ^= 0x01
		_, err := Read(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("magic", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[0] = 'X'
		_, err := Read(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("version", func(t *testing.T) {
		bad := append([]byte(nil), good...)
		bad[len(Magic)+1] = 9
		_, err := Read(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrVersion)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := Read(bytes.NewReader(good[:len(good)-3]))
		assert.Error(t, err)
	})
}
