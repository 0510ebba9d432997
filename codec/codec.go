// Package codec wraps payloads in a device family's framing and validates
// received frames.
//
// A frame is laid out as
//
//	sync | length | payload | checksum | trailer
//
// where the length counts payload bytes only and the checksum covers the
// payload, or the length field and payload when CoverHeader is set.
// Unframe is pure: it never blocks and keeps no state between calls, so
// callers that read a frame in pieces keep the partial bytes themselves.
package codec

import (
	"bytes"
	"errors"
	"fmt"
)

// Framing describes one device family's packet envelope.
type Framing struct {
	Sync            []byte   `yaml:"sync"`
	LengthSize      int      `yaml:"length_size"`
	LengthBigEndian bool     `yaml:"length_big_endian"`
	MaxPayload      int      `yaml:"max_payload"`
	Trailer         []byte   `yaml:"trailer"`
	CoverHeader     bool     `yaml:"cover_header"`
	Checksum        Checksum `yaml:"checksum"`
}

// Packet is a frame that passed validation.
type Packet struct {
	Payload  []byte
	Length   int
	Checksum uint16
}

// Codec frames and unframes packets for one Framing.
type Codec struct {
	f Framing
}

// New validates f and returns a Codec for it.
func New(f Framing) (*Codec, error) {
	if len(f.Sync) == 0 {
		return nil, errors.New("codec: framing needs at least one sync byte")
	}
	if f.LengthSize != 1 && f.LengthSize != 2 {
		return nil, fmt.Errorf("codec: length size must be 1 or 2, got %d", f.LengthSize)
	}
	limit := 1<<(8*f.LengthSize) - 1
	if f.MaxPayload <= 0 || f.MaxPayload > limit {
		return nil, fmt.Errorf("codec: max payload must be in 1..%d, got %d", limit, f.MaxPayload)
	}
	if err := f.Checksum.validate(); err != nil {
		return nil, fmt.Errorf("codec: %w", err)
	}
	return &Codec{f: f}, nil
}

// Framing returns the envelope this codec applies.
func (c *Codec) Framing() Framing { return c.f }

// Overhead is the number of bytes a frame adds around its payload.
func (c *Codec) Overhead() int {
	return len(c.f.Sync) + c.f.LengthSize + c.f.Checksum.Width + len(c.f.Trailer)
}

// Frame wraps payload in sync bytes, length, checksum and trailer.
func (c *Codec) Frame(payload []byte) ([]byte, error) {
	if len(payload) > c.f.MaxPayload {
		return nil, &Error{Err: ErrBadLength, Offset: len(c.f.Sync)}
	}

	out := make([]byte, 0, len(payload)+c.Overhead())
	out = append(out, c.f.Sync...)
	out = c.putLength(out, len(payload))
	out = append(out, payload...)

	sum := c.f.Checksum.Compute(out[c.covered():])
	ck := make([]byte, c.f.Checksum.Width)
	c.f.Checksum.put(ck, sum)
	out = append(out, ck...)

	return append(out, c.f.Trailer...), nil
}

// Unframe validates the frame at the start of window. It returns the
// packet and the number of bytes the frame occupied.
//
// ErrTruncated means the window holds the beginning of a frame and more
// bytes are needed. After ErrBadSync the caller should drop Resync(window)
// bytes; after ErrBadLength or ErrChecksumMismatch the returned count
// tells how many bytes to drop.
func (c *Codec) Unframe(window []byte) (Packet, int, error) {
	sync := c.f.Sync

	if len(window) < len(sync) {
		if !bytes.HasPrefix(sync, window) {
			return Packet{}, 0, &Error{Err: ErrBadSync}
		}
		return Packet{}, 0, &Error{Err: ErrTruncated, Offset: len(window)}
	}
	if !bytes.HasPrefix(window, sync) {
		return Packet{}, 0, &Error{Err: ErrBadSync}
	}

	hdr := len(sync) + c.f.LengthSize
	if len(window) < hdr {
		return Packet{}, 0, &Error{Err: ErrTruncated, Offset: len(window)}
	}

	length := c.getLength(window[len(sync):hdr])
	if length > c.f.MaxPayload {
		return Packet{}, len(sync), &Error{Err: ErrBadLength, Offset: len(sync)}
	}

	ckStart := hdr + length
	total := ckStart + c.f.Checksum.Width + len(c.f.Trailer)
	if len(window) < total {
		return Packet{}, 0, &Error{Err: ErrTruncated, Offset: len(window)}
	}

	trailerStart := ckStart + c.f.Checksum.Width
	if !bytes.Equal(window[trailerStart:total], c.f.Trailer) {
		return Packet{}, len(sync), &Error{Err: ErrBadSync, Offset: trailerStart}
	}

	want := c.f.Checksum.Compute(window[c.covered():ckStart])
	got := c.f.Checksum.get(window[ckStart:trailerStart])
	if want != got {
		return Packet{}, total, &Error{Err: ErrChecksumMismatch, Offset: ckStart, Want: want, Got: got}
	}

	payload := make([]byte, length)
	copy(payload, window[hdr:ckStart])

	return Packet{Payload: payload, Length: length, Checksum: got}, total, nil
}

// Resync returns how many leading bytes of window cannot start a frame.
func (c *Codec) Resync(window []byte) int {
	for i := 1; i < len(window); i++ {
		rest := window[i:]
		if len(rest) >= len(c.f.Sync) {
			if bytes.HasPrefix(rest, c.f.Sync) {
				return i
			}
		} else if bytes.HasPrefix(c.f.Sync, rest) {
			return i
		}
	}
	return len(window)
}

func (c *Codec) covered() int {
	if c.f.CoverHeader {
		return len(c.f.Sync)
	}
	return len(c.f.Sync) + c.f.LengthSize
}

func (c *Codec) putLength(out []byte, n int) []byte {
	if c.f.LengthSize == 1 {
		return append(out, byte(n))
	}
	if c.f.LengthBigEndian {
		return append(out, byte(n>>8), byte(n))
	}
	return append(out, byte(n), byte(n>>8))
}

func (c *Codec) getLength(b []byte) int {
	if c.f.LengthSize == 1 {
		return int(b[0])
	}
	if c.f.LengthBigEndian {
		return int(b[0])<<8 | int(b[1])
	}
	return int(b[1])<<8 | int(b[0])
}
