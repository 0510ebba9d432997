package codec

import (
	"errors"
	"fmt"
)

var (
	ErrBadSync          = errors.New("bad sync")
	ErrBadLength        = errors.New("bad length")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrTruncated        = errors.New("truncated packet")
)

// Error locates a framing failure within the unframed window.
type Error struct {
	Err    error
	Offset int
	Want   uint16
	Got    uint16
}

func (e *Error) Error() string {
	if errors.Is(e.Err, ErrChecksumMismatch) {
		return fmt.Sprintf("codec: %s at offset %d: computed 0x%04X, packet has 0x%04X", e.Err, e.Offset, e.Want, e.Got)
	}
	return fmt.Sprintf("codec: %s at offset %d", e.Err, e.Offset)
}

func (e *Error) Unwrap() error { return e.Err }
