package parser

import (
	"errors"
	"fmt"
)

var (
	ErrTruncatedHeader     = errors.New("truncated header")
	ErrInvalidSampleLength = errors.New("invalid sample length")
	ErrUnknownRecordTag    = errors.New("unknown record tag")
	ErrTimeNonMonotonic    = errors.New("sample time went backwards")
)

// Error locates a decoding failure. Dive is the device's dive number when
// known, Offset the position in the raw dump.
type Error struct {
	Err    error
	Dive   int
	Offset int
	Tag    byte
}

func (e *Error) Error() string {
	if errors.Is(e.Err, ErrUnknownRecordTag) {
		return fmt.Sprintf("parse dive %d: %s 0x%02X at offset %d", e.Dive, e.Err, e.Tag, e.Offset)
	}
	return fmt.Sprintf("parse dive %d: %s at offset %d", e.Dive, e.Err, e.Offset)
}

func (e *Error) Unwrap() error { return e.Err }
