package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout means no data arrived within the read timeout.
	ErrTimeout = errors.New("timeout")
	// ErrIO covers failures such as a missing device or denied permission.
	ErrIO = errors.New("i/o failure")
	// ErrDisconnected means the link was closed mid-session.
	ErrDisconnected = errors.New("disconnected")
)

// Error describes a failed transport operation. Err is one of ErrTimeout,
// ErrIO or ErrDisconnected; Cause is the backend error, if any.
type Error struct {
	Op    string
	Kind  Kind
	Addr  string
	Err   error
	Cause error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s %s: %s", e.Kind, e.Op, e.Addr, e.Err)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// IsTimeout reports whether err is a read timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }
