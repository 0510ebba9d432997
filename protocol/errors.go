package protocol

import (
	"errors"
	"fmt"

	"go.tigermatt.uk/dive/codec"
	"go.tigermatt.uk/dive/transport"
)

var (
	// ErrHandshakeTimeout means the device never answered identification
	// within the handshake attempts.
	ErrHandshakeTimeout = errors.New("handshake timed out")
	// ErrUnexpectedDevice means the device identified as a model other
	// than the descriptor in use.
	ErrUnexpectedDevice = errors.New("unexpected device")
	// ErrChecksumRetriesExhausted means every attempt of an exchange came
	// back corrupted.
	ErrChecksumRetriesExhausted = errors.New("checksum retries exhausted")
	// ErrCancelled means the caller cancelled the session.
	ErrCancelled = errors.New("download cancelled")
	// ErrUnexpectedResponse is returned by Request.Accept for a well formed
	// packet that does not answer the request. It is retried.
	ErrUnexpectedResponse = errors.New("unexpected response")
	// ErrAlreadyRun is returned by a second Machine.Run.
	ErrAlreadyRun = errors.New("machine already run")
)

// Error records the state and step a session failed in.
type Error struct {
	Descriptor string
	State      State
	Op         string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s): %v", e.Descriptor, e.Op, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// retriable errors are a lost or damaged response: the request can be
// repeated on the same link.
func retriable(err error) bool {
	return errors.Is(err, transport.ErrTimeout) ||
		errors.Is(err, codec.ErrChecksumMismatch) ||
		errors.Is(err, codec.ErrBadLength) ||
		errors.Is(err, codec.ErrBadSync) ||
		errors.Is(err, ErrUnexpectedResponse)
}

func corrupted(err error) bool {
	return errors.Is(err, codec.ErrChecksumMismatch) ||
		errors.Is(err, codec.ErrBadLength) ||
		errors.Is(err, codec.ErrBadSync)
}
