package transport

import (
	"errors"
	"io"
	"os"
	"syscall"
	"time"
)

// fileConn drives a pollable file descriptor, such as a connected
// Bluetooth socket, with per-read deadlines.
type fileConn struct {
	f    *os.File
	kind Kind
	addr string
}

func (c *fileConn) Read(p []byte, timeout time.Duration) (int, error) {
	if err := c.f.SetReadDeadline(time.Now().Add(clampTimeout(timeout))); err != nil {
		return 0, c.fail("read", err)
	}
	n, err := c.f.Read(p)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		return 0, &Error{Op: "read", Kind: c.kind, Addr: c.addr, Err: ErrTimeout}
	}
	return 0, c.fail("read", err)
}

func (c *fileConn) Write(p []byte) (int, error) {
	n, err := c.f.Write(p)
	if err != nil {
		return n, c.fail("write", err)
	}
	return n, nil
}

func (c *fileConn) Flush() error {
	buf := make([]byte, 256)
	for {
		if _, err := c.Read(buf, MinReadTimeout); err != nil {
			if IsTimeout(err) {
				return nil
			}
			return err
		}
	}
}

func (c *fileConn) Close() error {
	if err := c.f.Close(); err != nil {
		return c.fail("close", err)
	}
	return nil
}

func (c *fileConn) fail(op string, err error) error {
	return &Error{Op: op, Kind: c.kind, Addr: c.addr, Err: classifySocket(err), Cause: err}
}

func classifySocket(err error) error {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, io.EOF),
		errors.Is(err, os.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ENOTCONN),
		errors.Is(err, syscall.EPIPE):
		return ErrDisconnected
	}
	return ErrIO
}
