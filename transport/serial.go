package transport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

type serialConn struct {
	port    serial.Port
	kind    Kind
	addr    string
	timeout time.Duration
}

func serialMode(p Params) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: p.BaudRate,
		DataBits: p.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	switch p.Parity {
	case NoParity:
	case OddParity:
		mode.Parity = serial.OddParity
	case EvenParity:
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("invalid parity %d", p.Parity)
	}

	switch p.StopBits {
	case OneStopBit:
	case TwoStopBits:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits %d", p.StopBits)
	}

	if p.FlowControl == HardwareFlowControl {
		return nil, errors.New("hardware flow control is not supported by the serial backend")
	}

	return mode, nil
}

func openSerial(addr string, p Params) (Conn, error) {
	return openPort(Serial, addr, p)
}

func openPort(kind Kind, addr string, p Params) (Conn, error) {
	mode, err := serialMode(p)
	if err != nil {
		return nil, &Error{Op: "open", Kind: kind, Addr: addr, Err: ErrIO, Cause: err}
	}

	port, err := serial.Open(addr, mode)
	if err != nil {
		return nil, &Error{Op: "open", Kind: kind, Addr: addr, Err: ErrIO, Cause: err}
	}

	// Some interfaces draw power from, or wake the device on, the control lines.
	if err := setLine(port.SetDTR, p.DTR); err != nil {
		port.Close()
		return nil, &Error{Op: "set DTR", Kind: kind, Addr: addr, Err: ErrIO, Cause: err}
	}
	if err := setLine(port.SetRTS, p.RTS); err != nil {
		port.Close()
		return nil, &Error{Op: "set RTS", Kind: kind, Addr: addr, Err: ErrIO, Cause: err}
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, &Error{Op: "flush", Kind: kind, Addr: addr, Err: ErrIO, Cause: err}
	}

	return &serialConn{port: port, kind: kind, addr: addr}, nil
}

func setLine(set func(bool) error, l Line) error {
	switch l {
	case LineSet:
		return set(true)
	case LineClear:
		return set(false)
	}
	return nil
}

func (c *serialConn) Read(p []byte, timeout time.Duration) (int, error) {
	timeout = clampTimeout(timeout)
	if timeout != c.timeout {
		if err := c.port.SetReadTimeout(timeout); err != nil {
			return 0, c.fail("read", err)
		}
		c.timeout = timeout
	}

	n, err := c.port.Read(p)
	if err != nil {
		return n, c.fail("read", err)
	}
	if n == 0 {
		return 0, &Error{Op: "read", Kind: c.kind, Addr: c.addr, Err: ErrTimeout}
	}
	return n, nil
}

func (c *serialConn) Write(p []byte) (int, error) {
	n, err := c.port.Write(p)
	if err != nil {
		return n, c.fail("write", err)
	}
	if err := c.port.Drain(); err != nil {
		return n, c.fail("drain", err)
	}
	return n, nil
}

func (c *serialConn) Flush() error {
	if err := c.port.ResetInputBuffer(); err != nil {
		return c.fail("flush", err)
	}
	return nil
}

func (c *serialConn) Close() error {
	if err := c.port.Close(); err != nil {
		return c.fail("close", err)
	}
	return nil
}

func (c *serialConn) fail(op string, err error) error {
	return &Error{Op: op, Kind: c.kind, Addr: c.addr, Err: classifySerial(err), Cause: err}
}

// classifySerial maps serial library errors onto the transport taxonomy.
func classifySerial(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrDisconnected
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
			return ErrDisconnected
		}
	}

	return ErrIO
}
