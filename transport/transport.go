// Package transport unifies the physical links dive computers are reached
// over: serial ports, infrared (IrCOMM), USB bulk and HID endpoints,
// Bluetooth RFCOMM and Bluetooth LE.
//
// Every backend presents the same byte-stream Conn. Line parameters are
// applied once, at Open; a caller that needs different parameters closes
// the Conn and opens a new one.
package transport

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects the transport backend.
type Kind int

const (
	Serial Kind = iota + 1
	IrDA
	USBBulk
	USBHID
	Bluetooth
	BLE
)

var kindNames = map[Kind]string{
	Serial:    "serial",
	IrDA:      "irda",
	USBBulk:   "usb",
	USBHID:    "usbhid",
	Bluetooth: "bluetooth",
	BLE:       "ble",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown transport kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

type FlowControl int

const (
	NoFlowControl FlowControl = iota
	HardwareFlowControl
)

// Line is the state a modem control line is driven to at open.
type Line int

const (
	LineUntouched Line = iota
	LineSet
	LineClear
)

// Params are the link parameters of one device family. They are part of
// the immutable device descriptor.
type Params struct {
	Kind Kind

	// Serial and IrDA.
	BaudRate    int
	DataBits    int
	Parity      Parity
	StopBits    StopBits
	FlowControl FlowControl
	DTR         Line
	RTS         Line

	// FastBaudRate, when non-zero, is the rate a protocol switches to after
	// identification by reopening the link.
	FastBaudRate int

	// USB bulk and HID.
	VendorID    uint16
	ProductID   uint16
	Interface   int
	InEndpoint  int
	OutEndpoint int
	ReportSize  int

	// Bluetooth RFCOMM channel.
	Channel uint8

	// Bluetooth LE service and characteristic UUIDs.
	Service string
	RX      string
	TX      string

	// CommandDelay is the minimum gap between two writes.
	CommandDelay time.Duration
}

// WithBaudRate returns a copy of p running at rate.
func (p Params) WithBaudRate(rate int) Params {
	p.BaudRate = rate
	return p
}

// Conn is an open link to one device. A Conn is owned by exactly one
// goroutine at a time.
type Conn interface {
	// Read blocks until at least one byte is available or timeout elapses.
	// On timeout it returns 0 and an error matching ErrTimeout.
	Read(p []byte, timeout time.Duration) (int, error)
	Write(p []byte) (int, error)
	// Flush discards any received but unread input.
	Flush() error
	Close() error
}

// Opener opens a Conn to the device at addr.
type Opener interface {
	Open(addr string, p Params) (Conn, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(addr string, p Params) (Conn, error)

func (f OpenerFunc) Open(addr string, p Params) (Conn, error) { return f(addr, p) }

// System opens real hardware.
var System Opener = OpenerFunc(Open)

// MinReadTimeout bounds reads with a non-positive timeout.
const MinReadTimeout = time.Millisecond

// Open opens addr with the backend selected by p.Kind. The meaning of addr
// depends on the backend: a device node for serial and IrDA, an optional
// USB serial number for USB, a Bluetooth device address otherwise.
func Open(addr string, p Params) (Conn, error) {
	switch p.Kind {
	case Serial:
		return openSerial(addr, p)
	case IrDA:
		return openIrDA(addr, p)
	case USBBulk, USBHID:
		return openUSB(addr, p)
	case Bluetooth:
		return openRFCOMM(addr, p)
	case BLE:
		return openBLE(addr, p)
	default:
		return nil, &Error{Op: "open", Kind: p.Kind, Addr: addr, Err: ErrIO,
			Cause: fmt.Errorf("unsupported transport kind %s", p.Kind)}
	}
}

func clampTimeout(d time.Duration) time.Duration {
	if d < MinReadTimeout {
		return MinReadTimeout
	}
	return d
}
