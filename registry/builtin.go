package registry

import (
	"time"

	"go.tigermatt.uk/dive/codec"
	"go.tigermatt.uk/dive/parser"
	"go.tigermatt.uk/dive/transport"
)

var (
	streamFraming = codec.Framing{
		Sync:        []byte{0xA5, 0x5A},
		LengthSize:  2,
		MaxPayload:  4096,
		CoverHeader: true,
		Checksum:    codec.CCITT,
	}

	streamTiming = Timing{
		ReadTimeout:       time.Second,
		HandshakeAttempts: 3,
		HandshakeDelay:    500 * time.Millisecond,
		ExchangeAttempts:  3,
	}

	memoryFraming = codec.Framing{
		Sync:       []byte{0x3C},
		LengthSize: 1,
		MaxPayload: 255,
		Trailer:    []byte{0x3E},
		Checksum:   codec.Checksum{Algorithm: codec.Sum, Width: 1},
	}

	memoryTiming = Timing{
		ReadTimeout:       2 * time.Second,
		HandshakeAttempts: 4,
		HandshakeDelay:    250 * time.Millisecond,
		ExchangeAttempts:  3,
	}

	metric = Units{
		Depth:       parser.Scale{Factor: int64(parser.Centimetre)},
		Temperature: parser.Scale{Factor: 100},
		TempUnit:    parser.Celsius,
	}

	imperial = Units{
		Depth:       parser.Scale{Factor: int64(parser.Foot / 100)},
		Temperature: parser.Scale{Factor: 100},
		TempUnit:    parser.Fahrenheit,
	}

	nordicUART = transport.Params{
		Kind:    transport.BLE,
		Service: "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		RX:      "6e400003-b5a3-f393-e0a9-e50e24dcca9e",
		TX:      "6e400002-b5a3-f393-e0a9-e50e24dcca9e",
	}
)

// Builtin returns the descriptor table shipped with the library.
func Builtin() []Descriptor {
	return []Descriptor{
		{
			Vendor: "Generic", Product: "Stream S1",
			Protocol: Stream, Parser: Stream,
			Transport: transport.Params{
				Kind: transport.Serial, BaudRate: 115200, DataBits: 8,
				DTR: transport.LineSet, RTS: transport.LineClear,
			},
			Framing:   streamFraming,
			Timing:    streamTiming,
			ModelID:   []byte{'S', 'D', 0x01, 0x01},
			Signature: []byte{'S', 'D'},
		},
		{
			Vendor: "Generic", Product: "Stream S1 BT",
			Protocol: Stream, Parser: Stream,
			Transport: transport.Params{Kind: transport.Bluetooth, Channel: 1},
			Framing:   streamFraming,
			Timing:    streamTiming,
			ModelID:   []byte{'S', 'D', 0x01, 0x02},
		},
		{
			Vendor: "Generic", Product: "Stream S2",
			Protocol: Stream, Parser: Stream,
			Transport: nordicUART,
			Framing:   streamFraming,
			Timing: Timing{
				ReadTimeout:       3 * time.Second,
				HandshakeAttempts: 3,
				HandshakeDelay:    time.Second,
				ExchangeAttempts:  4,
			},
			ModelID:   []byte{'S', 'D', 0x02, 0x01},
			Signature: []byte{'S', 'D', 0x02},
		},
		{
			Vendor: "Generic", Product: "Memory M2",
			Protocol: Memory, Parser: Memory,
			Transport: transport.Params{
				Kind: transport.Serial, BaudRate: 9600, DataBits: 8,
				DTR: transport.LineSet, RTS: transport.LineClear,
				FastBaudRate: 38400,
			},
			Framing:   memoryFraming,
			Timing:    memoryTiming,
			Units:     metric,
			ModelID:   []byte{'M', 'X', 0x02, 0x00},
			Signature: []byte{'M', 'X'},
		},
		{
			Vendor: "Generic", Product: "Memory M2 IR",
			Protocol: Memory, Parser: Memory,
			Transport: transport.Params{
				Kind: transport.IrDA, BaudRate: 9600, DataBits: 8,
				CommandDelay: 20 * time.Millisecond,
			},
			Framing: func() codec.Framing {
				f := memoryFraming
				f.Checksum = codec.Checksum{Algorithm: codec.XOR, Width: 1}
				return f
			}(),
			Timing: Timing{
				ReadTimeout:       3 * time.Second,
				HandshakeAttempts: 5,
				HandshakeDelay:    time.Second,
				ExchangeAttempts:  5,
			},
			Units:   metric,
			ModelID: []byte{'M', 'X', 0x02, 0x01},
		},
		{
			Vendor: "Generic", Product: "Memory M3",
			Protocol: Memory, Parser: Memory,
			Transport: transport.Params{
				Kind: transport.USBBulk, VendorID: 0x16D0, ProductID: 0x0E5A,
				InEndpoint: 0x81, OutEndpoint: 0x02,
			},
			Framing: func() codec.Framing {
				f := memoryFraming
				f.Checksum = codec.Checksum{Algorithm: codec.Sum, Width: 2, Complement: true}
				return f
			}(),
			Timing:    memoryTiming,
			Units:     imperial,
			ModelID:   []byte{'M', 'X', 0x03, 0x00},
			Signature: []byte{'M', 'X', 0x03},
		},
		{
			Vendor: "Generic", Product: "Memory M3 HID",
			Protocol: Memory, Parser: Memory,
			Transport: transport.Params{
				Kind: transport.USBHID, VendorID: 0x16D0, ProductID: 0x0E5B,
				InEndpoint: 0x81, OutEndpoint: 0x01, ReportSize: 64,
			},
			Framing:   memoryFraming,
			Timing:    memoryTiming,
			Units:     imperial,
			ModelID:   []byte{'M', 'X', 0x03, 0x01},
		},
	}
}

// Default returns a registry holding the built-in table.
func Default() *Registry {
	r, err := New(Builtin()...)
	if err != nil {
		panic(err)
	}
	return r
}
