package registry

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"go.tigermatt.uk/dive/codec"
	"go.tigermatt.uk/dive/parser"
	"go.tigermatt.uk/dive/transport"
)

type fileSchema struct {
	Devices []deviceSchema `yaml:"devices"`
}

type deviceSchema struct {
	Base      string          `yaml:"base"`
	Vendor    string          `yaml:"vendor"`
	Product   string          `yaml:"product"`
	Protocol  Variant         `yaml:"protocol"`
	Parser    Variant         `yaml:"parser"`
	ModelID   string          `yaml:"model_id"`
	Signature string          `yaml:"signature"`
	Transport transportSchema `yaml:"transport"`
	Framing   *codec.Framing  `yaml:"framing"`
	Timing    timingSchema    `yaml:"timing"`
	Units     unitsSchema     `yaml:"units"`
}

type transportSchema struct {
	Kind         string        `yaml:"kind"`
	BaudRate     int           `yaml:"baud_rate"`
	DataBits     int           `yaml:"data_bits"`
	Parity       string        `yaml:"parity"`
	StopBits     int           `yaml:"stop_bits"`
	FlowControl  string        `yaml:"flow_control"`
	DTR          string        `yaml:"dtr"`
	RTS          string        `yaml:"rts"`
	FastBaudRate int           `yaml:"fast_baud_rate"`
	VendorID     uint16        `yaml:"vendor_id"`
	ProductID    uint16        `yaml:"product_id"`
	Interface    int           `yaml:"interface"`
	InEndpoint   int           `yaml:"in_endpoint"`
	OutEndpoint  int           `yaml:"out_endpoint"`
	ReportSize   int           `yaml:"report_size"`
	Channel      uint8         `yaml:"channel"`
	Service      string        `yaml:"service"`
	RX           string        `yaml:"rx"`
	TX           string        `yaml:"tx"`
	CommandDelay time.Duration `yaml:"command_delay"`
}

type timingSchema struct {
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	HandshakeAttempts int           `yaml:"handshake_attempts"`
	HandshakeDelay    time.Duration `yaml:"handshake_delay"`
	ExchangeAttempts  int           `yaml:"exchange_attempts"`
}

type unitsSchema struct {
	DepthFactor       int64  `yaml:"depth_factor"`
	DepthOffset       int64  `yaml:"depth_offset"`
	TemperatureFactor int64  `yaml:"temperature_factor"`
	TemperatureOffset int64  `yaml:"temperature_offset"`
	TemperatureUnit   string `yaml:"temperature_unit"`
}

// LoadYAML reads descriptors from a YAML table. An entry naming a base
// descriptor of base starts as a copy of it; set fields override.
func LoadYAML(r io.Reader, base *Registry) ([]Descriptor, error) {
	var f fileSchema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: decoding yaml: %w", err)
	}

	descs := make([]Descriptor, 0, len(f.Devices))
	for i, s := range f.Devices {
		d, err := s.descriptor(base)
		if err != nil {
			return nil, fmt.Errorf("registry: device %d: %w", i, err)
		}
		descs = append(descs, d)
	}
	return descs, nil
}

func (s deviceSchema) descriptor(base *Registry) (Descriptor, error) {
	var d Descriptor
	if s.Base != "" {
		if base == nil {
			return d, fmt.Errorf("base %q given without a base registry", s.Base)
		}
		b, err := base.Lookup(s.Base)
		if err != nil {
			return d, err
		}
		d = b
		// A derived model must not inherit the base's identity.
		d.Signature = nil
	}

	set(&d.Vendor, s.Vendor)
	set(&d.Product, s.Product)
	set(&d.Protocol, s.Protocol)
	set(&d.Parser, s.Parser)
	if d.Parser == "" {
		d.Parser = d.Protocol
	}

	var err error
	if s.ModelID != "" {
		if d.ModelID, err = parseHex(s.ModelID); err != nil {
			return d, fmt.Errorf("model_id: %w", err)
		}
	}
	if s.Signature != "" {
		if d.Signature, err = parseHex(s.Signature); err != nil {
			return d, fmt.Errorf("signature: %w", err)
		}
	}

	if err := s.Transport.apply(&d.Transport); err != nil {
		return d, err
	}
	if s.Framing != nil {
		d.Framing = *s.Framing
	}

	set(&d.Timing.ReadTimeout, s.Timing.ReadTimeout)
	set(&d.Timing.HandshakeAttempts, s.Timing.HandshakeAttempts)
	set(&d.Timing.HandshakeDelay, s.Timing.HandshakeDelay)
	set(&d.Timing.ExchangeAttempts, s.Timing.ExchangeAttempts)

	set(&d.Units.Depth.Factor, s.Units.DepthFactor)
	set(&d.Units.Depth.Offset, s.Units.DepthOffset)
	set(&d.Units.Temperature.Factor, s.Units.TemperatureFactor)
	set(&d.Units.Temperature.Offset, s.Units.TemperatureOffset)
	switch strings.ToLower(s.Units.TemperatureUnit) {
	case "":
	case "celsius", "c":
		d.Units.TempUnit = parser.Celsius
	case "fahrenheit", "f":
		d.Units.TempUnit = parser.Fahrenheit
	default:
		return d, fmt.Errorf("unknown temperature unit %q", s.Units.TemperatureUnit)
	}

	return d, nil
}

func (s transportSchema) apply(p *transport.Params) error {
	if s.Kind != "" {
		k, err := transport.ParseKind(s.Kind)
		if err != nil {
			return err
		}
		p.Kind = k
	}

	set(&p.BaudRate, s.BaudRate)
	set(&p.DataBits, s.DataBits)
	set(&p.FastBaudRate, s.FastBaudRate)
	set(&p.VendorID, s.VendorID)
	set(&p.ProductID, s.ProductID)
	set(&p.Interface, s.Interface)
	set(&p.InEndpoint, s.InEndpoint)
	set(&p.OutEndpoint, s.OutEndpoint)
	set(&p.ReportSize, s.ReportSize)
	set(&p.Channel, s.Channel)
	set(&p.Service, s.Service)
	set(&p.RX, s.RX)
	set(&p.TX, s.TX)
	set(&p.CommandDelay, s.CommandDelay)

	switch strings.ToLower(s.Parity) {
	case "":
	case "none":
		p.Parity = transport.NoParity
	case "odd":
		p.Parity = transport.OddParity
	case "even":
		p.Parity = transport.EvenParity
	default:
		return fmt.Errorf("unknown parity %q", s.Parity)
	}

	switch s.StopBits {
	case 0:
	case 1:
		p.StopBits = transport.OneStopBit
	case 2:
		p.StopBits = transport.TwoStopBits
	default:
		return fmt.Errorf("invalid stop bits %d", s.StopBits)
	}

	switch strings.ToLower(s.FlowControl) {
	case "":
	case "none":
		p.FlowControl = transport.NoFlowControl
	case "hardware", "rtscts":
		p.FlowControl = transport.HardwareFlowControl
	default:
		return fmt.Errorf("unknown flow control %q", s.FlowControl)
	}

	var err error
	if p.DTR, err = parseLine(s.DTR, p.DTR); err != nil {
		return fmt.Errorf("dtr: %w", err)
	}
	if p.RTS, err = parseLine(s.RTS, p.RTS); err != nil {
		return fmt.Errorf("rts: %w", err)
	}
	return nil
}

func parseLine(s string, def transport.Line) (transport.Line, error) {
	switch strings.ToLower(s) {
	case "":
		return def, nil
	case "set", "high", "on":
		return transport.LineSet, nil
	case "clear", "low", "off":
		return transport.LineClear, nil
	case "untouched":
		return transport.LineUntouched, nil
	}
	return def, fmt.Errorf("unknown line state %q", s)
}

func parseHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}

func set[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}
