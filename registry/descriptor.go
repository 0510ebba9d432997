package registry

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"go.tigermatt.uk/dive/codec"
	"go.tigermatt.uk/dive/parser"
	"go.tigermatt.uk/dive/transport"
)

// Variant tags one member of the closed set of protocol and parser
// implementations.
type Variant string

const (
	// Stream devices push one packet per dive after a dump command and are
	// paced with ACK/NAK.
	Stream Variant = "stream"
	// Memory devices are read block by block into a full memory image.
	Memory Variant = "memory"
)

var variants = map[Variant]bool{Stream: true, Memory: true}

// Timing bounds the retry loops of a device family.
type Timing struct {
	ReadTimeout       time.Duration
	HandshakeAttempts int
	HandshakeDelay    time.Duration
	ExchangeAttempts  int
}

// Units declares how a family's fixed-point fields scale. Families whose
// dumps carry their own scale leave Depth zero.
type Units struct {
	Depth       parser.Scale
	Temperature parser.Scale
	TempUnit    parser.TempUnit
}

// Descriptor is the immutable description of one dive computer model.
type Descriptor struct {
	Vendor  string
	Product string

	Protocol Variant
	Parser   Variant

	Transport transport.Params
	Framing   codec.Framing
	Timing    Timing
	Units     Units

	// ModelID is the exact model fingerprint at the start of the
	// identification response.
	ModelID []byte
	// Signature, if set, matches unknown models of the same wire protocol.
	Signature []byte
}

// ID is the stable "vendor/product" key of the descriptor.
func (d Descriptor) ID() string {
	return slug(d.Vendor) + "/" + slug(d.Product)
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s %s (%s, %s)", d.Vendor, d.Product, d.Protocol, d.Transport.Kind)
}

// clone copies the byte slices so a caller cannot reach into a registry
// through a descriptor it was handed.
func (d Descriptor) clone() Descriptor {
	d.ModelID = bytes.Clone(d.ModelID)
	d.Signature = bytes.Clone(d.Signature)
	d.Framing.Sync = bytes.Clone(d.Framing.Sync)
	d.Framing.Trailer = bytes.Clone(d.Framing.Trailer)
	return d
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}

func (d Descriptor) validate() error {
	if d.Vendor == "" || d.Product == "" {
		return fmt.Errorf("descriptor needs a vendor and product")
	}
	if !variants[d.Protocol] {
		return fmt.Errorf("%s: unknown protocol variant %q", d.ID(), d.Protocol)
	}
	if !variants[d.Parser] {
		return fmt.Errorf("%s: unknown parser variant %q", d.ID(), d.Parser)
	}
	if d.Transport.Kind == 0 {
		return fmt.Errorf("%s: no transport kind", d.ID())
	}
	if len(d.ModelID) == 0 {
		return fmt.Errorf("%s: no model id", d.ID())
	}
	if _, err := codec.New(d.Framing); err != nil {
		return fmt.Errorf("%s: %w", d.ID(), err)
	}
	if d.Timing.HandshakeAttempts < 1 || d.Timing.ExchangeAttempts < 1 {
		return fmt.Errorf("%s: attempt budgets must be at least 1", d.ID())
	}
	if d.Timing.ReadTimeout <= 0 {
		return fmt.Errorf("%s: read timeout must be positive", d.ID())
	}
	return nil
}
