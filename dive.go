// Package dive downloads dive logs from dive computers and decodes them.
//
// A device is described by a registry.Descriptor, which selects its
// transport, framing and one of a closed set of protocol and parser
// variants. Download runs one session and returns the raw dump; Parse
// turns a dump into dives, oldest first.
//
//	for d, err := range dive.Dives(ctx, desc, "/dev/ttyUSB0") {
//		if err != nil {
//			return err
//		}
//		fmt.Println(d.Number, d.Start, d.MaxDepth)
//	}
package dive

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"go.tigermatt.uk/dive/family/memory"
	"go.tigermatt.uk/dive/family/stream"
	"go.tigermatt.uk/dive/parser"
	"go.tigermatt.uk/dive/protocol"
	"go.tigermatt.uk/dive/rawdump"
	"go.tigermatt.uk/dive/registry"
	"go.tigermatt.uk/dive/transport"
)

// ErrUnsupported means a descriptor names a variant this build lacks.
var ErrUnsupported = errors.New("unsupported variant")

func protocolFor(v registry.Variant) (protocol.Variant, error) {
	switch v {
	case registry.Stream:
		return stream.Protocol{}, nil
	case registry.Memory:
		return memory.Protocol{}, nil
	}
	return nil, fmt.Errorf("%w: protocol %q", ErrUnsupported, v)
}

// Download opens the device at addr and reads its log memory.
func Download(ctx context.Context, desc registry.Descriptor, addr string, opts ...protocol.Option) (*protocol.Result, error) {
	v, err := protocolFor(desc.Protocol)
	if err != nil {
		return nil, err
	}
	return protocol.New(desc, v, addr, opts...).Run(ctx)
}

// Dives downloads from the device when the sequence is ranged over and
// yields its dives oldest first. A failed download yields only the error.
func Dives(ctx context.Context, desc registry.Descriptor, addr string, opts ...protocol.Option) iter.Seq2[*parser.Dive, error] {
	return func(yield func(*parser.Dive, error) bool) {
		res, err := Download(ctx, desc, addr, opts...)
		if err != nil {
			yield(nil, err)
			return
		}
		for d, err := range Parse(desc, res.Dump.Data) {
			if !yield(d, err) {
				return
			}
		}
	}
}

// Parse decodes data downloaded from a desc device. The sequence is lazy
// and stops at the first error; dives yielded before it are valid.
func Parse(desc registry.Descriptor, data []byte) iter.Seq2[*parser.Dive, error] {
	switch desc.Parser {
	case registry.Stream:
		return stream.Parse(data)
	case registry.Memory:
		return memory.Parse(desc.Units, data)
	}
	return parser.Fail(fmt.Errorf("%w: parser %q", ErrUnsupported, desc.Parser))
}

// ParseDump decodes a dump, looking its descriptor up in reg.
func ParseDump(reg *registry.Registry, d *rawdump.Dump) iter.Seq2[*parser.Dive, error] {
	desc, err := reg.Lookup(d.Descriptor)
	if err != nil {
		return parser.Fail(err)
	}
	return Parse(desc, d.Data)
}

// EnumerateDescriptors lists the devices reg knows, the built-in table
// when reg is nil.
func EnumerateDescriptors(reg *registry.Registry) []registry.Descriptor {
	if reg == nil {
		reg = registry.Default()
	}
	return reg.Descriptors()
}

// Since skips dives that started before t.
func Since(seq iter.Seq2[*parser.Dive, error], t time.Time) iter.Seq2[*parser.Dive, error] {
	return func(yield func(*parser.Dive, error) bool) {
		for d, err := range seq {
			if err == nil && d.Start.Before(t) {
				continue
			}
			if !yield(d, err) {
				return
			}
		}
	}
}

// Emulator is an emulated dive computer: the device end of a link that is
// also its own transport.Opener.
type Emulator interface {
	transport.Opener
	transport.Conn
}

// Simulate returns an emulated desc device holding dives.
func Simulate(desc registry.Descriptor, serial uint32, dives ...*parser.Dive) (Emulator, error) {
	// Devices keep their newest dive first.
	stored := slices.Clone(dives)
	slices.SortStableFunc(stored, func(a, b *parser.Dive) int { return b.Start.Compare(a.Start) })

	switch desc.Protocol {
	case registry.Stream:
		var enc [][]byte
		for _, d := range stored {
			b, err := stream.Encode(d, parser.Centimetre)
			if err != nil {
				return nil, err
			}
			enc = append(enc, b)
		}
		sim, err := stream.NewSimulator(desc, serial, enc...)
		if err != nil {
			return nil, err
		}
		return sim, nil

	case registry.Memory:
		var enc [][]byte
		for _, d := range stored {
			b, err := memory.EncodeDive(desc.Units, d, interval(d))
			if err != nil {
				return nil, err
			}
			enc = append(enc, b)
		}
		img, err := memory.Image(64<<10, enc...)
		if err != nil {
			return nil, err
		}
		sim, err := memory.NewSimulator(desc, serial, 128, img)
		if err != nil {
			return nil, err
		}
		return sim, nil
	}
	return nil, fmt.Errorf("%w: protocol %q", ErrUnsupported, desc.Protocol)
}

func interval(d *parser.Dive) time.Duration {
	if len(d.Samples) > 1 {
		if gap := d.Samples[1].Time - d.Samples[0].Time; gap >= time.Second {
			return gap
		}
	}
	return 10 * time.Second
}
