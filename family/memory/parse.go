package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.tigermatt.uk/dive/parser"
	"go.tigermatt.uk/dive/registry"
)

// Memory layout, little-endian. The config area holds
//
//	dive count[2] | log end[4] | reserved
//
// and is followed by the dives, newest first, each a fixed header
//
//	number[2] | start[4] s since 2000 | duration[2] s | max depth[2] |
//	min temp[2] | max temp[2] | interval[1] s | gas count[1] |
//	gases[3][O2, He] | sample length[2] | reserved[8]
//
// and its sample records. A header numbered 0xFFFF ends the log.
const (
	configLen = 0x40
	headerLen = 32
	maxGases  = 3
	endMarker = 0xFFFF

	tagDepth    = 0x01 // depth[2], starts a sample and advances time
	tagTemp     = 0x02 // temperature[2], signed
	tagPressure = 0x03 // gas[1] pressure[2] in 100 mbar
	tagEvent    = 0x04 // kind[1] value[1]
	tagTime     = 0x05 // seconds[2], time of the next sample
)

var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

var grammar = parser.Grammar{
	Fixed: map[byte]int{
		tagDepth:    2,
		tagTemp:     2,
		tagPressure: 3,
		tagEvent:    2,
		tagTime:     2,
	},
	Extension: func(tag byte) bool { return tag >= 0xE0 && tag != 0xFF },
}

var events = map[byte]parser.EventKind{
	0x01: parser.EventGasSwitch,
	0x02: parser.EventAscent,
	0x04: parser.EventDeco,
	0x08: parser.EventBookmark,
}

// Index walks the dive headers of a memory image. A log that ends, by
// running out or at an end marker, before the declared dive count is
// truncated.
func Index(image []byte) ([]parser.Entry, error) {
	if len(image) < configLen {
		return nil, &parser.Error{Err: parser.ErrTruncatedHeader}
	}
	count := int(binary.LittleEndian.Uint16(image))

	var idx []parser.Entry
	for off := configLen; len(idx) < count; {
		if off >= len(image) {
			return idx, &parser.Error{
				Err:    fmt.Errorf("%w: image ends after %d of %d dives", parser.ErrTruncatedHeader, len(idx), count),
				Offset: off,
			}
		}
		c := parser.NewCursor(image[off:], off, binary.LittleEndian)
		number := c.U16()
		if c.OK() && number == endMarker {
			return idx, &parser.Error{
				Err:    fmt.Errorf("%w: end marker after %d of %d dives", parser.ErrTruncatedHeader, len(idx), count),
				Offset: off,
			}
		}
		start := c.U32()
		c.Skip(16)
		samples := int(c.U16())
		c.Skip(8)
		if !c.OK() {
			return idx, &parser.Error{Err: parser.ErrTruncatedHeader, Dive: int(number), Offset: off}
		}

		idx = append(idx, parser.Entry{
			Number: int(number),
			Start:  epoch.Add(time.Duration(start) * time.Second),
			Offset: off,
			Length: headerLen + samples,
		})
		off += headerLen + samples
	}
	return idx, nil
}

// Parse decodes a memory image lazily, oldest dive first, scaling raw
// values with u.
func Parse(u registry.Units, image []byte) iter.Seq2[*parser.Dive, error] {
	idx, err := Index(image)
	if err != nil {
		return parser.Fail(err)
	}
	return parser.Chronological(idx, func(e parser.Entry) (*parser.Dive, error) {
		if e.Offset+e.Length > len(image) {
			return nil, &parser.Error{Err: parser.ErrInvalidSampleLength, Dive: e.Number, Offset: e.Offset}
		}
		return Decode(u, image[e.Offset:e.Offset+e.Length], e.Offset)
	})
}

// Decode decodes the dive at the start of b; base is its offset in the
// image.
func Decode(u registry.Units, b []byte, base int) (*parser.Dive, error) {
	c := parser.NewCursor(b, base, binary.LittleEndian)

	d := &parser.Dive{Number: int(c.U16())}
	d.Start = epoch.Add(time.Duration(c.U32()) * time.Second)
	d.Duration = time.Duration(c.U16()) * time.Second
	d.MaxDepth = depth(u, c.U16())
	lo, hi := temperature(u, c.I16()), temperature(u, c.I16())
	interval := time.Duration(c.U8()) * time.Second
	ngas := int(c.U8())
	var gases [maxGases]parser.GasMix
	for i := range gases {
		gases[i] = parser.GasMix{Oxygen: int(c.U8()), Helium: int(c.U8())}
	}
	length := int(c.U16())
	c.Skip(8)
	if !c.OK() {
		return nil, &parser.Error{Err: parser.ErrTruncatedHeader, Dive: d.Number, Offset: base}
	}
	if length != c.Len() {
		return nil, &parser.Error{Err: parser.ErrInvalidSampleLength, Dive: d.Number, Offset: base + headerLen}
	}
	d.Gases = append([]parser.GasMix(nil), gases[:min(ngas, maxGases)]...)
	d.MinTemperature, d.MaxTemperature = &lo, &hi

	var p parser.Profile
	var next time.Duration
	for c.Len() > 0 {
		rec, err := grammar.Next(c)
		if err != nil {
			return nil, atDive(err, d.Number)
		}
		if rec.Skipped {
			d.Skipped++
			continue
		}

		r := parser.NewCursor(rec.Payload, rec.Offset+1, binary.LittleEndian)
		switch rec.Tag {
		case tagTime:
			next = time.Duration(r.U16()) * time.Second
			continue
		case tagDepth:
			s, err := p.Begin(next, rec.Offset)
			if err != nil {
				return nil, atDive(err, d.Number)
			}
			s.Depth = depth(u, r.U16())
			next += interval
			continue
		}

		s := p.Current()
		if s == nil {
			s, _ = p.Begin(0, rec.Offset)
		}
		switch rec.Tag {
		case tagTemp:
			t := temperature(u, r.I16())
			s.Temperature = &t
		case tagPressure:
			s.Pressures = append(s.Pressures, parser.TankPressure{
				Gas:      int(r.U8()),
				Pressure: parser.Pressure(r.U16()) * 100 * parser.Millibar,
			})
		case tagEvent:
			s.Events = append(s.Events, parser.Event{Kind: events[r.U8()], Value: int(r.U8())})
		}
	}

	p.Finish(d)
	return d, nil
}

func depth(u registry.Units, raw uint16) parser.Depth {
	return parser.Depth(u.Depth.Apply(int64(raw)))
}

func temperature(u registry.Units, raw int16) parser.Temperature {
	return parser.Temperature{Milli: u.Temperature.Apply(int64(raw)), Unit: u.TempUnit}
}

func atDive(err error, n int) error {
	var perr *parser.Error
	if errors.As(err, &perr) {
		perr.Dive = n
	}
	return err
}
