package stream

import (
	"encoding/binary"
	"errors"
	"iter"
	"time"

	"go.tigermatt.uk/dive/parser"
)

// Dive layout, big-endian:
//
//	start[4] unix seconds | number[2] | depth scale[2] µm per unit |
//	gas count[1] | gases[3][O2, He] | flags[1] | sample count[2]
//
// followed by tagged sample records up to the end of the dive.
const (
	headerLen = 18
	maxGases  = 3

	flagFahrenheit = 0x01

	tagTime     = 0x10 // seconds[2] depth[2], starts a sample
	tagTemp     = 0x11 // tenths of a degree[2], signed
	tagPressure = 0x12 // gas[1] pressure[2] in 100 mbar
	tagEvent    = 0x13 // kind[1] value[1]
)

var grammar = parser.Grammar{
	Fixed: map[byte]int{
		tagTime:     4,
		tagTemp:     2,
		tagPressure: 3,
		tagEvent:    2,
	},
	Extension: func(tag byte) bool { return tag >= 0x80 },
}

var events = map[byte]parser.EventKind{
	1: parser.EventGasSwitch,
	2: parser.EventAscent,
	3: parser.EventDeco,
	4: parser.EventBookmark,
}

// Index lists the dives of a raw dump without decoding their samples.
func Index(data []byte) ([]parser.Entry, error) {
	var idx []parser.Entry
	c := parser.NewCursor(data, 0, binary.LittleEndian)
	for c.Len() > 0 {
		off := c.Offset()
		n := int(c.U16())
		body := c.Bytes(n)
		if !c.OK() || n < headerLen {
			return idx, &parser.Error{Err: parser.ErrTruncatedHeader, Offset: off}
		}

		h := parser.NewCursor(body, off+2, binary.BigEndian)
		idx = append(idx, parser.Entry{
			Start:  time.Unix(int64(h.U32()), 0).UTC(),
			Number: int(h.U16()),
			Offset: off + 2,
			Length: n,
		})
	}
	return idx, nil
}

// Parse decodes a raw dump lazily, oldest dive first.
func Parse(data []byte) iter.Seq2[*parser.Dive, error] {
	idx, err := Index(data)
	if err != nil {
		return parser.Fail(err)
	}
	return parser.Chronological(idx, func(e parser.Entry) (*parser.Dive, error) {
		return Decode(data[e.Offset:e.Offset+e.Length], e.Offset)
	})
}

// Decode decodes one dive. base is its offset in the raw dump, used in
// error positions.
func Decode(b []byte, base int) (*parser.Dive, error) {
	c := parser.NewCursor(b, base, binary.BigEndian)

	d := &parser.Dive{Start: time.Unix(int64(c.U32()), 0).UTC()}
	d.Number = int(c.U16())
	scale := parser.Depth(c.U16()) * parser.Micrometre
	ngas := int(c.U8())
	var gases [maxGases]parser.GasMix
	for i := range gases {
		gases[i] = parser.GasMix{Oxygen: int(c.U8()), Helium: int(c.U8())}
	}
	flags := c.U8()
	count := int(c.U16())
	if !c.OK() {
		return nil, &parser.Error{Err: parser.ErrTruncatedHeader, Dive: d.Number, Offset: base}
	}
	d.Gases = append([]parser.GasMix(nil), gases[:min(ngas, maxGases)]...)

	unit := parser.Celsius
	if flags&flagFahrenheit != 0 {
		unit = parser.Fahrenheit
	}

	var p parser.Profile
	samples := 0
	for c.Len() > 0 {
		rec, err := grammar.Next(c)
		if err != nil {
			return nil, atDive(err, d.Number)
		}
		if rec.Skipped {
			d.Skipped++
			continue
		}

		r := parser.NewCursor(rec.Payload, rec.Offset+1, binary.BigEndian)
		if rec.Tag == tagTime {
			s, err := p.Begin(time.Duration(r.U16())*time.Second, rec.Offset)
			if err != nil {
				return nil, atDive(err, d.Number)
			}
			s.Depth = parser.Depth(r.U16()) * scale
			samples++
			continue
		}

		s := p.Current()
		if s == nil {
			s, _ = p.Begin(0, rec.Offset)
		}
		switch rec.Tag {
		case tagTemp:
			s.Temperature = &parser.Temperature{Milli: int64(r.I16()) * 100, Unit: unit}
		case tagPressure:
			s.Pressures = append(s.Pressures, parser.TankPressure{
				Gas:      int(r.U8()),
				Pressure: parser.Pressure(r.U16()) * 100 * parser.Millibar,
			})
		case tagEvent:
			s.Events = append(s.Events, parser.Event{Kind: events[r.U8()], Value: int(r.U8())})
		}
	}

	if samples != count {
		return nil, &parser.Error{Err: parser.ErrInvalidSampleLength, Dive: d.Number, Offset: base + len(b)}
	}

	p.Finish(d)
	return d, nil
}

func atDive(err error, n int) error {
	var perr *parser.Error
	if errors.As(err, &perr) {
		perr.Dive = n
	}
	return err
}
