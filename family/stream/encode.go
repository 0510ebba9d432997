package stream

import (
	"encoding/binary"
	"fmt"
	"math"

	"go.tigermatt.uk/dive/parser"
)

// Encode lays d out the way a stream device stores it, quantising depths
// to scale. It is the inverse of Decode for dives that fit the format.
func Encode(d *parser.Dive, scale parser.Depth) ([]byte, error) {
	if scale <= 0 || scale > math.MaxUint16 {
		return nil, fmt.Errorf("stream: depth scale %d µm out of range", scale)
	}
	if len(d.Gases) > maxGases {
		return nil, fmt.Errorf("stream: %d gases, at most %d fit", len(d.Gases), maxGases)
	}

	var flags byte
	for _, s := range d.Samples {
		if s.Temperature != nil && s.Temperature.Unit == parser.Fahrenheit {
			flags |= flagFahrenheit
		}
	}

	b := make([]byte, 0, headerLen+len(d.Samples)*8)
	b = binary.BigEndian.AppendUint32(b, uint32(d.Start.Unix()))
	b = binary.BigEndian.AppendUint16(b, uint16(d.Number))
	b = binary.BigEndian.AppendUint16(b, uint16(scale))
	b = append(b, byte(len(d.Gases)))
	for i := range maxGases {
		var g parser.GasMix
		if i < len(d.Gases) {
			g = d.Gases[i]
		}
		b = append(b, byte(g.Oxygen), byte(g.Helium))
	}
	b = append(b, flags)
	b = binary.BigEndian.AppendUint16(b, uint16(len(d.Samples)))

	for _, s := range d.Samples {
		secs := int64(s.Time.Seconds())
		raw := int64(s.Depth / scale)
		if secs > math.MaxUint16 || raw > math.MaxUint16 {
			return nil, fmt.Errorf("stream: sample at %s, %s does not fit", s.Time, s.Depth)
		}
		b = append(b, tagTime)
		b = binary.BigEndian.AppendUint16(b, uint16(secs))
		b = binary.BigEndian.AppendUint16(b, uint16(raw))

		if t := s.Temperature; t != nil {
			b = append(b, tagTemp)
			b = binary.BigEndian.AppendUint16(b, uint16(int16(t.Milli/100)))
		}
		for _, tp := range s.Pressures {
			b = append(b, tagPressure, byte(tp.Gas))
			b = binary.BigEndian.AppendUint16(b, uint16(tp.Pressure/(100*parser.Millibar)))
		}
		for _, e := range s.Events {
			b = append(b, tagEvent, eventCode(e.Kind), byte(e.Value))
		}
	}
	return b, nil
}

func eventCode(k parser.EventKind) byte {
	for code, kind := range events {
		if kind == k {
			return code
		}
	}
	return 0
}
