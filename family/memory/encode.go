package memory

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"go.tigermatt.uk/dive/parser"
	"go.tigermatt.uk/dive/registry"
)

// EncodeDive lays d out as a dive record, the inverse of Decode. Samples
// falling on the interval grid are stored as plain depth records; others
// are preceded by a time record. Summary fields left empty are computed
// from the samples.
func EncodeDive(u registry.Units, d *parser.Dive, interval time.Duration) ([]byte, error) {
	if u.Depth.Factor == 0 || u.Temperature.Factor == 0 {
		return nil, fmt.Errorf("memory: units need non-zero scale factors")
	}
	if len(d.Gases) > maxGases {
		return nil, fmt.Errorf("memory: %d gases, at most %d fit", len(d.Gases), maxGases)
	}
	if interval < time.Second || interval > 255*time.Second {
		return nil, fmt.Errorf("memory: sample interval %s out of range", interval)
	}

	var samples []byte
	var next time.Duration
	for _, s := range d.Samples {
		if s.Time != next {
			samples = append(samples, tagTime)
			samples = binary.LittleEndian.AppendUint16(samples, uint16(s.Time/time.Second))
		}
		next = s.Time + interval

		samples = append(samples, tagDepth)
		samples = binary.LittleEndian.AppendUint16(samples, uint16(unscale(u.Depth, int64(s.Depth))))
		if t := s.Temperature; t != nil {
			samples = append(samples, tagTemp)
			samples = binary.LittleEndian.AppendUint16(samples, uint16(int16(unscale(u.Temperature, t.Milli))))
		}
		for _, tp := range s.Pressures {
			samples = append(samples, tagPressure, byte(tp.Gas))
			samples = binary.LittleEndian.AppendUint16(samples, uint16(tp.Pressure/(100*parser.Millibar)))
		}
		for _, e := range s.Events {
			samples = append(samples, tagEvent, eventCode(e.Kind), byte(e.Value))
		}
	}
	if len(samples) > math.MaxUint16 {
		return nil, fmt.Errorf("memory: dive %d has %d sample bytes", d.Number, len(samples))
	}

	duration, maxDepth, lo, hi := summary(d)

	b := make([]byte, 0, headerLen+len(samples))
	b = binary.LittleEndian.AppendUint16(b, uint16(d.Number))
	b = binary.LittleEndian.AppendUint32(b, uint32(d.Start.Sub(epoch)/time.Second))
	b = binary.LittleEndian.AppendUint16(b, uint16(duration/time.Second))
	b = binary.LittleEndian.AppendUint16(b, uint16(unscale(u.Depth, int64(maxDepth))))
	b = binary.LittleEndian.AppendUint16(b, uint16(int16(unscale(u.Temperature, lo))))
	b = binary.LittleEndian.AppendUint16(b, uint16(int16(unscale(u.Temperature, hi))))
	b = append(b, byte(interval/time.Second), byte(len(d.Gases)))
	for i := range maxGases {
		var g parser.GasMix
		if i < len(d.Gases) {
			g = d.Gases[i]
		}
		b = append(b, byte(g.Oxygen), byte(g.Helium))
	}
	b = binary.LittleEndian.AppendUint16(b, uint16(len(samples)))
	b = append(b, make([]byte, 8)...)

	return append(b, samples...), nil
}

func summary(d *parser.Dive) (time.Duration, parser.Depth, int64, int64) {
	duration, maxDepth := d.Duration, d.MaxDepth
	var lo, hi int64
	if d.MinTemperature != nil && d.MaxTemperature != nil {
		lo, hi = d.MinTemperature.Milli, d.MaxTemperature.Milli
	} else {
		lo, hi = math.MaxInt64, math.MinInt64
		for _, s := range d.Samples {
			if s.Temperature != nil {
				lo, hi = min(lo, s.Temperature.Milli), max(hi, s.Temperature.Milli)
			}
		}
		if lo > hi {
			lo, hi = 0, 0
		}
	}
	for _, s := range d.Samples {
		if d.Duration == 0 {
			duration = max(duration, s.Time)
		}
		if d.MaxDepth == 0 {
			maxDepth = max(maxDepth, s.Depth)
		}
	}
	return duration, maxDepth, lo, hi
}

func unscale(s parser.Scale, v int64) int64 {
	return (v - s.Offset) / s.Factor
}

func eventCode(k parser.EventKind) byte {
	for code, kind := range events {
		if kind == k {
			return code
		}
	}
	return 0
}

// Image lays dives out in a memory of size bytes, in the order given,
// which devices keep newest first. Unused memory reads as 0xFF.
func Image(size int, dives ...[]byte) ([]byte, error) {
	end := configLen
	for _, d := range dives {
		end += len(d)
	}
	if end+headerLen > size {
		return nil, fmt.Errorf("memory: %d bytes of dives do not fit in %d", end-configLen, size)
	}

	img := make([]byte, size)
	for i := range img {
		img[i] = 0xFF
	}
	clear(img[:configLen])
	binary.LittleEndian.PutUint16(img[0:], uint16(len(dives)))
	binary.LittleEndian.PutUint32(img[2:], uint32(end+2))

	off := configLen
	for _, d := range dives {
		off += copy(img[off:], d)
	}
	binary.LittleEndian.PutUint16(img[off:], endMarker)
	return img, nil
}
