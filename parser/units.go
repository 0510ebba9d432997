package parser

import (
	"fmt"
	"strconv"
)

// Depth is a linear distance below the surface in micrometres. Every raw
// depth unit in use (centimetres, 1/64 m, 1/100 ft) is a whole number of
// micrometres, so conversion is exact.
type Depth int64

const (
	Micrometre Depth = 1
	Millimetre       = 1000 * Micrometre
	Centimetre       = 10 * Millimetre
	Metre            = 1000 * Millimetre
	Foot             = 304800 * Micrometre
)

func (d Depth) Metres() float64 { return float64(d) / float64(Metre) }

func (d Depth) String() string {
	return strconv.FormatFloat(d.Metres(), 'f', -1, 64) + " m"
}

// TempUnit is the unit a device reports temperatures in.
type TempUnit int

const (
	Celsius TempUnit = iota
	Fahrenheit
)

func (u TempUnit) String() string {
	if u == Fahrenheit {
		return "°F"
	}
	return "°C"
}

// Temperature is in thousandths of a degree of Unit. It is kept in the
// device's own unit so no lossy conversion happens.
type Temperature struct {
	Milli int64
	Unit  TempUnit
}

func (t Temperature) Degrees() float64 { return float64(t.Milli) / 1000 }

func (t Temperature) String() string {
	return strconv.FormatFloat(t.Degrees(), 'f', -1, 64) + " " + t.Unit.String()
}

// Pressure is in millibar.
type Pressure int64

const (
	Millibar Pressure = 1
	Bar               = 1000 * Millibar
)

func (p Pressure) Bar() float64 { return float64(p) / float64(Bar) }

func (p Pressure) String() string {
	return strconv.FormatFloat(p.Bar(), 'f', -1, 64) + " bar"
}

// Scale converts a raw fixed-point integer to its unit: raw*Factor + Offset.
type Scale struct {
	Factor int64
	Offset int64
}

// Apply returns the scaled value.
func (s Scale) Apply(raw int64) int64 { return raw*s.Factor + s.Offset }

func (s Scale) String() string {
	return fmt.Sprintf("x%d%+d", s.Factor, s.Offset)
}
