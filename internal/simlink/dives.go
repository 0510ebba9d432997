package simlink

import (
	"time"

	"go.tigermatt.uk/dive/parser"
)

// Synthetic returns n plausible square-profile dives a day apart, the
// first starting at first. Depths are whole centimetres.
func Synthetic(n int, first time.Time, unit parser.TempUnit) []*parser.Dive {
	dives := make([]*parser.Dive, 0, n)
	for i := range n {
		bottom := parser.Depth(12+3*(i%6)) * parser.Metre
		d := &parser.Dive{
			Number: i + 1,
			Start:  first.Add(time.Duration(i) * 24 * time.Hour).Truncate(time.Second),
			Gases:  []parser.GasMix{{Oxygen: 32}},
		}

		const steps = 30
		for s := range steps {
			var depth parser.Depth
			switch {
			case s < 5:
				depth = bottom * parser.Depth(s+1) / 5
			case s < steps-6:
				depth = bottom
			default:
				depth = bottom * parser.Depth(steps-1-s) / 5
			}
			depth -= depth % parser.Centimetre

			temp := int64(24000 - 400*min(s, 10))
			if unit == parser.Fahrenheit {
				temp = temp*9/5 + 32000
			}
			sample := parser.Sample{
				Time:        time.Duration(s) * 10 * time.Second,
				Depth:       max(depth, 0),
				Temperature: &parser.Temperature{Milli: temp - temp%100, Unit: unit},
			}
			if s == 0 {
				sample.Pressures = []parser.TankPressure{{Gas: 0, Pressure: 200 * parser.Bar}}
			}
			if s == steps-6 {
				sample.Events = []parser.Event{{Kind: parser.EventBookmark}}
			}
			d.Samples = append(d.Samples, sample)
		}
		dives = append(dives, d)
	}
	return dives
}
