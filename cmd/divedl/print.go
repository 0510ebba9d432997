package main

import (
	"fmt"
	"io"
	"iter"

	"go.tigermatt.uk/dive/parser"
)

func printDives(w io.Writer, dives iter.Seq2[*parser.Dive, error], samples bool) error {
	for d, err := range dives {
		if err != nil {
			return err
		}
		printDive(w, d, samples)
	}
	return nil
}

func printDive(w io.Writer, d *parser.Dive, samples bool) {
	fmt.Fprintf(w, "#%-4d %s  %6s  max %-8s", d.Number, d.Start.Format("2006-01-02 15:04"), d.Duration, d.MaxDepth)
	if d.MinTemperature != nil {
		fmt.Fprintf(w, "  min %s", d.MinTemperature)
	}
	for _, g := range d.Gases {
		fmt.Fprintf(w, "  %d/%d", g.Oxygen, g.Helium)
	}
	if d.Skipped > 0 {
		fmt.Fprintf(w, "  (%d records skipped)", d.Skipped)
	}
	fmt.Fprintln(w)

	if !samples {
		return
	}
	for _, s := range d.Samples {
		fmt.Fprintf(w, "  %8s %10s", s.Time, s.Depth)
		if s.Temperature != nil {
			fmt.Fprintf(w, " %s", s.Temperature)
		}
		for _, p := range s.Pressures {
			fmt.Fprintf(w, " tank%d=%s", p.Gas, p.Pressure)
		}
		for _, e := range s.Events {
			fmt.Fprintf(w, " [%s %d]", e.Kind, e.Value)
		}
		fmt.Fprintln(w)
	}
}
