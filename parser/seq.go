// Package parser holds the normalized dive model shared by every device
// family and the building blocks their decoders use: a bounds-checked
// Cursor, a tagged sample Grammar and the chronological dive sequence.
package parser

import (
	"iter"
	"slices"
	"time"
)

// Entry locates one dive inside a raw dump, found by a cheap header scan
// before any samples are decoded.
type Entry struct {
	Number int
	Start  time.Time
	Offset int
	Length int
}

// Chronological yields the dives listed in index oldest first, decoding
// each one only when the consumer asks for it. Devices store their logs in
// their own order, usually newest first. The sequence stops at the first
// decode error, which is yielded with a nil dive; dives yielded before it
// stay valid.
func Chronological(index []Entry, decode func(Entry) (*Dive, error)) iter.Seq2[*Dive, error] {
	order := slices.Clone(index)
	slices.SortStableFunc(order, func(a, b Entry) int {
		return a.Start.Compare(b.Start)
	})

	return func(yield func(*Dive, error) bool) {
		for _, e := range order {
			d, err := decode(e)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

// Fail is a sequence yielding only err.
func Fail(err error) iter.Seq2[*Dive, error] {
	return func(yield func(*Dive, error) bool) {
		yield(nil, err)
	}
}

// Collect drains seq. On error it returns the dives decoded before the
// failure together with the error.
func Collect(seq iter.Seq2[*Dive, error]) ([]*Dive, error) {
	var dives []*Dive
	for d, err := range seq {
		if err != nil {
			return dives, err
		}
		dives = append(dives, d)
	}
	return dives, nil
}
