package parser

import "time"

// Grammar describes a tagged sample stream: each record is a tag byte
// followed by a payload whose size the tag determines.
type Grammar struct {
	// Fixed maps known tags to their payload size.
	Fixed map[byte]int
	// Extension reports whether an unknown tag is followed by a one byte
	// payload length, which lets the decoder skip it.
	Extension func(tag byte) bool
}

// Record is one entry of a sample stream.
type Record struct {
	Tag     byte
	Payload []byte
	Offset  int
	// Skipped is set for extension records the grammar does not know.
	Skipped bool
}

// Next reads the record at the cursor. A payload running past the end of
// the stream is ErrInvalidSampleLength; an unknown tag without a length is
// ErrUnknownRecordTag, since skipping it would lose the record boundary.
func (g Grammar) Next(c *Cursor) (Record, error) {
	rec := Record{Offset: c.Offset()}
	rec.Tag = c.U8()
	if !c.OK() {
		return rec, &Error{Err: ErrInvalidSampleLength, Offset: rec.Offset}
	}

	size, ok := g.Fixed[rec.Tag]
	if !ok {
		if g.Extension == nil || !g.Extension(rec.Tag) {
			return rec, &Error{Err: ErrUnknownRecordTag, Offset: rec.Offset, Tag: rec.Tag}
		}
		size = int(c.U8())
		rec.Skipped = true
	}

	rec.Payload = c.Bytes(size)
	if !c.OK() {
		return rec, &Error{Err: ErrInvalidSampleLength, Offset: rec.Offset, Tag: rec.Tag}
	}
	return rec, nil
}

// Profile accumulates samples and rejects time going backwards.
type Profile struct {
	samples []Sample
}

// Begin starts a new sample at elapsed time t.
func (p *Profile) Begin(t time.Duration, offset int) (*Sample, error) {
	if n := len(p.samples); n > 0 && t < p.samples[n-1].Time {
		return nil, &Error{Err: ErrTimeNonMonotonic, Offset: offset}
	}
	p.samples = append(p.samples, Sample{Time: t})
	return &p.samples[len(p.samples)-1], nil
}

// Current is the sample most recently begun, or nil.
func (p *Profile) Current() *Sample {
	if len(p.samples) == 0 {
		return nil
	}
	return &p.samples[len(p.samples)-1]
}

// Last is the elapsed time of the latest sample.
func (p *Profile) Last() time.Duration {
	if s := p.Current(); s != nil {
		return s.Time
	}
	return 0
}

// Finish stores the samples in d and fills in any summary fields the
// header left empty.
func (p *Profile) Finish(d *Dive) {
	d.Samples = p.samples
	if d.Duration == 0 {
		d.Duration = p.Last()
	}

	var maxDepth Depth
	var lo, hi *Temperature
	for i := range p.samples {
		s := &p.samples[i]
		if s.Depth > maxDepth {
			maxDepth = s.Depth
		}
		if s.Temperature == nil {
			continue
		}
		if lo == nil || s.Temperature.Milli < lo.Milli {
			lo = s.Temperature
		}
		if hi == nil || s.Temperature.Milli > hi.Milli {
			hi = s.Temperature
		}
	}

	if d.MaxDepth == 0 {
		d.MaxDepth = maxDepth
	}
	if d.MinTemperature == nil && d.MaxTemperature == nil && lo != nil {
		l, h := *lo, *hi
		d.MinTemperature, d.MaxTemperature = &l, &h
	}
}
