// Package registry maps identification responses to device descriptors.
//
// A Registry is built once, validated, and read-only afterwards, so it can
// be shared between goroutines without locking.
package registry

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoMatch   = errors.New("no descriptor matches")
	ErrAmbiguous = errors.New("several descriptors match equally")
	ErrUnknown   = errors.New("unknown descriptor")
)

// MatchError lists the descriptors involved in a failed identification.
type MatchError struct {
	Err        error
	Response   []byte
	Candidates []string
}

func (e *MatchError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("identify % X: %s", e.Response, e.Err)
	}
	return fmt.Sprintf("identify % X: %s: %s", e.Response, e.Err, strings.Join(e.Candidates, ", "))
}

func (e *MatchError) Unwrap() error { return e.Err }

// Registry is an immutable descriptor table.
type Registry struct {
	descs []Descriptor
	byID  map[string]int
}

// New validates descs and builds a registry. Later descriptors replace
// earlier ones with the same ID, which lets a user table override the
// built-in one.
func New(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[string]int, len(descs))}
	for _, d := range descs {
		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		d = d.clone()
		if i, ok := r.byID[d.ID()]; ok {
			r.descs[i] = d
			continue
		}
		r.byID[d.ID()] = len(r.descs)
		r.descs = append(r.descs, d)
	}
	return r, nil
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.descs))
	for i, d := range r.descs {
		out[i] = d.clone()
	}
	return out
}

// Lookup finds a descriptor by ID.
func (r *Registry) Lookup(id string) (Descriptor, error) {
	i, ok := r.byID[strings.ToLower(id)]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w %q", ErrUnknown, id)
	}
	return r.descs[i].clone(), nil
}

// Identify selects the descriptor for an identification response. Exact
// model IDs are tried first, then protocol signatures; in both passes the
// longest match wins. Two equally long matches are a defect in the table
// and are reported as ErrAmbiguous.
func (r *Registry) Identify(resp []byte) (Descriptor, error) {
	for _, key := range []func(Descriptor) []byte{
		func(d Descriptor) []byte { return d.ModelID },
		func(d Descriptor) []byte { return d.Signature },
	} {
		d, err := r.longestPrefix(resp, key)
		if err == nil || errors.Is(err, ErrAmbiguous) {
			return d, err
		}
	}
	return Descriptor{}, &MatchError{Err: ErrNoMatch, Response: resp}
}

func (r *Registry) longestPrefix(resp []byte, key func(Descriptor) []byte) (Descriptor, error) {
	best := -1
	var tied []string
	for i, d := range r.descs {
		k := key(d)
		if len(k) == 0 || !bytes.HasPrefix(resp, k) {
			continue
		}
		switch {
		case best < 0 || len(k) > len(key(r.descs[best])):
			best = i
			tied = []string{d.ID()}
		case len(k) == len(key(r.descs[best])):
			tied = append(tied, d.ID())
		}
	}

	if best < 0 {
		return Descriptor{}, ErrNoMatch
	}
	if len(tied) > 1 {
		return Descriptor{}, &MatchError{Err: ErrAmbiguous, Response: resp, Candidates: tied}
	}
	return r.descs[best].clone(), nil
}
