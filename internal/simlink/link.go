// Package simlink is the host side of an emulated dive computer: a
// transport.Conn that unframes what the host writes, hands each request to
// a device Handler and queues the framed responses, with fault injection
// for damaged and lost responses.
package simlink

import (
	"errors"
	"sync"
	"time"

	"go.tigermatt.uk/dive/codec"
	"go.tigermatt.uk/dive/transport"
)

// Handler is the device logic. It returns the response payload to a
// request, or nil to stay silent.
type Handler interface {
	Handle(req []byte) []byte
}

type HandlerFunc func(req []byte) []byte

func (f HandlerFunc) Handle(req []byte) []byte { return f(req) }

// Link is an in-memory device link. It is also a transport.Opener that
// hands out itself, so a session can reopen it.
type Link struct {
	mu sync.Mutex

	codec   *codec.Codec
	handler Handler

	in, out []byte
	closed  bool

	opened    []transport.Params
	requests  [][]byte
	responses int

	damage map[int]bool
	drop   map[int]bool
}

func New(f codec.Framing, h Handler) (*Link, error) {
	cd, err := codec.New(f)
	if err != nil {
		return nil, err
	}
	return &Link{
		codec:   cd,
		handler: h,
		closed:  true,
		damage:  map[int]bool{},
		drop:    map[int]bool{},
	}, nil
}

// Damage flips a checksum bit of the nth response (counting from zero).
func (l *Link) Damage(n ...int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, i := range n {
		l.damage[i] = true
	}
}

// Drop loses the nth response.
func (l *Link) Drop(n ...int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, i := range n {
		l.drop[i] = true
	}
}

// Open resets the link. The parameters are recorded for Opened.
func (l *Link) Open(_ string, p transport.Params) (transport.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = false
	l.in, l.out = nil, nil
	l.opened = append(l.opened, p)
	return l, nil
}

// Opened lists the parameters of every Open, in order.
func (l *Link) Opened() []transport.Params {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]transport.Params(nil), l.opened...)
}

// Requests returns the payloads of all requests received so far.
func (l *Link) Requests() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.requests...)
}

func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, &transport.Error{Op: "write", Addr: "sim", Err: transport.ErrDisconnected}
	}

	l.in = append(l.in, p...)
	for len(l.in) > 0 {
		pkt, n, err := l.codec.Unframe(l.in)
		switch {
		case err == nil:
			l.in = l.in[n:]
			l.handle(pkt.Payload)
		case errors.Is(err, codec.ErrTruncated):
			return len(p), nil
		case n == 0:
			l.in = l.in[l.codec.Resync(l.in):]
		default:
			l.in = l.in[n:]
		}
	}
	return len(p), nil
}

func (l *Link) handle(req []byte) {
	l.requests = append(l.requests, req)

	resp := l.handler.Handle(req)
	if resp == nil {
		return
	}

	i := l.responses
	l.responses++
	if l.drop[i] {
		return
	}

	frame, err := l.codec.Frame(resp)
	if err != nil {
		return
	}
	if l.damage[i] {
		frame[len(frame)-1-len(l.codec.Framing().Trailer)] ^= 0x01
	}
	l.out = append(l.out, frame...)
}

// Read returns queued response bytes. The device answers synchronously
// inside Write, so an empty queue times out at once.
func (l *Link) Read(p []byte, _ time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, &transport.Error{Op: "read", Addr: "sim", Err: transport.ErrDisconnected}
	}
	if len(l.out) == 0 {
		return 0, &transport.Error{Op: "read", Addr: "sim", Err: transport.ErrTimeout}
	}
	n := copy(p, l.out)
	l.out = l.out[n:]
	return n, nil
}

func (l *Link) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = nil
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
