package dive

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.tigermatt.uk/dive/transport"
)

// Direction tells which end of the link sent a message.
type Direction byte

const (
	// Tx is host to device.
	Tx Direction = 'T'
	// Rx is device to host.
	Rx Direction = 'R'
)

func (d Direction) String() string {
	if d == Tx {
		return ">"
	}
	return "<"
}

// Message is one chunk of bytes seen on the link.
type Message struct {
	Dir       Direction
	Data      []byte
	Timestamp time.Time
}

// Recorder writes messages to Dest as a gob stream.
type Recorder struct {
	Dest io.Writer

	mu   sync.Mutex
	enc  *gob.Encoder
	once sync.Once
	err  error
}

func (r *Recorder) Receive(msg Message) error {
	r.init()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(msg); err != nil {
		if r.err == nil {
			r.err = err
		}
		return err
	}
	return nil
}

// Err is the first error encountered while recording.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) init() {
	r.once.Do(func() {
		r.enc = gob.NewEncoder(r.Dest)
	})
}

// Tap returns a Conn that records every byte crossing c. A failure to
// record does not fail the session; see Err.
func (r *Recorder) Tap(c transport.Conn) transport.Conn {
	return &tap{Conn: c, rec: r}
}

type tap struct {
	transport.Conn
	rec *Recorder
}

func (t *tap) Read(p []byte, timeout time.Duration) (int, error) {
	n, err := t.Conn.Read(p, timeout)
	if n > 0 {
		t.rec.Receive(Message{Dir: Rx, Data: append([]byte(nil), p[:n]...), Timestamp: time.Now()})
	}
	return n, err
}

func (t *tap) Write(p []byte) (int, error) {
	n, err := t.Conn.Write(p)
	if n > 0 {
		t.rec.Receive(Message{Dir: Tx, Data: append([]byte(nil), p[:n]...), Timestamp: time.Now()})
	}
	return n, err
}

// ReadIn decodes a recording onto out, closing it at the end.
func ReadIn(out chan<- Message, r io.Reader) error {
	defer close(out)

	dec := gob.NewDecoder(r)

	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("while decoding: %w", err)
		}

		out <- msg
	}
}
