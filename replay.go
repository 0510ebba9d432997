package dive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"go.tigermatt.uk/dive/transport"
)

// ErrReplayDiverged means the host wrote something other than what the
// recording holds at that point.
var ErrReplayDiverged = errors.New("replay diverged from recording")

// Replayer plays a recorded session back as the device end of a link.
// Reads return the recorded device bytes in order; each write must match
// the next recorded host write. A Replayer is also the transport.Opener
// for its own session, so a protocol that reopens the link keeps its place.
type Replayer struct {
	msgs    []Message
	pos     int
	pending []byte
	closed  bool
}

// NewReplayer loads a recording written by Recorder.
func NewReplayer(r io.Reader) (*Replayer, error) {
	ch := make(chan Message, 100)
	var msgs []Message

	var g errgroup.Group
	g.Go(func() error { return ReadIn(ch, r) })
	g.Go(func() error {
		for msg := range ch {
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading recording: %w", err)
	}

	return &Replayer{msgs: msgs}, nil
}

// Messages returns the recording.
func (r *Replayer) Messages() []Message { return r.msgs }

// Done reports whether the whole recording was played.
func (r *Replayer) Done() bool { return r.pos == len(r.msgs) && len(r.pending) == 0 }

func (r *Replayer) Open(string, transport.Params) (transport.Conn, error) {
	r.closed = false
	return r, nil
}

func (r *Replayer) Write(p []byte) (int, error) {
	if r.closed {
		return 0, &transport.Error{Op: "write", Addr: "replay", Err: transport.ErrDisconnected}
	}
	// Bytes the host never read before writing were flushed.
	r.pending = nil
	for r.pos < len(r.msgs) && r.msgs[r.pos].Dir == Rx {
		r.pos++
	}
	if r.pos == len(r.msgs) {
		return 0, &transport.Error{Op: "write", Addr: "replay", Err: transport.ErrDisconnected, Cause: io.EOF}
	}

	want := r.msgs[r.pos].Data
	if !bytes.Equal(want, p) {
		return 0, fmt.Errorf("%w at message %d: wrote % X, recorded % X", ErrReplayDiverged, r.pos, p, want)
	}
	r.pos++
	return len(p), nil
}

func (r *Replayer) Read(p []byte, _ time.Duration) (int, error) {
	if r.closed {
		return 0, &transport.Error{Op: "read", Addr: "replay", Err: transport.ErrDisconnected}
	}
	if len(r.pending) == 0 {
		if r.pos == len(r.msgs) || r.msgs[r.pos].Dir != Rx {
			return 0, &transport.Error{Op: "read", Addr: "replay", Err: transport.ErrTimeout}
		}
		r.pending = r.msgs[r.pos].Data
		r.pos++
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *Replayer) Flush() error { return nil }

func (r *Replayer) Close() error {
	r.closed = true
	return nil
}
