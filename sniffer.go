package dive

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.bug.st/serial"

	"go.tigermatt.uk/dive/codec"
)

// Sniffer listens passively on a serial line, for example a tap on the
// link between vendor software and a dive computer.
type Sniffer struct {
	Port serial.Port
	// OnReceive gets the bytes of each read in a slice it may keep.
	OnReceive func([]byte)

	// Codec, if set, reassembles frames from the received bytes and hands
	// them to OnPacket. Damaged frames go to OnError.
	Codec    *codec.Codec
	OnPacket func(codec.Packet)
	OnError  func(error)

	window []byte
}

func (s *Sniffer) Consume(ctx context.Context) error {
	bs := make([]byte, 256)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := s.Port.Read(bs)
		if err != nil {
			return fmt.Errorf("reading from serial port: %w", err)
		}

		if n > 0 {
			if s.OnReceive != nil {
				s.OnReceive(bytes.Clone(bs[:n]))
			}
			if s.Codec != nil {
				s.feed(bs[:n])
			}
		}
	}
}

func (s *Sniffer) feed(bs []byte) {
	s.window = append(s.window, bs...)

	for len(s.window) > 0 {
		pkt, n, err := s.Codec.Unframe(s.window)
		switch {
		case err == nil:
			if s.OnPacket != nil {
				s.OnPacket(pkt)
			}
		case errors.Is(err, codec.ErrTruncated):
			return
		case n == 0:
			n = s.Codec.Resync(s.window)
		default:
			if s.OnError != nil {
				s.OnError(err)
			}
		}
		s.window = s.window[n:]
	}
}
