// Package stream implements the push protocol family: after a dump command
// the device sends one packet per dive, newest first, and waits for an ACK
// before sending the next. A NAK asks for the last packet again.
//
// Requests and responses are single framed packets whose first byte is the
// command:
//
//	HELLO 0x01            -> 0x01 "SD" model[2] serial[4 LE]
//	DUMP  0x02            -> 0x02 seq dive...   (repeated per ACK)
//	ACK   0x06            -> next dive, or 0x03 count[2 LE] when done
//	NAK   0x15            -> last packet again
//
// The raw dump is the dives as received, each prefixed with its length as
// a little-endian uint16.
package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"go.tigermatt.uk/dive/codec"
	"go.tigermatt.uk/dive/protocol"
)

const (
	cmdHello = 0x01
	cmdDump  = 0x02
	cmdEnd   = 0x03
	cmdACK   = 0x06
	cmdNAK   = 0x15

	identLen = 8
)

// Protocol is the stream family's protocol.Variant.
type Protocol struct{}

func (Protocol) Handshake(ctx context.Context, c *protocol.Connection) (protocol.Identity, error) {
	pkt, err := c.Exchange(ctx, protocol.Request{
		Payload:  []byte{cmdHello},
		Attempts: 1,
		Accept: func(p codec.Packet) error {
			if len(p.Payload) != 1+identLen || p.Payload[0] != cmdHello {
				return fmt.Errorf("%w: % X to HELLO", protocol.ErrUnexpectedResponse, p.Payload)
			}
			return nil
		},
	})
	if err != nil {
		return protocol.Identity{}, err
	}

	id := pkt.Payload[1:]
	return protocol.Identity{Raw: id, Serial: binary.LittleEndian.Uint32(id[4:8])}, nil
}

func (Protocol) Transfer(ctx context.Context, c *protocol.Connection) ([]byte, error) {
	log := c.Logger()

	var (
		data []byte
		n    int
		req  = []byte{cmdDump}
	)
	for {
		pkt, err := c.Exchange(ctx, protocol.Request{
			Payload: req,
			Next:    retry(n),
			Accept:  accept(byte(n)),
		})
		if err != nil {
			return nil, err
		}

		if pkt.Payload[0] == cmdEnd {
			want := int(binary.LittleEndian.Uint16(pkt.Payload[1:3]))
			if want != n {
				return nil, fmt.Errorf("device announced %d dives, sent %d", want, n)
			}
			log.Debug("end of dump", "dives", want)
			return data, nil
		}

		dive := pkt.Payload[2:]
		data = binary.LittleEndian.AppendUint16(data, uint16(len(dive)))
		data = append(data, dive...)
		c.Advance(len(dive))
		log.Debug("dive received", "seq", n, "bytes", len(dive))

		n++
		req = []byte{cmdACK}
	}
}

// errStale is the previous dive coming back for a NAK: the device never
// saw the ACK for it.
var errStale = fmt.Errorf("%w: previous dive resent", protocol.ErrUnexpectedResponse)

// retry picks what to send after a failed attempt at dive n. Before the
// first dive the device has nothing to resend, so the dump is asked for
// again.
func retry(n int) func(error) []byte {
	return func(err error) []byte {
		switch {
		case errors.Is(err, errStale):
			return []byte{cmdACK}
		case n == 0:
			return []byte{cmdDump}
		}
		return []byte{cmdNAK}
	}
}

func accept(seq byte) func(codec.Packet) error {
	return func(p codec.Packet) error {
		switch {
		case len(p.Payload) == 3 && p.Payload[0] == cmdEnd:
			return nil
		case len(p.Payload) >= 2 && p.Payload[0] == cmdDump && p.Payload[1] == seq:
			return nil
		case len(p.Payload) >= 2 && p.Payload[0] == cmdDump && p.Payload[1] == seq-1 && seq > 0:
			return errStale
		}
		return fmt.Errorf("%w: want dive %d, got % X", protocol.ErrUnexpectedResponse, seq, p.Payload[:min(len(p.Payload), 4)])
	}
}
