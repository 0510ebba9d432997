// Package memory implements the block-read protocol family: the host
// identifies the device, optionally switches to a faster baud rate, then
// reads the log memory block by block until the end-of-log pointer.
//
//	IDENT 0x10                       -> 0x10 ident[16]
//	BAUD  0x11 code                  -> 0x11 code, then both sides reopen
//	READ  0x20 addr[4 LE] len[1]     -> 0x20 addr[4 LE] data[len]
//
// The identity block is
//
//	"MX" model[2] serial[4 LE] memory size[4 LE] block size[1] fw[2] 0
//
// The raw dump is the memory image from address zero to the end of the log.
package memory

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"go.tigermatt.uk/dive/codec"
	"go.tigermatt.uk/dive/protocol"
)

const (
	cmdIdent = 0x10
	cmdBaud  = 0x11
	cmdRead  = 0x20

	identLen   = 16
	readHeader = 5 // cmd + address
)

var baudCodes = map[int]byte{
	19200:  0x01,
	38400:  0x02,
	57600:  0x03,
	115200: 0x04,
}

var errBadLayout = errors.New("memory layout invalid")

type ident struct {
	serial    uint32
	memSize   int
	blockSize int
	firmware  string
}

func parseIdent(b []byte) ident {
	return ident{
		serial:    binary.LittleEndian.Uint32(b[4:8]),
		memSize:   int(binary.LittleEndian.Uint32(b[8:12])),
		blockSize: int(b[12]),
		firmware:  fmt.Sprintf("%d.%02d", b[13], b[14]),
	}
}

// Protocol is the memory family's protocol.Variant.
type Protocol struct{}

func (Protocol) Handshake(ctx context.Context, c *protocol.Connection) (protocol.Identity, error) {
	pkt, err := c.Exchange(ctx, protocol.Request{
		Payload:  []byte{cmdIdent},
		Attempts: 1,
		Accept: func(p codec.Packet) error {
			if len(p.Payload) != 1+identLen || p.Payload[0] != cmdIdent {
				return fmt.Errorf("%w: % X to IDENT", protocol.ErrUnexpectedResponse, p.Payload)
			}
			return nil
		},
	})
	if err != nil {
		return protocol.Identity{}, err
	}

	raw := pkt.Payload[1:]
	id := parseIdent(raw)
	return protocol.Identity{Raw: raw, Serial: id.serial, Firmware: id.firmware}, nil
}

// Negotiate switches to the descriptor's fast baud rate, if it has one.
func (Protocol) Negotiate(ctx context.Context, c *protocol.Connection) error {
	p := c.Params()
	if p.FastBaudRate == 0 || p.FastBaudRate == p.BaudRate {
		return nil
	}
	code, ok := baudCodes[p.FastBaudRate]
	if !ok {
		return fmt.Errorf("no baud code for %d", p.FastBaudRate)
	}

	req := []byte{cmdBaud, code}
	_, err := c.Exchange(ctx, protocol.Request{
		Payload: req,
		Accept: func(pkt codec.Packet) error {
			if !bytes.Equal(pkt.Payload, req) {
				return fmt.Errorf("%w: % X to BAUD", protocol.ErrUnexpectedResponse, pkt.Payload)
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	return c.Reopen(p.WithBaudRate(p.FastBaudRate))
}

func (Protocol) Transfer(ctx context.Context, c *protocol.Connection) ([]byte, error) {
	id := parseIdent(c.Identity.Raw)
	block := min(id.blockSize, c.Codec().Framing().MaxPayload-readHeader)
	if block <= 0 {
		return nil, fmt.Errorf("%w: block size %d", errBadLayout, id.blockSize)
	}
	c.PacketSize = block

	image, err := read(ctx, c, nil, 0, configLen)
	if err != nil {
		return nil, err
	}

	end := int(binary.LittleEndian.Uint32(image[2:6]))
	if end < configLen || end > id.memSize {
		return nil, fmt.Errorf("%w: log ends at 0x%X of 0x%X", errBadLayout, end, id.memSize)
	}
	c.SetTotal(end)
	c.Logger().Debug("log layout", "dives", binary.LittleEndian.Uint16(image[0:2]), "end", end, "block", block)

	return read(ctx, c, image, configLen, end)
}

// read appends memory [from, to) to image.
func read(ctx context.Context, c *protocol.Connection, image []byte, from, to int) ([]byte, error) {
	for addr := from; addr < to; {
		n := min(c.PacketSize, to-addr)

		req := binary.LittleEndian.AppendUint32([]byte{cmdRead}, uint32(addr))
		pkt, err := c.Exchange(ctx, protocol.Request{
			Payload: append(req, byte(n)),
			Accept: func(p codec.Packet) error {
				if len(p.Payload) != readHeader+n || !bytes.Equal(p.Payload[:readHeader], req) {
					return fmt.Errorf("%w: want %d bytes at 0x%X", protocol.ErrUnexpectedResponse, n, addr)
				}
				return nil
			},
		})
		if err != nil {
			return nil, err
		}

		image = append(image, pkt.Payload[readHeader:]...)
		c.Advance(n)
		addr += n
	}
	return image, nil
}
