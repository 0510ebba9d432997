// Package rawdump holds undecoded device output and its export container.
//
// A container is laid out big-endian as
//
//	magic "DIVEDUMP" | version u16 | id [16]byte | created unix ms i64 |
//	descriptor len u16 | descriptor | data len u32 | data | crc32 u32
//
// where the CRC-32 (IEEE) covers every preceding byte.
package rawdump

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	Magic   = "DIVEDUMP"
	Version = 1

	// MaxSize bounds the data a container may declare.
	MaxSize = 64 << 20
)

var (
	ErrBadMagic = errors.New("rawdump: not a dump container")
	ErrVersion  = errors.New("rawdump: unsupported container version")
	ErrCorrupt  = errors.New("rawdump: container checksum mismatch")
)

// Dump is the raw output of one download: a memory image or the payloads
// of streamed packets, tagged with the descriptor that produced it.
type Dump struct {
	ID         ulid.ULID
	Descriptor string
	Created    time.Time
	Data       []byte
}

// New tags data, which the Dump takes ownership of.
func New(descriptor string, data []byte) *Dump {
	now := time.Now()
	return &Dump{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()),
		Descriptor: descriptor,
		Created:    now.Truncate(time.Millisecond),
		Data:       data,
	}
}

// WriteTo writes d as a container.
func (d *Dump) WriteTo(w io.Writer) (int64, error) {
	if len(d.Descriptor) > math.MaxUint16 {
		return 0, fmt.Errorf("rawdump: descriptor id too long")
	}
	if len(d.Data) > MaxSize {
		return 0, fmt.Errorf("rawdump: %d bytes exceeds the container limit", len(d.Data))
	}

	var buf bytes.Buffer
	buf.WriteString(Magic)
	binary.Write(&buf, binary.BigEndian, uint16(Version))
	buf.Write(d.ID[:])
	binary.Write(&buf, binary.BigEndian, d.Created.UnixMilli())
	binary.Write(&buf, binary.BigEndian, uint16(len(d.Descriptor)))
	buf.WriteString(d.Descriptor)
	binary.Write(&buf, binary.BigEndian, uint32(len(d.Data)))
	buf.Write(d.Data)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(buf.Bytes()))

	return buf.WriteTo(w)
}

// Read parses a container written by WriteTo.
func Read(r io.Reader) (*Dump, error) {
	h := crc32.NewIEEE()
	br := io.TeeReader(bufio.NewReader(r), h)

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("rawdump: reading header: %w", err)
	}
	if string(magic) != Magic {
		return nil, ErrBadMagic
	}

	var hdr struct {
		Version uint16
		ID      ulid.ULID
		Created int64
		DescLen uint16
	}
	if err := binary.Read(br, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("rawdump: reading header: %w", err)
	}
	if hdr.Version != Version {
		return nil, fmt.Errorf("%w %d", ErrVersion, hdr.Version)
	}

	desc := make([]byte, hdr.DescLen)
	if _, err := io.ReadFull(br, desc); err != nil {
		return nil, fmt.Errorf("rawdump: reading descriptor: %w", err)
	}

	var size uint32
	if err := binary.Read(br, binary.BigEndian, &size); err != nil {
		return nil, fmt.Errorf("rawdump: reading length: %w", err)
	}
	if size > MaxSize {
		return nil, fmt.Errorf("rawdump: declared size %d exceeds the container limit", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, fmt.Errorf("rawdump: reading data: %w", err)
	}

	want := h.Sum32()
	var got uint32
	if err := binary.Read(br, binary.BigEndian, &got); err != nil {
		return nil, fmt.Errorf("rawdump: reading checksum: %w", err)
	}
	if got != want {
		return nil, ErrCorrupt
	}

	return &Dump{
		ID:         hdr.ID,
		Descriptor: string(desc),
		Created:    time.UnixMilli(hdr.Created),
		Data:       data,
	}, nil
}
