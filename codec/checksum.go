package codec

import "fmt"

// Algorithm selects how a Checksum is computed.
type Algorithm int

const (
	// Sum adds every byte to Init.
	Sum Algorithm = iota + 1
	// XOR folds every byte into Init with exclusive or.
	XOR
	// CRC16 is an MSB-first 16-bit CRC over Poly.
	CRC16
)

var algorithmNames = map[Algorithm]string{Sum: "sum", XOR: "xor", CRC16: "crc16"}

func (a Algorithm) String() string {
	if s, ok := algorithmNames[a]; ok {
		return s
	}
	return fmt.Sprintf("algorithm(%d)", int(a))
}

func (a Algorithm) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Algorithm) UnmarshalText(b []byte) error {
	for k, name := range algorithmNames {
		if name == string(b) {
			*a = k
			return nil
		}
	}
	return fmt.Errorf("unknown checksum algorithm %q", b)
}

// Checksum holds the numeric parameters of a device family's checksum.
type Checksum struct {
	Algorithm Algorithm `yaml:"algorithm"`
	// Width is 1 or 2 bytes on the wire.
	Width int    `yaml:"width"`
	Poly  uint16 `yaml:"poly"`
	Init  uint16 `yaml:"init"`
	// BigEndian orders a two byte checksum most significant byte first.
	BigEndian bool `yaml:"big_endian"`
	// Fold adds the carry back into the sum instead of discarding it.
	Fold bool `yaml:"fold"`
	// Complement transmits the two's complement of the sum.
	Complement bool `yaml:"complement"`
}

// CCITT is CRC-16/CCITT-FALSE.
var CCITT = Checksum{Algorithm: CRC16, Width: 2, Poly: 0x1021, Init: 0xFFFF, BigEndian: true}

func (c Checksum) validate() error {
	if c.Width != 1 && c.Width != 2 {
		return fmt.Errorf("checksum width must be 1 or 2, got %d", c.Width)
	}
	switch c.Algorithm {
	case Sum, XOR:
	case CRC16:
		if c.Width != 2 {
			return fmt.Errorf("crc16 needs a width of 2, got %d", c.Width)
		}
		if c.Poly == 0 {
			return fmt.Errorf("crc16 needs a polynomial")
		}
	default:
		return fmt.Errorf("unknown checksum algorithm %d", c.Algorithm)
	}
	return nil
}

func (c Checksum) mask() uint32 {
	if c.Width == 2 {
		return 0xFFFF
	}
	return 0xFF
}

// Compute returns the checksum of data.
func (c Checksum) Compute(data []byte) uint16 {
	mask := c.mask()

	switch c.Algorithm {
	case Sum:
		v := uint32(c.Init)
		for _, b := range data {
			v += uint32(b)
		}
		if c.Fold {
			for v > mask {
				v = (v >> (8 * c.Width)) + (v & mask)
			}
		}
		v &= mask
		if c.Complement {
			v = (^v + 1) & mask
		}
		return uint16(v)

	case XOR:
		v := uint32(c.Init)
		for _, b := range data {
			v ^= uint32(b)
		}
		return uint16(v & mask)

	case CRC16:
		crc := c.Init
		for _, b := range data {
			crc ^= uint16(b) << 8
			for i := 0; i < 8; i++ {
				if crc&0x8000 != 0 {
					crc = (crc << 1) ^ c.Poly
				} else {
					crc <<= 1
				}
			}
		}
		return crc
	}

	return 0
}

func (c Checksum) put(dst []byte, v uint16) {
	if c.Width == 1 {
		dst[0] = byte(v)
		return
	}
	if c.BigEndian {
		dst[0], dst[1] = byte(v>>8), byte(v)
	} else {
		dst[0], dst[1] = byte(v), byte(v>>8)
	}
}

func (c Checksum) get(src []byte) uint16 {
	if c.Width == 1 {
		return uint16(src[0])
	}
	if c.BigEndian {
		return uint16(src[0])<<8 | uint16(src[1])
	}
	return uint16(src[1])<<8 | uint16(src[0])
}
