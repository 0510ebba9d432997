package parser

import "encoding/binary"

// Cursor reads fixed-width fields from a byte slice. Reads past the end
// return zero and latch the cursor into a failed state reported by OK.
type Cursor struct {
	buf   []byte
	off   int
	base  int
	order binary.ByteOrder
	short bool
}

// NewCursor reads buf in the given byte order. base is the offset of buf
// within the enclosing dump and only affects Offset.
func NewCursor(buf []byte, base int, order binary.ByteOrder) *Cursor {
	return &Cursor{buf: buf, base: base, order: order}
}

// OK reports whether every read so far was in bounds.
func (c *Cursor) OK() bool { return !c.short }

// Offset is the absolute position of the next read.
func (c *Cursor) Offset() int { return c.base + c.off }

// Len is the number of unread bytes.
func (c *Cursor) Len() int { return len(c.buf) - c.off }

func (c *Cursor) take(n int) []byte {
	if c.short || n < 0 || c.Len() < n {
		c.short = true
		return nil
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b
}

func (c *Cursor) Bytes(n int) []byte { return c.take(n) }

func (c *Cursor) Skip(n int) { c.take(n) }

func (c *Cursor) U8() uint8 {
	b := c.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *Cursor) U16() uint16 {
	b := c.take(2)
	if b == nil {
		return 0
	}
	return c.order.Uint16(b)
}

func (c *Cursor) I16() int16 { return int16(c.U16()) }

func (c *Cursor) U32() uint32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return c.order.Uint32(b)
}
