package template

import (
	"fmt"

	"github.com/jigimage/jigimage/pkg/jigerr"
)

// cursor is a bounds-checked reader over an in-memory byte slice, replacing
// manual pointer arithmetic with methods that fail cleanly on short input.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.pos
}

func (c *cursor) need(n int) error {
	if c.remaining() < n {
		return jigerr.New(jigerr.Format, "template.cursor",
			fmt.Errorf("need %d bytes, have %d", n, c.remaining()))
	}
	return nil
}

// bytes returns the next n bytes and advances the cursor.
func (c *cursor) bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// u8 reads a single byte.
func (c *cursor) u8() (byte, error) {
	b, err := c.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// u32le reads a 4-byte little-endian unsigned integer.
func (c *cursor) u32le() (uint32, error) {
	b, err := c.bytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// u48le reads a 6-byte little-endian unsigned integer, the width used
// throughout the template format for sizes and offsets.
func (c *cursor) u48le() (uint64, error) {
	b, err := c.bytes(6)
	if err != nil {
		return 0, err
	}
	return decodeU48LE(b), nil
}

// u64le reads an 8-byte little-endian unsigned integer.
func (c *cursor) u64le() (uint64, error) {
	b, err := c.bytes(8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// md5Bytes reads a 16-byte digest without validating it against anything.
func (c *cursor) md5Bytes() ([16]byte, error) {
	var out [16]byte
	b, err := c.bytes(16)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// expectTag reads a fixed 4-byte ASCII tag and compares it against want.
func (c *cursor) expectTag(want string) error {
	b, err := c.bytes(4)
	if err != nil {
		return err
	}
	if string(b) != want {
		return jigerr.New(jigerr.Format, "template.cursor",
			fmt.Errorf("expected tag %q, got %q", want, string(b)))
	}
	return nil
}

func decodeU48LE(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 |
		uint64(b[3])<<24 | uint64(b[4])<<32 | uint64(b[5])<<40
}

// encodeU48LE writes v into a freshly allocated 6-byte little-endian buffer.
// v must fit in 48 bits; callers within this package only ever encode sizes
// already known to satisfy that constraint.
func encodeU48LE(v uint64) [6]byte {
	var out [6]byte
	out[0] = byte(v)
	out[1] = byte(v >> 8)
	out[2] = byte(v >> 16)
	out[3] = byte(v >> 24)
	out[4] = byte(v >> 32)
	out[5] = byte(v >> 40)
	return out
}
