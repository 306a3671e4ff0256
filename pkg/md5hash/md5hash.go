// Package md5hash computes and decodes the MD5 digests used throughout the
// manifest and template formats, including the jigdo project's unpadded
// 22-character base64 encoding of a 16-byte digest.
package md5hash

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"os"

	"github.com/jigimage/jigimage/pkg/jigerr"
)

// Size is the length in bytes of a raw MD5 digest.
const Size = md5.Size

// Digest is a 16-byte MD5 value with a total lexicographic ordering, used as
// the content-address key for component files.
type Digest [Size]byte

// String renders the digest as lowercase hex.
func (d Digest) String() string {
	return fmt.Sprintf("%x", [Size]byte(d))
}

// Compare returns -1, 0, or 1 following bytes.Compare semantics over the raw
// digest bytes.
func (d Digest) Compare(other Digest) int {
	return bytes.Compare(d[:], other[:])
}

// Equal reports whether two digests are byte-identical.
func (d Digest) Equal(other Digest) bool {
	return d == other
}

// IsZero reports whether the digest is the zero value (never a valid MD5 of
// real content, but also never produced by SumReaderAt's failure sentinel).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ErrDigest is the sentinel returned by SumReaderAt on I/O failure: an
// all-ones digest that cannot collide with any real MD5 in practice, so
// callers comparing against a manifest-supplied digest will always treat it
// as a mismatch.
var ErrDigest = Digest{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// SumBytes returns the MD5 digest of b.
func SumBytes(b []byte) Digest {
	return Digest(md5.Sum(b))
}

// windowPages is the number of 4KiB-ish OS pages read per mapped window when
// hashing a file range. The window is re-mapped per chunk rather than
// mapping the whole range at once so hashing a multi-gigabyte image never
// requires a correspondingly large address-space reservation.
const windowPages = 1024

// SumReaderAt hashes length bytes of r starting at offset, reading through
// page-aligned memory-mapped windows where the platform supports it and
// falling back to buffered reads otherwise. On any I/O failure it returns
// ErrDigest rather than propagating the error, matching the source's
// sentinel-on-failure contract (callers always compare against a
// manifest digest, so a guaranteed-mismatch value is sufficient signal).
func SumReaderAt(r io.ReaderAt, offset, length int64) Digest {
	h := md5.New()
	if f, ok := r.(*os.File); ok {
		if err := hashViaMmap(h, f, offset, length); err == nil {
			return Digest(h.Sum(nil))
		}
		h.Reset()
	}
	if err := hashViaReadAt(h, r, offset, length); err != nil {
		return ErrDigest
	}
	return Digest(h.Sum(nil))
}

func hashViaReadAt(h io.Writer, r io.ReaderAt, offset, length int64) error {
	const chunk = 1 << 20
	buf := make([]byte, chunk)
	remaining := length
	pos := offset
	for remaining > 0 {
		n := int64(chunk)
		if remaining < n {
			n = remaining
		}
		read, err := r.ReadAt(buf[:n], pos)
		if read > 0 {
			if _, werr := h.Write(buf[:read]); werr != nil {
				return werr
			}
		}
		if err != nil && err != io.EOF {
			return err
		}
		if int64(read) < n {
			return io.ErrUnexpectedEOF
		}
		remaining -= int64(read)
		pos += int64(read)
	}
	return nil
}

// DecodeBase22 decodes a 22-character unpadded base64 string into a 16-byte
// Digest, accepting both the standard (+/) and jigdo (-_) alphabet symbols
// interchangeably within the same string. Each group of four symbols decodes
// to 3 bytes; the final two symbols supply 12 bits that fill the last byte
// (right-shifted by 4, per the jigdo reference encoding).
func DecodeBase22(s string) (Digest, error) {
	if len(s) != 22 {
		return Digest{}, jigerr.New(jigerr.Format, "md5hash.DecodeBase22",
			fmt.Errorf("expected 22 characters, got %d", len(s)))
	}

	var out Digest
	outPos := 0

	decodeSym := func(c byte) (byte, error) {
		switch {
		case c >= 'A' && c <= 'Z':
			return c - 'A', nil
		case c >= 'a' && c <= 'z':
			return c - 'a' + 26, nil
		case c >= '0' && c <= '9':
			return c - '0' + 52, nil
		case c == '+' || c == '-':
			return 62, nil
		case c == '/' || c == '_':
			return 63, nil
		default:
			return 0, fmt.Errorf("invalid base64 symbol %q", c)
		}
	}

	// Five full 4-symbol groups cover the first 20 input characters and
	// produce the first 15 bytes; the final 2 symbols supply 12 bits which,
	// right-shifted by 4, give the whole 16th byte.
	for group := 0; group < 5; group++ {
		base := group * 4
		var vals [4]byte
		for i := 0; i < 4; i++ {
			v, err := decodeSym(s[base+i])
			if err != nil {
				return Digest{}, jigerr.New(jigerr.Format, "md5hash.DecodeBase22", err)
			}
			vals[i] = v
		}
		out[outPos] = vals[0]<<2 | vals[1]>>4
		out[outPos+1] = vals[1]<<4 | vals[2]>>2
		out[outPos+2] = vals[2]<<6 | vals[3]
		outPos += 3
	}

	// Byte 15 comes from the next full group (chars 20..23 would overrun;
	// jigdo's 22-char encoding only has chars 20,21 left).
	v0, err := decodeSym(s[20])
	if err != nil {
		return Digest{}, jigerr.New(jigerr.Format, "md5hash.DecodeBase22", err)
	}
	v1, err := decodeSym(s[21])
	if err != nil {
		return Digest{}, jigerr.New(jigerr.Format, "md5hash.DecodeBase22", err)
	}
	out[15] = v0<<2 | v1>>4

	return out, nil
}
