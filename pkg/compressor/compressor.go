// Package compressor implements the one-shot decompression primitives the
// template decoder uses to expand a DATA or BZIP chunk into its caller-sized
// output buffer. Nothing here supports streaming or compression: the inner
// data stream is always read in whole, length-prefixed chunks.
package compressor

import (
	"bytes"
	"compress/bzip2"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/jigimage/jigimage/pkg/jigerr"
)

// Kind identifies which codec produced a chunk's compressed bytes, as
// recorded in the chunk's four-byte tag.
type Kind int

const (
	// Zlib marks a DATA-tagged chunk (RFC 1950 zlib stream).
	Zlib Kind = iota
	// Bzip2 marks a BZIP-tagged chunk.
	Bzip2
)

func (k Kind) String() string {
	switch k {
	case Zlib:
		return "zlib"
	case Bzip2:
		return "bzip2"
	default:
		return "unknown"
	}
}

// Decompress expands in under the given Kind into out, returning the number
// of bytes written. out must be exactly as large as the chunk's recorded
// decompressed size; a short or long result is a decode error, since the
// template format always records the exact uncompressed length up front.
func Decompress(kind Kind, in []byte, out []byte) (int, error) {
	var r io.Reader
	switch kind {
	case Zlib:
		zr, err := zlib.NewReader(bytes.NewReader(in))
		if err != nil {
			return 0, jigerr.New(jigerr.Decode, "compressor.Decompress", err)
		}
		defer zr.Close()
		r = zr
	case Bzip2:
		r = bzip2.NewReader(bytes.NewReader(in))
	default:
		return 0, jigerr.New(jigerr.Decode, "compressor.Decompress",
			fmt.Errorf("unknown compressor kind %d", kind))
	}

	n, err := io.ReadFull(r, out)
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, jigerr.New(jigerr.Decode, "compressor.Decompress", err)
	}
	if n != len(out) {
		return n, jigerr.New(jigerr.Decode, "compressor.Decompress",
			fmt.Errorf("decompressed %d bytes, expected exactly %d", n, len(out)))
	}

	// A correctly sized out buffer must exhaust the stream; trailing bytes
	// mean the recorded decompressed size didn't match reality.
	var extra [1]byte
	if xn, _ := r.Read(extra[:]); xn > 0 {
		return n, jigerr.New(jigerr.Decode, "compressor.Decompress",
			fmt.Errorf("stream produced more than the recorded %d bytes", len(out)))
	}

	return n, nil
}
