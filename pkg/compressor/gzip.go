package compressor

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/jigimage/jigimage/pkg/jigerr"
)

// gzipMagic is the two-byte prefix of every gzip member, used to decide
// whether a manifest blob needs gunzipping before the external .jigdo
// parser sees it. The core never produces or consumes gzip itself; this is
// purely a courtesy for callers that hand in a manifest fetched as-is from a
// mirror, where gzip is a common transport-level wrapping.
var gzipMagic = []byte{0x1f, 0x8b}

// LooksGzipped reports whether b begins with the gzip magic number.
func LooksGzipped(b []byte) bool {
	return bytes.HasPrefix(b, gzipMagic)
}

// Gunzip decompresses a whole gzip member in one shot. It exists only for
// the textual-manifest boundary: template chunks never use gzip, so this
// is never called from the decoder.
func Gunzip(in []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, jigerr.New(jigerr.Decode, "compressor.Gunzip", err)
	}
	defer gr.Close()

	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, jigerr.New(jigerr.Decode, "compressor.Gunzip", err)
	}
	return out, nil
}
