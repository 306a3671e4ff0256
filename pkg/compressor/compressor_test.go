package compressor

import (
	"bytes"
	"compress/zlib"
	"testing"
)

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

func TestDecompressZlib(t *testing.T) {
	orig := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 100)
	compressed := zlibCompress(t, orig)

	out := make([]byte, len(orig))
	n, err := Decompress(Zlib, compressed, out)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if n != len(orig) {
		t.Fatalf("got %d bytes, want %d", n, len(orig))
	}
	if !bytes.Equal(out, orig) {
		t.Error("decompressed content mismatch")
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	orig := []byte("some data that compresses fine")
	compressed := zlibCompress(t, orig)

	out := make([]byte, len(orig)+10)
	if _, err := Decompress(Zlib, compressed, out); err == nil {
		t.Error("expected error for oversized output buffer")
	}

	out2 := make([]byte, len(orig)-5)
	if _, err := Decompress(Zlib, compressed, out2); err == nil {
		t.Error("expected error for undersized output buffer")
	}
}

func TestDecompressUnknownKind(t *testing.T) {
	if _, err := Decompress(Kind(99), []byte{1, 2, 3}, make([]byte, 3)); err == nil {
		t.Error("expected error for unknown compressor kind")
	}
}

func TestLooksGzipped(t *testing.T) {
	if !LooksGzipped([]byte{0x1f, 0x8b, 0x08, 0x00}) {
		t.Error("expected gzip magic to be detected")
	}
	if LooksGzipped([]byte("plain text")) {
		t.Error("did not expect plain text to look gzipped")
	}
}
