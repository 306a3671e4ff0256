package template

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/jigimage/jigimage/pkg/md5hash"
)

// buildTemplate assembles a minimal but well-formed .template byte stream
// from a data stream body and a list of raw DESC entries, mirroring the
// on-disk layout §4.C describes: header, chunk stream, DESC table, trailer.
func buildTemplate(t *testing.T, dataStream []byte, descEntries [][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString(versionLine)
	buf.WriteString("\r\n")
	buf.WriteString("\r\n") // comment block open
	buf.WriteString("\r\n") // comment block close
	buf.Write(dataStream)

	descStart := buf.Len()
	buf.WriteString(descTrailerTag)
	// size field written last, once the total size is known; reserve 6
	// bytes now and patch below.
	sizePos := buf.Len()
	buf.Write(make([]byte, 6))
	for _, e := range descEntries {
		buf.Write(e)
	}
	descSize := uint64(buf.Len() - descStart + 6) // + trailing size field
	buf.Write(sizeBytes(descSize))

	out := buf.Bytes()
	copy(out[sizePos:sizePos+6], sizeBytes(descSize))
	return out
}

func sizeBytes(v uint64) []byte {
	b := encodeU48LE(v)
	return b[:]
}

func dataEntryBytes(size uint64) []byte {
	var buf bytes.Buffer
	buf.WriteByte(typeData)
	buf.Write(sizeBytes(size))
	return buf.Bytes()
}

func imageInfoEntryBytes(size uint64, md5 md5hash.Digest) []byte {
	var buf bytes.Buffer
	buf.WriteByte(typeImageInfoLegacy)
	buf.Write(sizeBytes(size))
	buf.Write(md5[:])
	return buf.Bytes()
}

func fileEntryBytesModern(size uint64, rsync uint64, md5 md5hash.Digest) []byte {
	var buf bytes.Buffer
	buf.WriteByte(typeFile)
	buf.Write(sizeBytes(size))
	var rb [8]byte
	for i := 0; i < 8; i++ {
		rb[i] = byte(rsync >> (8 * i))
	}
	buf.Write(rb[:])
	buf.Write(md5[:])
	return buf.Bytes()
}

func zlibChunk(t *testing.T, plain []byte) []byte {
	t.Helper()
	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(plain); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}

	var chunk bytes.Buffer
	chunk.WriteString("DATA")
	framedBytes := uint64(4 + 6 + 6 + compressed.Len())
	chunk.Write(sizeBytes(framedBytes))
	chunk.Write(sizeBytes(uint64(len(plain))))
	chunk.Write(compressed.Bytes())
	return chunk.Bytes()
}

func TestDecodeS1Minimal(t *testing.T) {
	plain := []byte("hello")
	chunk := zlibChunk(t, plain)

	md5 := md5hash.SumBytes(plain)
	desc := [][]byte{
		dataEntryBytes(uint64(len(plain))),
		imageInfoEntryBytes(uint64(len(plain)), md5),
	}

	raw := buildTemplate(t, chunk, desc)

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !bytes.Equal(decoded.VerbatimData, plain) {
		t.Errorf("VerbatimData = %q, want %q", decoded.VerbatimData, plain)
	}
	if decoded.Table.ImageInfo.Size != uint64(len(plain)) {
		t.Errorf("ImageInfo.Size = %d, want %d", decoded.Table.ImageInfo.Size, len(plain))
	}
	if !decoded.Table.ImageInfo.MD5.Equal(md5) {
		t.Errorf("ImageInfo.MD5 mismatch")
	}
	if len(decoded.Table.Data) != 1 || decoded.Table.Data[0].Offset != 0 {
		t.Errorf("unexpected Data entries: %+v", decoded.Table.Data)
	}

	gotSum := md5hash.SumBytes(decoded.VerbatimData).String()
	wantSum := "5d41402abc4b2a76b9719d911017c592"
	if gotSum != wantSum {
		t.Errorf("whole-verbatim md5 = %s, want %s", gotSum, wantSum)
	}
}

func TestDecodeMixedLegacyAndModernEntries(t *testing.T) {
	plain := []byte("xy")
	chunk := zlibChunk(t, plain)
	fileMD5 := md5hash.SumBytes([]byte("abc"))

	desc := [][]byte{
		dataEntryBytes(uint64(len(plain))),
		fileEntryBytesModern(3, 0, fileMD5),
		imageInfoEntryBytes(uint64(len(plain))+3, md5hash.SumBytes([]byte("xyabc"))),
	}
	raw := buildTemplate(t, chunk, desc)

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Table.Files) != 1 {
		t.Fatalf("expected 1 file entry, got %d", len(decoded.Table.Files))
	}
	fe := decoded.Table.Files[0]
	if fe.Offset != uint64(len(plain)) {
		t.Errorf("file offset = %d, want %d", fe.Offset, len(plain))
	}
	if !fe.MD5.Equal(fileMD5) {
		t.Error("file md5 mismatch")
	}
	if fe.Status != NotStarted {
		t.Errorf("fresh file entry status = %v, want NotStarted", fe.Status)
	}
}

func TestDecodeRejectsZeroSizeDataEntry(t *testing.T) {
	chunk := zlibChunk(t, []byte{})
	desc := [][]byte{
		dataEntryBytes(0),
		imageInfoEntryBytes(0, md5hash.Digest{}),
	}
	raw := buildTemplate(t, chunk, desc)

	if _, err := Decode(raw); err == nil {
		t.Error("expected error for zero-size Data entry")
	}
}

func TestDecodeRejectsUnknownEntryType(t *testing.T) {
	plain := []byte("z")
	chunk := zlibChunk(t, plain)

	var bogus bytes.Buffer
	bogus.WriteByte(4)
	bogus.Write(sizeBytes(1))

	desc := [][]byte{
		bogus.Bytes(),
		imageInfoEntryBytes(1, md5hash.SumBytes(plain)),
	}
	raw := buildTemplate(t, chunk, desc)

	if _, err := Decode(raw); err == nil {
		t.Error("expected error for unknown DESC entry type")
	}
}

func TestDecodeRejectsWrongVersionLine(t *testing.T) {
	raw := []byte("JigsawDownload template 2.\r\n\r\n\r\nDESC" + string(sizeBytes(10)))
	if _, err := Decode(raw); err == nil {
		t.Error("expected error for unsupported version line")
	}
}

func TestDecodeRejectsOffsetMismatch(t *testing.T) {
	plain := []byte("hello")
	chunk := zlibChunk(t, plain)

	// ImageInfo claims a size that doesn't match the accumulated offset of
	// the preceding Data entry.
	desc := [][]byte{
		dataEntryBytes(uint64(len(plain))),
		imageInfoEntryBytes(uint64(len(plain))+100, md5hash.SumBytes(plain)),
	}
	raw := buildTemplate(t, chunk, desc)

	if _, err := Decode(raw); err == nil {
		t.Error("expected error for ImageInfo/offset mismatch")
	}
}

func TestU48RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 255, 256, 1 << 20, (1 << 48) - 1}
	for _, v := range cases {
		b := encodeU48LE(v)
		got := decodeU48LE(b[:])
		if got != v {
			t.Errorf("u48 round trip: encode/decode(%d) = %d", v, got)
		}
	}
}
