// Package template decodes the binary .template format: a trailer-indexed
// DESC record table plus a stream of zlib/bzip2 compressed chunks carrying
// the image's verbatim data regions.
package template

import (
	"bytes"
	"fmt"

	"github.com/jigimage/jigimage/pkg/compressor"
	"github.com/jigimage/jigimage/pkg/jigerr"
	"github.com/jigimage/jigimage/pkg/md5hash"
)

// versionLine is the exact prefix required of every supported template;
// only major version 1 is recognized.
const versionLine = "JigsawDownload template 1."

const descTrailerTag = "DESC"

// descEntryType enumerates the one-byte DESC record discriminants.
const (
	typeImageInfoLegacy byte = 1
	typeData            byte = 2
	typeFileLegacy      byte = 3
	typeImageInfo       byte = 5
	typeFile            byte = 6
)

// Decoded holds the parsed DESC table alongside the reconstructed verbatim
// byte stream, ready for ImageLayout to scatter-write into the image.
type Decoded struct {
	Table        *DescTable
	VerbatimData []byte // concatenation of every Data entry's bytes, in order
}

// Decode parses a complete in-memory template file: the header, the
// trailer-indexed DESC table, and the compressed inner data stream.
func Decode(raw []byte) (*Decoded, error) {
	headerEnd, err := validateHeader(raw)
	if err != nil {
		return nil, err
	}

	table, descStart, err := parseDescTable(raw)
	if err != nil {
		return nil, err
	}
	if descStart < headerEnd {
		return nil, jigerr.New(jigerr.Format, "template.Decode",
			fmt.Errorf("DESC table overlaps the header"))
	}

	verbatim, err := decodeDataStream(raw[headerEnd:descStart], table)
	if err != nil {
		return nil, err
	}

	return &Decoded{Table: table, VerbatimData: verbatim}, nil
}

// validateHeader checks the version line and skips past the header's three
// CRLF terminators (one for the version line, two for the comment block),
// returning the byte offset where the chunk stream begins.
func validateHeader(raw []byte) (int, error) {
	if !bytes.HasPrefix(raw, []byte(versionLine)) {
		return 0, jigerr.New(jigerr.Format, "template.validateHeader",
			fmt.Errorf("missing or unsupported version line, want prefix %q", versionLine))
	}

	pos := 0
	crlfSeen := 0
	for crlfSeen < 3 {
		idx := bytes.IndexByte(raw[pos:], '\r')
		if idx < 0 || pos+idx+1 >= len(raw) || raw[pos+idx+1] != '\n' {
			return 0, jigerr.New(jigerr.Format, "template.validateHeader",
				fmt.Errorf("truncated header: expected %d CRLF terminators, found %d", 3, crlfSeen))
		}
		pos += idx + 2
		crlfSeen++
	}
	return pos, nil
}

// parseDescTable locates the trailer-indexed DESC table, validates its
// self-described size twice, and parses every entry into a DescTable. It
// returns the table and the byte offset at which the table begins (the end
// of the compressed data stream).
func parseDescTable(raw []byte) (*DescTable, int, error) {
	if len(raw) < 6 {
		return nil, 0, jigerr.New(jigerr.Format, "template.parseDescTable",
			fmt.Errorf("file too short to contain a trailer"))
	}

	trailerSize := decodeU48LE(raw[len(raw)-6:])
	if trailerSize < 10 || int(trailerSize) > len(raw) {
		return nil, 0, jigerr.New(jigerr.Format, "template.parseDescTable",
			fmt.Errorf("implausible DESC table size %d", trailerSize))
	}

	tableStart := len(raw) - int(trailerSize)
	c := newCursor(raw[tableStart:])

	if err := c.expectTag(descTrailerTag); err != nil {
		return nil, 0, err
	}
	reread, err := c.u48le()
	if err != nil {
		return nil, 0, err
	}
	if reread != trailerSize {
		return nil, 0, jigerr.New(jigerr.Format, "template.parseDescTable",
			fmt.Errorf("DESC table size mismatch: trailer says %d, header says %d", trailerSize, reread))
	}

	table := &DescTable{}
	var imageOffset uint64
	sawImageInfo := false

	// The table ends 6 bytes before its own end (the trailing size field
	// re-read above is already consumed); parse entries until only that
	// accounting is left.
	entriesEnd := len(raw) - 6
	for c.pos+tableStart < entriesEnd {
		entryType, err := c.u8()
		if err != nil {
			return nil, 0, err
		}
		entrySize, err := c.u48le()
		if err != nil {
			return nil, 0, err
		}

		switch entryType {
		case typeImageInfoLegacy, typeImageInfo:
			if sawImageInfo {
				return nil, 0, jigerr.New(jigerr.Format, "template.parseDescTable",
					fmt.Errorf("more than one ImageInfo entry"))
			}
			md5b, err := c.md5Bytes()
			if err != nil {
				return nil, 0, err
			}
			var blockLen uint32
			if entryType == typeImageInfo {
				blockLen, err = c.u32le()
				if err != nil {
					return nil, 0, err
				}
			}
			// The running offset must equal the entry_size recorded here
			// before this entry's own size is folded in: ImageInfo.size is
			// the target image length, never added to the preceding-sum
			// check itself.
			if imageOffset != entrySize {
				return nil, 0, jigerr.New(jigerr.Format, "template.parseDescTable",
					fmt.Errorf("ImageInfo size %d does not match accumulated offset %d", entrySize, imageOffset))
			}
			table.ImageInfo = ImageInfoEntry{
				EntryBase:       EntryBase{Offset: imageOffset, Size: entrySize},
				MD5:             md5hash.Digest(md5b),
				Rsync64BlockLen: blockLen,
			}
			sawImageInfo = true

		case typeData:
			if entrySize == 0 {
				return nil, 0, jigerr.New(jigerr.Format, "template.parseDescTable",
					fmt.Errorf("zero-size Data entry at offset %d", imageOffset))
			}
			table.Data = append(table.Data, DataEntry{
				EntryBase: EntryBase{Offset: imageOffset, Size: entrySize},
			})
			imageOffset += entrySize

		case typeFileLegacy, typeFile:
			if entrySize == 0 {
				return nil, 0, jigerr.New(jigerr.Format, "template.parseDescTable",
					fmt.Errorf("zero-size File entry at offset %d", imageOffset))
			}
			var rsync uint64
			if entryType == typeFile {
				rsync, err = c.u64le()
				if err != nil {
					return nil, 0, err
				}
			}
			md5b, err := c.md5Bytes()
			if err != nil {
				return nil, 0, err
			}
			table.Files = append(table.Files, &FileEntry{
				EntryBase:      EntryBase{Offset: imageOffset, Size: entrySize},
				MD5:            md5hash.Digest(md5b),
				Rsync64Initial: rsync,
				Status:         NotStarted,
			})
			imageOffset += entrySize

		default:
			return nil, 0, jigerr.New(jigerr.Format, "template.parseDescTable",
				fmt.Errorf("unknown DESC entry type %d", entryType))
		}
	}

	if !sawImageInfo {
		return nil, 0, jigerr.New(jigerr.Format, "template.parseDescTable",
			fmt.Errorf("DESC table has no terminal ImageInfo entry"))
	}

	return table, tableStart, nil
}

// chunkTagSize is the DATA/BZIP/DESC tag width.
const chunkTagSize = 4

// decodeDataStream walks the compressed chunk stream that precedes the DESC
// table and fills a single buffer sized to the sum of all Data entry sizes.
func decodeDataStream(stream []byte, table *DescTable) ([]byte, error) {
	var total uint64
	for _, d := range table.Data {
		total += d.Size
	}
	out := make([]byte, total)
	outPos := uint64(0)

	pos := 0
	for {
		// Decode hands in the bytes up to the start of the DESC table, so
		// reaching the end of stream is the same as meeting the DESC tag.
		if pos == len(stream) {
			break
		}
		if pos+chunkTagSize > len(stream) {
			return nil, jigerr.New(jigerr.Format, "template.decodeDataStream",
				fmt.Errorf("truncated chunk stream: expected a tag at offset %d", pos))
		}
		tag := string(stream[pos : pos+chunkTagSize])

		if tag == descTrailerTag {
			break
		}

		var kind compressor.Kind
		switch tag {
		case "DATA":
			kind = compressor.Zlib
		case "BZIP":
			kind = compressor.Bzip2
		default:
			return nil, jigerr.New(jigerr.Format, "template.decodeDataStream",
				fmt.Errorf("unrecognized chunk tag %q at offset %d", tag, pos))
		}

		c := newCursor(stream[pos+chunkTagSize:])
		framedBytes, err := c.u48le()
		if err != nil {
			return nil, err
		}
		decompressedBytes, err := c.u48le()
		if err != nil {
			return nil, err
		}

		const sizeFieldsLen = 12 // two u48 LE fields
		headerLen := chunkTagSize + sizeFieldsLen
		payloadLen := int(framedBytes) - headerLen
		if payloadLen < 0 {
			return nil, jigerr.New(jigerr.Format, "template.decodeDataStream",
				fmt.Errorf("chunk at offset %d has framed_bytes smaller than its own header", pos))
		}

		payloadStart := pos + headerLen
		payloadEnd := payloadStart + payloadLen
		if payloadEnd > len(stream) {
			return nil, jigerr.New(jigerr.Format, "template.decodeDataStream",
				fmt.Errorf("chunk at offset %d overruns the data stream", pos))
		}
		payload := stream[payloadStart:payloadEnd]

		if outPos+decompressedBytes > total {
			return nil, jigerr.New(jigerr.Format, "template.decodeDataStream",
				fmt.Errorf("chunk at offset %d would overflow the %d-byte verbatim buffer", pos, total))
		}

		dst := out[outPos : outPos+decompressedBytes]
		n, err := compressor.Decompress(kind, payload, dst)
		if err != nil {
			return nil, err
		}
		outPos += uint64(n)
		pos = payloadEnd
	}

	if outPos != total {
		return nil, jigerr.New(jigerr.Format, "template.decodeDataStream",
			fmt.Errorf("decompressed %d bytes total, expected %d", outPos, total))
	}

	return out, nil
}
