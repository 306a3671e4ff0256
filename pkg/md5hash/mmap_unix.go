//go:build linux || darwin

package md5hash

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// hashViaMmap hashes length bytes of f starting at offset through a sequence
// of page-aligned windows of windowPages pages each, matching the scatter
// write's own alignment arithmetic in pkg/imagelayout so the two never
// disagree about where a page boundary falls.
func hashViaMmap(h io.Writer, f *os.File, offset, length int64) error {
	pageSize := int64(os.Getpagesize())
	windowBytes := pageSize * windowPages

	remaining := length
	pos := offset
	for remaining > 0 {
		base := pos - (pos % pageSize)
		inPage := pos - base
		want := windowBytes
		if want > remaining+inPage {
			want = remaining + inPage
		}

		mapped, err := unix.Mmap(int(f.Fd()), base, int(want), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return err
		}

		n := int64(len(mapped)) - inPage
		if n > remaining {
			n = remaining
		}
		if _, err := h.Write(mapped[inPage : inPage+n]); err != nil {
			unix.Munmap(mapped)
			return err
		}
		if err := unix.Munmap(mapped); err != nil {
			return err
		}

		pos += n
		remaining -= n
	}
	return nil
}
