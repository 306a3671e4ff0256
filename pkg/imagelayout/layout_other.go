//go:build !linux && !darwin

package imagelayout

import (
	"errors"
	"io"
	"os"
)

// allocate falls back to a sparse truncate on platforms without a native
// preallocation syscall wired up here.
func allocate(f *os.File, size uint64) error {
	return f.Truncate(int64(size))
}

// mapWindow emulates a writable mmap window with a plain buffer, preloaded
// with the range's current on-disk contents so partial writes behave the
// same as a real read/write mapping would.
func mapWindow(f *os.File, base int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	_, err := f.ReadAt(buf, base)
	// A short read past EOF is expected when the region hasn't been written
	// yet; only a real I/O error should propagate.
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf, nil
}

// syncWindow writes the buffer back to its file range; positioned writes
// are inherently synchronous enough here that async is not distinguished.
func syncWindow(window []byte, f *os.File, base int64, async bool) error {
	_, err := f.WriteAt(window, base)
	return err
}

// unmapWindow is a no-op: syncWindow already persisted the buffer.
func unmapWindow(window []byte, f *os.File, base int64) error {
	return nil
}
