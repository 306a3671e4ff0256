//go:build linux

package imagelayout

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// allocate reserves size bytes for f via fallocate, the POSIX
// posix_fallocate-equivalent, so callers get early ENOSPC rather than
// discovering it mid-reconstruction. Falls back to a sparse truncate if the
// underlying filesystem doesn't support fallocate.
func allocate(f *os.File, size uint64) error {
	if err := unix.Fallocate(int(f.Fd()), 0, 0, int64(size)); err != nil {
		if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
			return f.Truncate(int64(size))
		}
		return err
	}
	return nil
}
