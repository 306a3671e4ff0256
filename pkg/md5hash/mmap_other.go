//go:build !linux && !darwin

package md5hash

import (
	"fmt"
	"io"
	"os"
)

// hashViaMmap is unavailable on this platform; SumReaderAt falls back to
// buffered reads.
func hashViaMmap(h io.Writer, f *os.File, offset, length int64) error {
	return fmt.Errorf("mmap hashing unsupported on this platform")
}
