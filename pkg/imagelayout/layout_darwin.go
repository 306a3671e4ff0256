//go:build darwin

package imagelayout

import "os"

// allocate on Darwin falls back to a sparse truncate; F_PREALLOCATE would
// reserve space more eagerly but isn't exposed by golang.org/x/sys/unix in
// a form this package depends on elsewhere.
func allocate(f *os.File, size uint64) error {
	return f.Truncate(int64(size))
}
