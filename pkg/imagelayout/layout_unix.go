//go:build linux || darwin

package imagelayout

import (
	"os"

	"golang.org/x/sys/unix"
)

func mapWindow(f *os.File, base int64, length int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), base, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func syncWindow(window []byte, f *os.File, base int64, async bool) error {
	flags := unix.MS_SYNC
	if async {
		flags = unix.MS_ASYNC
	}
	return unix.Msync(window, flags)
}

func unmapWindow(window []byte, f *os.File, base int64) error {
	return unix.Munmap(window)
}
