// Package imagelayout manages the on-disk target image: sizing the file,
// scatter-writing the template's verbatim regions into it, and exposing
// page-aligned mapped ranges for the scheduler and workers to fetch
// component files into.
package imagelayout

import (
	"fmt"
	"os"

	"github.com/jigimage/jigimage/pkg/jigerr"
)

// Image is an open, read-write file descriptor at least as long as the DESC
// table's target length; Open does not truncate a longer existing file.
type Image struct {
	File *os.File
	Size uint64

	// Existing reports whether the file already had at least Size bytes
	// before Open ran, the signal that enables resume verification.
	Existing bool
}

// Open opens path for read-write, creating it if absent, and ensures it is
// at least size bytes long via platform-preferred allocation (falling back
// to a sparse truncate to size).
func Open(path string, size uint64) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, jigerr.New(jigerr.IO, "imagelayout.Open", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, jigerr.New(jigerr.IO, "imagelayout.Open", err)
	}

	existing := uint64(info.Size()) >= size
	if !existing {
		if err := allocate(f, size); err != nil {
			f.Close()
			return nil, jigerr.New(jigerr.IO, "imagelayout.Open", err)
		}
	}

	return &Image{File: f, Size: size, Existing: existing}, nil
}

// Close performs a final synchronous flush and closes the file descriptor.
func (img *Image) Close() error {
	if err := img.File.Sync(); err != nil {
		img.File.Close()
		return jigerr.New(jigerr.IO, "imagelayout.Close", err)
	}
	return img.File.Close()
}

// pageAlign returns the page-containing base offset and the in-page slack
// for off, using the host's page size (a sane default on platforms where
// the concept doesn't map directly, e.g. via os.Getpagesize()).
func pageAlign(off uint64) (base uint64, slack uint64) {
	pageSize := uint64(os.Getpagesize())
	slack = off % pageSize
	return off - slack, slack
}

// MappedRange is a page-aligned writable window over one image byte range,
// returned by MapRange for a worker to stream fetched bytes directly into.
type MappedRange struct {
	window     []byte
	pageOffset uint64
	file       *os.File
	base       uint64
}

// Region returns the byte-exact slice [offset, offset+size) within the
// mapped window: callers write here, never outside it.
func (m *MappedRange) Region() []byte {
	return m.window[m.pageOffset:]
}

// Sync flushes the window's contents to disk. async is advisory (msync
// MS_ASYNC on platforms that distinguish it); callers doing a final flush
// before closing the image should pass async=false.
func (m *MappedRange) Sync(async bool) error {
	return syncWindow(m.window, m.file, int64(m.base), async)
}

// Unmap releases the window. On platforms without real mmap support it does
// nothing: the fallback path's buffered writes reach the file only in Sync.
func (m *MappedRange) Unmap() error {
	return unmapWindow(m.window, m.file, int64(m.base))
}

// MapRange returns a writable mapped window covering [offset, offset+size)
// of the image.
func (img *Image) MapRange(offset, size uint64) (*MappedRange, error) {
	if size == 0 {
		return nil, jigerr.New(jigerr.Format, "imagelayout.MapRange",
			fmt.Errorf("refusing to map a zero-length region at offset %d", offset))
	}
	base, slack := pageAlign(offset)
	length := size + slack

	window, err := mapWindow(img.File, int64(base), int(length))
	if err != nil {
		return nil, jigerr.New(jigerr.IO, "imagelayout.MapRange", err)
	}

	return &MappedRange{window: window, pageOffset: slack, file: img.File, base: base}, nil
}

// ScatterWrite copies a Data entry's verbatim bytes into the image at its
// recorded offset, via a page-aligned mapped window, followed by an async
// msync and unmap.
func (img *Image) ScatterWrite(offset uint64, data []byte) error {
	if len(data) == 0 {
		return jigerr.New(jigerr.Format, "imagelayout.ScatterWrite",
			fmt.Errorf("refusing to scatter-write a zero-length region at offset %d", offset))
	}

	mr, err := img.MapRange(offset, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(mr.Region(), data)
	if err := mr.Sync(true); err != nil {
		mr.Unmap()
		return jigerr.New(jigerr.IO, "imagelayout.ScatterWrite", err)
	}
	return mr.Unmap()
}
