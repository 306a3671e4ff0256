package template

import "github.com/jigimage/jigimage/pkg/md5hash"

// EntryBase carries the fields common to every DESC entry: its assigned
// image offset, computed by the decoder as a running sum of predecessor
// sizes rather than stored in the file itself.
type EntryBase struct {
	Offset uint64
	Size   uint64
}

// Entry is the sealed sum type over the three DESC record variants. Only
// ImageInfoEntry, DataEntry, and FileEntry implement it.
type Entry interface {
	entryBase() EntryBase
	isEntry()
}

// ImageInfoEntry is the terminal summary record closing a DESC table.
type ImageInfoEntry struct {
	EntryBase
	MD5             md5hash.Digest
	Rsync64BlockLen uint32 // 0 for the legacy (type-1) form
}

func (e ImageInfoEntry) entryBase() EntryBase { return e.EntryBase }
func (ImageInfoEntry) isEntry()               {}

// DataEntry marks a verbatim region supplied by the compressed inner
// stream; it carries no identity beyond its offset and size.
type DataEntry struct {
	EntryBase
}

func (e DataEntry) entryBase() EntryBase { return e.EntryBase }
func (DataEntry) isEntry()               {}

// Status is the CommitStatus state machine driving a FileEntry through
// reconstruction: NotStarted -> Assigned -> InProgress -> {Complete, Error},
// plus the LocalCopy pre-verified state and the terminal, non-retryable
// FatalError state.
type Status int32

const (
	NotStarted Status = iota
	Assigned
	InProgress
	Complete
	Error
	LocalCopy
	FatalError
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Assigned:
		return "Assigned"
	case InProgress:
		return "InProgress"
	case Complete:
		return "Complete"
	case Error:
		return "Error"
	case LocalCopy:
		return "LocalCopy"
	case FatalError:
		return "FatalError"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is a state the scheduler will never transition
// out of.
func (s Status) Terminal() bool {
	return s == Complete || s == FatalError
}

// Eligible reports whether an entry in this status may be picked up by the
// scheduler for a new assignment.
func (s Status) Eligible() bool {
	return s == NotStarted || s == Error || s == LocalCopy
}

// FileEntry is a component file to fetch, identified by MD5. Its relative
// path and server are not recorded here: the DESC table only ever carries
// size, offset, and MD5, and the scheduler resolves a path/server pair by
// looking the MD5 up in the Manifest (see pkg/resolver). The scheduler and
// workers mutate Status in place (always while holding the
// reconstructor's table lock), so FileEntry values are always handled through a
// pointer once placed in a DescTable.
type FileEntry struct {
	EntryBase
	MD5            md5hash.Digest
	Rsync64Initial uint64 // 0 for the legacy (type-3) form

	Status Status
}

func (e *FileEntry) entryBase() EntryBase { return e.EntryBase }
func (*FileEntry) isEntry()               {}

// DescTable is the fully parsed DESC table, split by variant for convenient
// consumption by ImageLayout and the scheduler.
type DescTable struct {
	ImageInfo ImageInfoEntry
	Data      []DataEntry
	Files     []*FileEntry
}

// TotalSize returns the target image length as recorded by ImageInfo.
func (t *DescTable) TotalSize() uint64 {
	return t.ImageInfo.Size
}
