// Package reconstruct implements the Scheduler and Worker: the pfetch
// entry point that drives concurrent fetches of a manifest's component
// files into the correct offsets of an in-place image file.
package reconstruct

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jigimage/jigimage/pkg/fetch"
	"github.com/jigimage/jigimage/pkg/imagelayout"
	"github.com/jigimage/jigimage/pkg/jigerr"
	"github.com/jigimage/jigimage/pkg/md5hash"
	"github.com/jigimage/jigimage/pkg/resolver"
	"github.com/jigimage/jigimage/pkg/template"
)

// Reconstructor owns a DescTable for the lifetime of one reconstruction; it
// is not safe to reuse across two calls to Run.
type Reconstructor struct {
	Image    *imagelayout.Image
	Manifest *resolver.Manifest
	Table    *template.DescTable
	Fetcher  fetch.Fetcher

	opts Options

	tableMu sync.Mutex // guards every FileEntry.Status and the retry state below
	retries map[*template.FileEntry]*retryState

	workerMu sync.RWMutex // guards slots, read by the progress reporter
	slots    []*slot
}

type retryState struct {
	attempts     int
	triedMirrors map[string]bool
}

// slot is the scheduler-owned record of one worker's current assignment,
// per §3's WorkerSlot. Reads for progress reporting go through
// Reconstructor.workerMu; writes happen only from the scheduler goroutine
// and the worker goroutine it spawned, serialized by done-channel handoff.
type slot struct {
	id           int
	currentFile  *template.FileEntry
	currentURI   string
	bytesFetched int64
	done         chan struct{}
}

// New builds a Reconstructor over an already-decoded DescTable and an
// already-opened Image.
func New(img *imagelayout.Image, manifest *resolver.Manifest, table *template.DescTable, fetcher fetch.Fetcher, opts ...Option) *Reconstructor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.RandIndex == nil {
		o.RandIndex = rand.Intn
	}

	r := &Reconstructor{
		Image:    img,
		Manifest: manifest,
		Table:    table,
		Fetcher:  fetcher,
		opts:     o,
		retries:  make(map[*template.FileEntry]*retryState),
	}
	r.slots = make([]*slot, o.WorkerCount)
	for i := range r.slots {
		r.slots[i] = &slot{id: i}
	}
	return r
}

// Run executes the full pfetch sequence: mark local copies, optionally
// verify resume, then loop assigning eligible files to worker slots until
// every entry reaches a terminal state, and finally verify the whole
// image's MD5 against ImageInfo.MD5.
func (r *Reconstructor) Run() (bool, error) {
	log.WithFields(log.Fields{"files": len(r.Table.Files), "workers": r.opts.WorkerCount}).
		Info("starting reconstruction")

	r.markLocalCopies()

	if r.Image.Existing {
		if err := r.verifyResume(); err != nil {
			return false, err
		}
	}

	sortFilesDescendingSize(r.Table.Files)

	for {
		remain := r.partsRemain()
		if remain == 0 {
			break
		}
		if remain < 0 {
			log.Error("a file entry reached FatalError, aborting reconstruction")
			r.joinAllSlots()
			return false, jigerr.New(jigerr.Format, "reconstruct.Run",
				fmt.Errorf("reconstruction aborted: a file entry reached FatalError"))
		}

		for _, s := range r.slots {
			if s.currentFile != nil {
				select {
				case <-s.done:
					r.workerMu.Lock()
					s.currentFile = nil
					s.currentURI = ""
					s.bytesFetched = 0
					r.workerMu.Unlock()
				default:
					continue
				}
			}

			entry := r.pickEligible()
			if entry == nil {
				continue
			}
			r.startWorker(s, entry)
		}

		time.Sleep(r.opts.PollInterval)
	}

	r.joinAllSlots()

	return r.verifyWholeImage()
}

// joinAllSlots waits for every still-running worker to finish.
func (r *Reconstructor) joinAllSlots() {
	for _, s := range r.slots {
		if s.currentFile != nil {
			<-s.done
		}
	}
}

// partsRemain returns 0 if every FileEntry is Complete, a negative number
// if any entry has reached FatalError, and a positive count of entries
// still short of a terminal state otherwise.
func (r *Reconstructor) partsRemain() int {
	r.tableMu.Lock()
	defer r.tableMu.Unlock()

	remain := 0
	for _, f := range r.Table.Files {
		switch f.Status {
		case template.FatalError:
			return -1
		case template.Complete:
			// terminal, nothing to do
		default:
			remain++
		}
	}
	return remain
}

// pickEligible atomically finds an eligible FileEntry and transitions it to
// Assigned, under the table lock, per §4.F's compound
// eligibility-check-and-transition requirement.
func (r *Reconstructor) pickEligible() *template.FileEntry {
	r.tableMu.Lock()
	defer r.tableMu.Unlock()

	for _, f := range r.Table.Files {
		if f.Status.Eligible() {
			f.Status = template.Assigned
			return f
		}
	}
	return nil
}

// startWorker spawns a goroutine to run one assignment and wires its
// completion to s.done.
func (r *Reconstructor) startWorker(s *slot, entry *template.FileEntry) {
	r.workerMu.Lock()
	s.currentFile = entry
	s.currentURI = ""
	s.bytesFetched = 0
	s.done = make(chan struct{})
	r.workerMu.Unlock()

	go func() {
		r.runWorker(s, entry)
		close(s.done)
	}()
}

// sortFilesDescendingSize implements the recommended (not mandatory)
// scheduling policy: largest files first, to maximize concurrency on long
// tails of small files.
func sortFilesDescendingSize(files []*template.FileEntry) {
	for i := 1; i < len(files); i++ {
		for j := i; j > 0 && files[j].Size > files[j-1].Size; j-- {
			files[j], files[j-1] = files[j-1], files[j]
		}
	}
}

// wholeFileMD5 hashes the entire image file.
func (r *Reconstructor) wholeFileMD5() md5hash.Digest {
	return md5hash.SumReaderAt(r.Image.File, 0, int64(r.Image.Size))
}

func (r *Reconstructor) verifyWholeImage() (bool, error) {
	got := r.wholeFileMD5()
	want := r.Table.ImageInfo.MD5
	ok := got.Equal(want)
	if ok {
		log.WithField("md5", got).Info("whole-image checksum verified")
	} else {
		log.WithFields(log.Fields{"want": want, "got": got}).
			Error("whole-image checksum mismatch")
	}
	return ok, nil
}
