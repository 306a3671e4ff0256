package reconstruct

import (
	"context"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jigimage/jigimage/pkg/md5hash"
	"github.com/jigimage/jigimage/pkg/resolver"
	"github.com/jigimage/jigimage/pkg/template"
)

// setupConcurrency bounds how many of the two setup passes' per-file hash
// checks run at once; both passes are I/O-bound stat/hash operations
// independent across files, so this is a straightforward bounded fan-out.
const setupConcurrency = 32

// markLocalCopies implements setup step 2: for each FileEntry whose MD5
// resolves to a manifest FileRef with a matching local directory, mark it
// LocalCopy so the scheduler treats the local path as this entry's first
// source on the next assignment. Candidates are checked concurrently since
// each is an independent stat-and-hash of a local file.
func (r *Reconstructor) markLocalCopies() {
	sem := semaphore.NewWeighted(setupConcurrency)
	g, ctx := errgroup.WithContext(context.Background())

	for _, f := range r.Table.Files {
		f := f
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			r.resolveLocalCopy(f)
			return nil
		})
	}
	_ = g.Wait() // resolveLocalCopy never returns an error; this just joins
}

func (r *Reconstructor) resolveLocalCopy(f *template.FileEntry) {
	for _, ref := range resolver.FindByMD5(r.Manifest, f.MD5) {
		dir, err := resolver.ResolveLocal(r.Manifest, ref)
		if err != nil || dir == "" {
			continue
		}
		ref.LocalDir = dir
		r.tableMu.Lock()
		f.Status = template.LocalCopy
		r.tableMu.Unlock()
		return
	}
}

// verifyResume implements setup step 3: for an existing output file,
// re-hash each FileEntry's on-disk byte range and mark it Complete when it
// already matches, so a second run over the same file performs no fetches.
// LocalCopy-flagged entries are skipped: their bytes are not yet in the
// image file. Ranges are independent, so the hashing fans out the same way
// markLocalCopies does.
func (r *Reconstructor) verifyResume() error {
	sem := semaphore.NewWeighted(setupConcurrency)
	g, ctx := errgroup.WithContext(context.Background())

	var alreadyComplete int64

	for _, f := range r.Table.Files {
		f := f
		if f.Status == template.LocalCopy {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			got := md5hash.SumReaderAt(r.Image.File, int64(f.Offset), int64(f.Size))
			if got.Equal(f.MD5) {
				r.tableMu.Lock()
				f.Status = template.Complete
				r.tableMu.Unlock()
				atomic.AddInt64(&alreadyComplete, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"verified_complete": atomic.LoadInt64(&alreadyComplete),
		"total_files":       len(r.Table.Files),
	}).Info("resume verification finished")
	return nil
}
