package reconstruct

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/jigimage/jigimage/pkg/jigerr"
	"github.com/jigimage/jigimage/pkg/md5hash"
	"github.com/jigimage/jigimage/pkg/resolver"
	"github.com/jigimage/jigimage/pkg/template"
)

// runWorker executes one assignment end to end, per §4.F/G's per-file job:
// transition to InProgress, resolve a source, map the destination range,
// fetch, verify, and transition to a terminal or re-eligible state.
func (r *Reconstructor) runWorker(s *slot, entry *template.FileEntry) {
	r.tableMu.Lock()
	entry.Status = template.InProgress
	r.tableMu.Unlock()

	ref, rs, uri, mirror, err := r.resolveAssignment(entry)
	if err != nil {
		log.WithFields(log.Fields{"md5": entry.MD5, "offset": entry.Offset}).
			WithError(err).Warn("no source could be resolved, giving up on this entry")
		r.fail(entry, template.FatalError)
		return
	}

	r.workerMu.Lock()
	s.currentURI = uri
	r.workerMu.Unlock()

	mr, err := r.Image.MapRange(entry.Offset, entry.Size)
	if err != nil {
		r.fail(entry, template.FatalError)
		return
	}

	dst := mr.Region()
	onProgress := func(n int) {
		r.workerMu.Lock()
		s.bytesFetched = int64(n)
		r.workerMu.Unlock()
	}

	n, fetchErr := r.Fetcher.Fetch(context.Background(), uri, dst, onProgress)
	if fetchErr != nil || n != len(dst) {
		mr.Unmap()
		log.WithFields(log.Fields{"uri": uri, "bytes": n, "want": len(dst)}).
			WithError(fetchErr).Warn("fetch failed, entry returns to the eligible pool")
		r.recordFailure(entry, rs, mirror)
		return
	}

	got := md5hash.SumBytes(dst)
	if !got.Equal(entry.MD5) {
		mr.Unmap()
		log.WithFields(log.Fields{"uri": uri, "want": entry.MD5, "got": got}).
			Warn("checksum mismatch on fetched chunk")
		r.recordFailure(entry, rs, mirror)
		return
	}

	// An async msync suffices here: the image's final synchronous flush
	// happens once in imagelayout.Image.Close, per §5's concurrency model.
	if err := mr.Sync(true); err != nil {
		mr.Unmap()
		r.fail(entry, template.FatalError)
		return
	}
	if err := mr.Unmap(); err != nil {
		r.fail(entry, template.FatalError)
		return
	}

	r.tableMu.Lock()
	entry.Status = template.Complete
	r.tableMu.Unlock()
}

// resolveAssignment picks a FileRef and a source URI for entry, honoring
// the per-entry mirror-exclusion set so repeated failures cycle through
// mirrors instead of retrying the one that just failed.
func (r *Reconstructor) resolveAssignment(entry *template.FileEntry) (ref *resolver.FileRef, rs *retryState, uri string, mirror string, err error) {
	matches := resolver.FindByMD5(r.Manifest, entry.MD5)
	if len(matches) == 0 {
		return nil, nil, "", "", jigerr.New(jigerr.Resolver, "reconstruct.resolveAssignment",
			fmt.Errorf("no manifest entry for md5 %s", entry.MD5))
	}
	// Duplicate MD5s may resolve to several FileRefs; prefer whichever one
	// markLocalCopies already verified on disk, mirroring resolveLocalCopy.
	ref = matches[0]
	for _, m := range matches {
		if m.LocalDir != "" {
			ref = m
			break
		}
	}

	r.tableMu.Lock()
	rs = r.retries[entry]
	if rs == nil {
		rs = &retryState{triedMirrors: make(map[string]bool)}
		r.retries[entry] = rs
	}
	r.tableMu.Unlock()

	if ref.LocalDir != "" {
		uri, err = resolver.SelectSource(r.Manifest, ref, r.opts.RandIndex)
		return ref, rs, uri, "", err
	}

	server, ok := r.Manifest.Servers[ref.ServerRef]
	if !ok {
		return ref, rs, "", "", jigerr.New(jigerr.Resolver, "reconstruct.resolveAssignment",
			fmt.Errorf("unknown server %q", ref.ServerRef))
	}

	remaining := excludeTried(server.RemoteMirrors, rs.triedMirrors)
	if len(remaining) == 0 {
		// every mirror has already failed at least once this reconstruction;
		// reset the blacklist and try the full set again.
		rs.triedMirrors = make(map[string]bool)
		remaining = server.RemoteMirrors
	}
	if len(remaining) == 0 {
		return ref, rs, "", "", jigerr.New(jigerr.Resolver, "reconstruct.resolveAssignment",
			fmt.Errorf("server %q has no remote mirrors", ref.ServerRef))
	}

	idx := r.opts.RandIndex(len(remaining))
	chosen := remaining[idx]
	uri = resolver.JoinMirrorPath(chosen, ref.RelativePath)
	return ref, rs, uri, chosen, nil
}

func excludeTried(mirrors []string, tried map[string]bool) []string {
	out := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		if !tried[m] {
			out = append(out, m)
		}
	}
	return out
}

// recordFailure marks the mirror used for this attempt as tried, bumps the
// attempt counter, and transitions entry to Error (re-eligible) or
// FatalError once MaxAttempts is exhausted.
func (r *Reconstructor) recordFailure(entry *template.FileEntry, rs *retryState, mirror string) {
	r.tableMu.Lock()
	defer r.tableMu.Unlock()

	if mirror != "" {
		rs.triedMirrors[mirror] = true
	}
	rs.attempts++

	if rs.attempts >= r.opts.MaxAttempts {
		log.WithFields(log.Fields{"md5": entry.MD5, "attempts": rs.attempts}).
			Error("entry exhausted its retry budget, marking FatalError")
		entry.Status = template.FatalError
		return
	}
	entry.Status = template.Error
}

func (r *Reconstructor) fail(entry *template.FileEntry, status template.Status) {
	r.tableMu.Lock()
	entry.Status = status
	r.tableMu.Unlock()
}
