package reconstruct

// WorkerProgress is a snapshot of one worker slot's current assignment,
// safe to read without racing the scheduler.
type WorkerProgress struct {
	SlotID       int
	URI          string
	BytesFetched int64
	TotalSize    uint64
	Idle         bool
}

// Snapshot reads every worker slot's current state under workerMu, the
// lock dedicated to this purpose so a signal-driven reporter blocks a
// worker's own progress update only while it copies the slot fields.
func (r *Reconstructor) Snapshot() []WorkerProgress {
	r.workerMu.RLock()
	defer r.workerMu.RUnlock()

	out := make([]WorkerProgress, len(r.slots))
	for i, s := range r.slots {
		if s.currentFile == nil {
			out[i] = WorkerProgress{SlotID: s.id, Idle: true}
			continue
		}
		out[i] = WorkerProgress{
			SlotID:       s.id,
			URI:          s.currentURI,
			BytesFetched: s.bytesFetched,
			TotalSize:    s.currentFile.Size,
		}
	}
	return out
}
