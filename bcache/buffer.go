// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package bcache

// Buffer is an owned, cluster-sized heap region (spec.md section 3). A
// Buffer can be shared read-only via Snapshot, which hands the write-back
// task an immutable view that may outlive later mutations: a mutator that
// finds its buffer still shared clones before writing (EnsureUnique),
// matching the clone-on-write discipline spec.md section 9 calls out.
type Buffer struct {
	data     []byte
	snapshot *Snapshot // non-nil while a live read-only view exists
}

// Snapshot is an immutable view of a Buffer's bytes at the moment it was
// taken, safe to hand to a concurrent device write.
type Snapshot struct {
	data []byte
}

// Bytes returns the snapshotted bytes. Callers must not mutate them.
func (s *Snapshot) Bytes() []byte {
	return s.data
}

// NewBuffer allocates a zero-filled buffer of the given size. An allocation
// failure in a constrained environment maps to ferr.NoBuffers at the
// caller; here make never fails short of an OOM panic, matching how the
// rest of the Go ecosystem treats allocation failure.
func NewBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// Bytes returns the buffer's backing slice for read or write access. The
// caller must call EnsureUnique first if a concurrent snapshot might still
// be alive and the access is a write.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Snapshot returns (creating if necessary) an immutable view of the
// buffer's current contents, for the write-back task to read concurrently
// with further mutation. The view shares the buffer's backing array rather
// than copying it; EnsureUnique is what makes the share safe, by cloning
// before the next write lands.
func (b *Buffer) Snapshot() *Snapshot {
	if b.snapshot == nil {
		b.snapshot = &Snapshot{data: b.data}
	}
	return b.snapshot
}

// EnsureUnique clones the backing storage if a snapshot of it is still
// live, so that a subsequent write cannot be observed by that snapshot's
// reader. It is a no-op once no snapshot is outstanding.
func (b *Buffer) EnsureUnique() {
	if b.snapshot == nil {
		return
	}
	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	b.data = cp
	b.snapshot = nil
}

// ClearSnapshot drops any outstanding snapshot reference once the write-back task
// reports it has finished reading (the snapshot's own slice stays valid
// for whoever still holds it; only the buffer's linkage to it goes away).
func (b *Buffer) ClearSnapshot() {
	b.snapshot = nil
}
