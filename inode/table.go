// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package inode

import (
	"sync"

	"github.com/jacobsa/fat32fs/cid"
	"github.com/jacobsa/fat32fs/direntry"
	"github.com/jacobsa/fat32fs/rwsleep"
)

// Place locates one directory entry: the cluster index within the
// directory, the cluster id and the in-cluster offset (ClusterOff/Cid/
// EntryOff). An entry run is described by two Places, the first entry of
// its long-name run and the short entry itself (Cache.entryStart and
// Cache.entry), which are equal for a run with no long-name fragments.
// Mirrors EntryPlace in the source this was ported from.
type Place struct {
	ClusterOff int
	Cid        cid.CID
	EntryOff   int
}

// RootPlace is the reserved location of the volume root, which has no
// parent directory entry of its own.
var RootPlace = Place{ClusterOff: 0, Cid: cid.Free, EntryOff: 0}

// Location is the table key: the short entry's own position. Two
// directory entries never share a (Cid, EntryOff) pair, so it uniquely
// identifies a live file or directory (spec.md section 4.4's "IID").
type Location struct {
	Cid      cid.CID
	EntryOff int
}

func (p Place) Location() Location { return Location{Cid: p.Cid, EntryOff: p.EntryOff} }

// Cache is the cached FAT-chain-and-short-entry state for one open file or
// directory (spec.md section 4.4's InodeCache). All fields are guarded by
// mu; a Cache is reachable only through a Table, which hands out shared
// pointers to it.
type Cache struct {
	mu sync.RWMutex

	aidAlloc *cid.AIDAllocator
	aid      cid.AID

	table   *Table
	manager *Manager

	// Entry location within the parent directory. Place{} (zero value,
	// Cid == cid.Free) identifies the root, which has no entry of its own.
	entryStart Place // first entry of the long-name run, or == entry if none
	entry      Place // the short entry itself

	cidList     []cid.CID
	cidStart    cid.CID
	almostOff   int
	almostCID   cid.CID
	lenKnown    bool
	len         int
	short       direntry.Short

	detached bool
	openRefs int32

	// opLock serializes directory-mutating operations and file reads
	// against file writes (spec.md section 4.1/4.4): directory create/
	// delete and every file write take it exclusively, a
	// file's read takes it shared. It guards the on-disk entry run and
	// cluster chain, not the in-memory fields above (those stay under
	// mu), mirroring how RawInode is wrapped in an RwSleepMutex in the
	// source this was ported from while InodeCacheInner's own fields
	// have their own finer-grained lock.
	opLock *rwsleep.Mutex[struct{}]
}

func newCacheInner(short direntry.Short, entryStart, entry Place, aidAlloc *cid.AIDAllocator) *Cache {
	c := &Cache{
		aidAlloc:   aidAlloc,
		entryStart: entryStart,
		entry:      entry,
		short:      short,
		cidStart:   short.Cluster,
		almostCID:  short.Cluster,
		opLock:     rwsleep.New(struct{}{}),
	}
	if short.Cluster.IsNext() {
		c.cidList = []cid.CID{short.Cluster}
	} else {
		c.lenKnown = true
		c.len = 0
	}
	return c
}

// Attr returns the entry's attribute byte.
func (c *Cache) Attr() direntry.Attr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.short.Attr
}

// FileBytes returns the cached file size.
func (c *Cache) FileBytes() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.short.FileSize
}

// Entry returns the short entry's current in-memory contents and its
// on-disk location, for short_entry_sync to write back.
func (c *Cache) Entry() (Place, direntry.Short) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entry, c.short
}

func (c *Cache) updateFileBytes(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.short.FileSize = n
}

// Table is the process-wide (per-mount) map from a directory entry's
// on-disk location to its live Cache, the spec.md section 4.4 "global IID
// → weak(InodeCache) map". Entries are explicitly reference-counted rather
// than held behind a weak pointer (see DESIGN.md's open-question note):
// the last Release drops the entry from the table immediately rather than
// waiting on a GC-visible weak upgrade failure, which is the Go-idiomatic
// equivalent of the original's Weak-based eviction.
type Table struct {
	mu       sync.Mutex
	entries  map[Location]*Cache
	aidAlloc cid.AIDAllocator
}

// NewTable constructs an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[Location]*Cache)}
}

// GetOrInsert returns the live Cache at loc, constructing one via make and
// registering it if absent. The returned Cache carries one reference that
// the caller must eventually Release.
func (t *Table) GetOrInsert(loc Location, mgr *Manager, make func() (direntry.Short, Place, Place)) *Cache {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.entries[loc]; ok {
		c.openRefs++
		return c
	}
	short, start, entry := make()
	c := newCacheInner(short, start, entry, &t.aidAlloc)
	c.table = t
	c.manager = mgr
	c.openRefs = 1
	t.entries[loc] = c
	return c
}

// Release drops one reference to the Cache at loc, removing it from the
// table once no references remain. If the last reference to a detached
// node is released, its cluster chain is handed to the manager's async
// free task (spec.md section 4.4's detach-then-free-on-last-close rule).
func (t *Table) Release(c *Cache) {
	t.mu.Lock()
	c.openRefs--
	done := c.openRefs <= 0
	if done {
		delete(t.entries, c.entry.Location())
	}
	t.mu.Unlock()

	if !done {
		return
	}
	c.mu.RLock()
	detached, start := c.detached, c.cidStart
	c.mu.RUnlock()
	if detached && start.IsNext() && c.manager != nil {
		c.manager.spawnFreeChain(start)
	}
}

// CheckUnused reports whether loc is free of open handles (false if any
// open handle references it), used by delete_dir/delete_file's EBUSY check (spec.md section
// 4.5 step 3).
func (t *Table) CheckUnused(loc Location) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.entries[loc]
	return !ok || c.openRefs == 0
}

// Forget removes loc from the table outright, used by detach_file/
// detach_dir once a file has been unlinked: its cache node becomes
// standalone and must never be looked up by its old location again.
func (t *Table) Forget(loc Location) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, loc)
}
