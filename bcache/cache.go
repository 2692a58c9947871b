// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

// Package bcache implements the block cache (spec.md section 4.2): a
// cluster-id-indexed cache of owned page-sized buffers with LRU
// replacement via a monotonic access id, a clean/dirty/sync_pending triad,
// and a write-back task that drains dirty entries to the device.
package bcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/jacobsa/fat32fs/blockdev"
	"github.com/jacobsa/fat32fs/cid"
	"github.com/jacobsa/fat32fs/ferr"
	"github.com/jacobsa/reqtrace"
)

// Options configures a Cache's capacity and write-back concurrency.
type Options struct {
	// Capacity is the maximum number of cached clusters.
	Capacity int

	// DirtyCapacity bounds the dirty semaphore; it must be strictly less
	// than Capacity so eviction always has somewhere to make progress
	// (spec.md section 4.2 / invariant 2 in section 8).
	DirtyCapacity int

	// WriteBackConcurrency bounds how many device writes the write-back
	// task issues at once.
	WriteBackConcurrency int
}

// Cache is the block cache described by spec.md section 4.2.
type Cache struct {
	device               blockdev.Device
	dataSectorStart      cid.SID
	sectorPerClusterLog2 uint
	clusterBytes         int
	maxCID               cid.CID

	aidAlloc cid.AIDAllocator
	dirtySem *semaphore
	wbSem    *semaphore

	mu          sync.Mutex // the control block; never held across a device I/O or channel wait
	search      map[cid.CID]*CacheBlock
	clean       cleanIndex
	dirty       map[cid.CID]*CacheBlock
	syncPending map[cid.CID]struct{}
	closed      bool

	capacity int
	notify   chan struct{} // buffered 1; signaled whenever syncPending becomes non-empty
}

// New constructs a Cache over dev. sectorOfCluster-relevant geometry is
// supplied directly (callers are fat32.Mount, which has already parsed the
// BPB).
func New(dev blockdev.Device, dataSectorStart cid.SID, sectorPerClusterLog2 uint, clusterBytes int, maxCID cid.CID, opts Options) *Cache {
	if opts.WriteBackConcurrency <= 0 {
		opts.WriteBackConcurrency = 1
	}
	return &Cache{
		device:               dev,
		dataSectorStart:      dataSectorStart,
		sectorPerClusterLog2: sectorPerClusterLog2,
		clusterBytes:         clusterBytes,
		maxCID:               maxCID,
		dirtySem:             newSemaphore(opts.DirtyCapacity),
		wbSem:                newSemaphore(opts.WriteBackConcurrency),
		search:               make(map[cid.CID]*CacheBlock),
		dirty:                make(map[cid.CID]*CacheBlock),
		syncPending:          make(map[cid.CID]struct{}),
		capacity:             opts.Capacity,
		notify:               make(chan struct{}, 1),
	}
}

func (c *Cache) sectorOf(cl cid.CID) uint32 {
	return uint32(cid.SectorOfCluster(c.dataSectorStart, c.sectorPerClusterLog2, cl))
}

// GetBlock returns a shared handle on cl, loading it from the device if
// absent. If the cache is full it evicts the least-recently-touched clean
// victim first.
func (c *Cache) GetBlock(ctx context.Context, cl cid.CID) (*CacheRef, error) {
	return c.getBlock(ctx, cl, nil)
}

// GetBlockInit returns a handle on cl without reading the device, filling
// a fresh buffer with initFn instead (used when creating a brand-new
// cluster, e.g. a freshly allocated directory cluster that is about to be
// zero-initialized).
func (c *Cache) GetBlockInit(ctx context.Context, cl cid.CID, initFn func([]byte)) (*CacheRef, error) {
	return c.getBlock(ctx, cl, initFn)
}

func (c *Cache) getBlock(ctx context.Context, cl cid.CID, initFn func([]byte)) (*CacheRef, error) {
	c.mu.Lock()
	if b, ok := c.search[cl]; ok {
		b.addRef()
		b.setAID(c.aidAlloc.Alloc())
		c.mu.Unlock()
		ref := &CacheRef{block: b}
		if err := c.ensureLoaded(ctx, b, initFn); err != nil {
			ref.Release()
			return nil, err
		}
		return ref, nil
	}

	b, err := c.admit(cl)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	b.addRef()
	c.mu.Unlock()

	ref := &CacheRef{block: b}
	if err := c.ensureLoaded(ctx, b, initFn); err != nil {
		ref.Release()
		return nil, err
	}
	return ref, nil
}

// admit inserts a fresh CacheBlock for cl into search+clean, evicting an
// LRU victim first if the cache is at capacity. Caller holds c.mu.
func (c *Cache) admit(cl cid.CID) (*CacheBlock, error) {
	if len(c.search) >= c.capacity {
		if err := c.evictOne(); err != nil {
			return nil, err
		}
	}
	b := newCacheBlock(cl, c.clusterBytes)
	aid := c.aidAlloc.Alloc()
	b.setAID(aid)
	c.search[cl] = b
	c.clean.insert(aid, cl)
	return b, nil
}

// evictOne scans clean in AID order, skipping stale entries (whose
// recorded AID no longer matches the block, meaning it was touched again)
// and blocks with outstanding references, stopping once the scan has
// circled back past a marker taken at the start (spec.md section 4.2).
// Caller holds c.mu.
func (c *Cache) evictOne() error {
	if c.clean.empty() {
		return ferr.New("bcache.evictOne", ferr.NoBuffers)
	}
	searchMax := c.aidAlloc.Alloc()
	for {
		entry, ok := c.clean.popMin()
		if !ok {
			return ferr.New("bcache.evictOne", ferr.NoBuffers)
		}
		if entry.aid > searchMax {
			return ferr.New("bcache.evictOne", ferr.NoBuffers)
		}
		b, present := c.search[entry.cid]
		if !present {
			continue
		}
		if b.AID() != entry.aid {
			// Stale: touched since being indexed. Reinsert under its
			// current AID and keep scanning.
			c.clean.insert(b.AID(), entry.cid)
			continue
		}
		if b.RefCount() != 0 {
			// A current user holds it; reinsert and keep scanning.
			aid := c.aidAlloc.Alloc()
			b.setAID(aid)
			c.clean.insert(aid, entry.cid)
			continue
		}
		delete(c.search, entry.cid)
		return nil
	}
}

func (c *Cache) ensureLoaded(ctx context.Context, b *CacheBlock, initFn func([]byte)) error {
	g, err := b.inner.Lock(ctx)
	if err != nil {
		return err
	}
	defer g.Unlock()

	st := g.Value()
	if st.status.readable() {
		return nil
	}
	if initFn != nil {
		initFn(st.buffer.Bytes())
		st.status = Clean
		return nil
	}
	if err := c.device.ReadBlock(ctx, c.sectorOf(b.CID), st.buffer.Bytes()); err != nil {
		return ferr.Wrap("bcache.ensureLoaded", ferr.IoError, err)
	}
	st.status = Clean
	return nil
}

// WriteBlock acquires the exclusive buffer for cl via ref, runs op against
// it, marks the block dirty, and hands the resulting write-back permit to
// the dirty semaphore.
func (c *Cache) WriteBlock(ctx context.Context, ref *CacheRef, op func(buf []byte)) error {
	b := ref.block
	g, err := b.inner.Lock(ctx)
	if err != nil {
		return err
	}
	st := g.Value()
	if !st.status.readable() {
		if err := c.loadLocked(ctx, b, st); err != nil {
			g.Unlock()
			return err
		}
	}
	st.buffer.EnsureUnique()
	op(st.buffer.Bytes())
	st.status = Dirty
	g.Unlock()

	return c.markDirty(ctx, b)
}

func (c *Cache) loadLocked(ctx context.Context, b *CacheBlock, st *blockState) error {
	if err := c.device.ReadBlock(ctx, c.sectorOf(b.CID), st.buffer.Bytes()); err != nil {
		return ferr.Wrap("bcache.loadLocked", ferr.IoError, err)
	}
	st.status = Clean
	return nil
}

// markDirty moves b from clean into dirty (consuming a dirty-semaphore
// permit) the first time, or simply re-inserts it into sync_pending on
// subsequent writes while it is already dirty.
func (c *Cache) markDirty(ctx context.Context, b *CacheBlock) error {
	c.mu.Lock()
	if _, inDirty := c.dirty[b.CID]; inDirty {
		c.syncPending[b.CID] = struct{}{}
		c.mu.Unlock()
		c.signal()
		return nil
	}
	c.mu.Unlock()

	// Not yet in dirty: take a permit outside the lock (it may need to
	// wait for eviction-driven write-back to free one up), then record it.
	if err := c.dirtySem.Take(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.clean.remove(b.CID)
	c.dirty[b.CID] = b
	c.syncPending[b.CID] = struct{}{}
	c.mu.Unlock()
	c.signal()
	return nil
}

func (c *Cache) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// ReleaseBlock removes cl from the cache entirely and cancels any pending
// sync for it. Used when a file's cluster chain is being freed and its
// cached clusters must not be written back.
func (c *Cache) ReleaseBlock(cl cid.CID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.search, cl)
	delete(c.syncPending, cl)
	delete(c.dirty, cl)
	c.clean.remove(cl)
}

// RunWriteBack drains sync_pending to the device until ctx is done or the
// cache is closed. It is meant to be started once per volume by the
// spawner injected at mount time (spec.md section 4.8).
func (c *Cache) RunWriteBack(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.notify:
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		pending := make([]cid.CID, 0, len(c.syncPending))
		for cl := range c.syncPending {
			pending = append(pending, cl)
		}
		c.syncPending = make(map[cid.CID]struct{})
		c.mu.Unlock()

		if len(pending) == 0 {
			continue
		}
		c.drain(ctx, pending)
	}
}

func (c *Cache) drain(ctx context.Context, pending []cid.CID) {
	var wg sync.WaitGroup
	for _, cl := range pending {
		cl := cl
		c.wbSem.slots <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-c.wbSem.slots }()
			c.writeBackOne(ctx, cl)
		}()
	}
	wg.Wait()
}

func (c *Cache) writeBackOne(ctx context.Context, cl cid.CID) {
	c.mu.Lock()
	b, ok := c.dirty[cl]
	c.mu.Unlock()
	if !ok {
		return
	}

	var traceErr error
	ctx, report := reqtrace.StartSpan(ctx, fmt.Sprintf("bcache write-back of cluster %d", cl))
	defer func() { report(traceErr) }()

	g, err := b.inner.Lock(ctx)
	if err != nil {
		traceErr = err
		return
	}
	snap := g.Value().buffer.Snapshot()
	g.Unlock()

	if err := c.device.WriteBlock(ctx, c.sectorOf(cl), snap.Bytes()); err != nil {
		// Device errors are not retried by the cache (spec.md section 4.2):
		// the block stays in dirty and is written again only once a later
		// WriteBlock re-queues it into syncPending.
		traceErr = err
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, stillRedirtied := c.syncPending[cl]; stillRedirtied {
		// Re-dirtied while we were writing; leave it in dirty for the next
		// drain rather than returning it to clean.
		return
	}
	delete(c.dirty, cl)
	aid := c.aidAlloc.Alloc()
	b.setAID(aid)
	c.clean.insert(aid, cl)
	c.dirtySem.Release()

	g2, err := b.inner.Lock(ctx)
	if err == nil {
		g2.Value().status = Clean
		g2.Value().buffer.ClearSnapshot()
		g2.Unlock()
	}
}

// Close marks the cache as closing: RunWriteBack observes this and
// terminates instead of draining further. Callers (fat32.FS.Close) must
// ensure the write-back goroutine has actually exited before relying on
// this, per spec.md section 5's close-ordering requirement.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.signal()
}

// Stats reports the number of clean and dirty entries, used by tests
// asserting invariants 1 and 2 from spec.md section 8.
func (c *Cache) Stats() (clean, dirty int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clean.len(), len(c.dirty)
}
