// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package bcache

import (
	"context"
	"sync/atomic"

	"github.com/jacobsa/fat32fs/cid"
	"github.com/jacobsa/fat32fs/rwsleep"
)

// Status is a CacheBlock's relationship to the device (spec.md section 3).
type Status int

const (
	Unloaded Status = iota // needs a device read before it can be used
	InitFn                 // a caller-supplied initializer will fill it, no read needed
	Clean                  // matches the device
	Dirty                  // needs to be written back
)

func (s Status) readable() bool {
	return s == Clean || s == Dirty
}

type blockState struct {
	status Status
	buffer *Buffer
	initFn func([]byte)
}

// CacheBlock is one cached cluster: a CID, a monotonic access id used for
// LRU replacement, a reference count of live CacheRef handles, and an
// inner sleep-locked {status, buffer} pair (spec.md section 3).
type CacheBlock struct {
	CID cid.CID

	aid      uint64 // atomic; written by the cache controller on every access
	refCount int32  // atomic; number of live CacheRef handles

	inner *rwsleep.Mutex[blockState]
}

func newCacheBlock(c cid.CID, clusterBytes int) *CacheBlock {
	return &CacheBlock{
		CID:   c,
		inner: rwsleep.New(blockState{status: Unloaded, buffer: NewBuffer(clusterBytes)}),
	}
}

// AID returns the block's current access id.
func (b *CacheBlock) AID() cid.AID {
	return cid.AID(atomic.LoadUint64(&b.aid))
}

func (b *CacheBlock) setAID(a cid.AID) {
	atomic.StoreUint64(&b.aid, uint64(a))
}

// RefCount returns the number of live CacheRef handles, used by the
// eviction scan to skip blocks a current user holds.
func (b *CacheBlock) RefCount() int32 {
	return atomic.LoadInt32(&b.refCount)
}

func (b *CacheBlock) addRef() {
	atomic.AddInt32(&b.refCount, 1)
}

func (b *CacheBlock) dropRef() {
	atomic.AddInt32(&b.refCount, -1)
}

// CacheRef is a shared handle on a cached cluster, returned by GetBlock.
// Holding one pins the block against eviction.
type CacheRef struct {
	block *CacheBlock
}

// Release drops this handle's pin on the block.
func (r *CacheRef) Release() {
	r.block.dropRef()
}

// ReadRO acquires the block's buffer in shared mode and runs op against the
// raw bytes. The block must already be loaded; GetBlock/GetBlockInit
// guarantee that before returning a CacheRef.
func (r *CacheRef) ReadRO(ctx context.Context, op func(buf []byte)) error {
	g, err := r.block.inner.RLock(ctx)
	if err != nil {
		return err
	}
	defer g.RUnlock()
	op(g.Value().buffer.Bytes())
	return nil
}
