// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package inode

import (
	"context"

	"github.com/jacobsa/fat32fs/bcache"
	"github.com/jacobsa/fat32fs/cid"
	"github.com/jacobsa/fat32fs/direntry"
	"github.com/jacobsa/fat32fs/fatlist"
	"github.com/jacobsa/fat32fs/rwsleep"
)

// RawInode is the open handle behind both Dir and File: it pairs a cached
// chain (Cache) with the Manager needed to walk or extend it. One is
// created by Manager.Root/OpenDir/OpenFile and released via Close once the
// VFS layer above is done with it (spec.md section 4.4).
type RawInode struct {
	cache    *Cache
	parent   *Cache // nil only for the root
	manager  *Manager
	isRoot   bool
	released bool
}

func newRawInode(mgr *Manager, cache, parent *Cache, isRoot bool) *RawInode {
	return &RawInode{cache: cache, parent: parent, manager: mgr, isRoot: isRoot}
}

// Close releases this handle's reference to its cache node, freeing a
// detached file's cluster chain once the last handle drops (spec.md
// section 4.4).
func (r *RawInode) Close() {
	if r.released {
		return
	}
	r.released = true
	r.manager.Table.Release(r.cache)
}

// lockExclusive takes this inode's operation lock for a directory mutation
// or a file write, releasing it via the returned func.
func (r *RawInode) lockExclusive(ctx context.Context) (func(), error) {
	g, err := r.cache.opLock.Lock(ctx)
	if err != nil {
		return nil, err
	}
	return g.Unlock, nil
}

// lockShared takes this inode's operation lock for a read, releasing it via
// the returned func.
func (r *RawInode) lockShared(ctx context.Context) (func(), error) {
	g, err := r.cache.opLock.RLock(ctx)
	if err != nil {
		return nil, err
	}
	return g.RUnlock, nil
}

// Attr returns the entry's attribute byte.
func (r *RawInode) Attr() direntry.Attr { return r.cache.Attr() }

// IsDir reports whether this inode is a directory.
func (r *RawInode) IsDir() bool { return r.Attr().Has(direntry.Directory) }

// FileBytes returns the cached file size field from the short entry.
func (r *RawInode) FileBytes() uint32 { return r.cache.FileBytes() }

// Location returns the table key identifying this inode's directory entry.
func (r *RawInode) Location() Location { return r.cache.entry.Location() }

// Detached reports whether this inode has been unlinked from its parent.
func (r *RawInode) Detached() bool {
	r.cache.mu.RLock()
	defer r.cache.mu.RUnlock()
	return r.cache.detached
}

// Stat returns the short entry contents backing this inode, for callers
// building a stat(2)-shaped result above.
func (r *RawInode) Stat() direntry.Short {
	_, short := r.cache.Entry()
	return short
}

// Touch updates access and/or modify timestamps on the cached short entry.
func (r *RawInode) Touch(access, modify bool) {
	now := r.manager.now()
	r.cache.mu.Lock()
	if access {
		r.cache.short.AccessDate = now
	}
	if modify {
		r.cache.short.ModifyTime = now
	}
	r.cache.mu.Unlock()
}

// SetFileBytes overwrites the cached file size, used after a write or
// resize changes it.
func (r *RawInode) SetFileBytes(n uint32) { r.cache.updateFileBytes(n) }

// GetNthBlock resolves and loads the nth (0-based) cluster of this
// inode's chain. ok is false if the chain is shorter than n+1 clusters,
// in which case length is the chain's true length.
func (r *RawInode) GetNthBlock(ctx context.Context, n int) (ref *bcache.CacheRef, cl cid.CID, ok bool, length int, err error) {
	cl, err = r.cache.nthBlockCID(ctx, r.manager.List, n)
	if err != nil {
		if short, isShort := err.(errChainShort); isShort {
			return nil, 0, false, short.length, nil
		}
		return nil, 0, false, 0, err
	}
	ref, err = r.manager.Caches.GetBlock(ctx, cl)
	if err != nil {
		return nil, 0, false, 0, err
	}
	return ref, cl, true, 0, nil
}

// GetNthBlockAlloc resolves the nth cluster, extending the chain (zeroing
// every newly allocated cluster via init) if it is presently shorter.
func (r *RawInode) GetNthBlockAlloc(ctx context.Context, n int, init func([]byte)) (*bcache.CacheRef, error) {
	ref, resolved, ok, length, err := r.GetNthBlock(ctx, n)
	if err != nil {
		return nil, err
	}
	if ok {
		return ref, nil
	}

	cl := resolved
	if length == 0 {
		p, perr := r.manager.List.TakePermit(ctx)
		if perr != nil {
			return nil, perr
		}
		cl, err = r.manager.List.AllocCluster(ctx, p)
		if err != nil {
			return nil, err
		}
		ref, err = r.manager.Caches.GetBlockInit(ctx, cl, init)
		if err != nil {
			return nil, err
		}
		r.cache.appendFirst(cl)
		length = 1
	} else {
		cl, err = r.cache.nthBlockCID(ctx, r.manager.List, length-1)
		if err != nil {
			return nil, err
		}
		ref, err = r.manager.Caches.GetBlock(ctx, cl)
		if err != nil {
			return nil, err
		}
	}

	for length-1 < n {
		ps, err := r.manager.List.NewPermitSet(ctx, 1)
		if err != nil {
			return nil, err
		}
		cl, err = r.manager.List.AllocClusterAfter(ctx, cl, ps)
		if err != nil {
			return nil, err
		}
		ref, err = r.manager.Caches.GetBlockInit(ctx, cl, init)
		if err != nil {
			return nil, err
		}
		length++
		r.cache.appendLast(length-1, cl)
	}
	return ref, nil
}

// AppendBlock allocates one new cluster past the current end of the
// chain, zeroing it via init, and returns its (offset, cluster id, block).
func (r *RawInode) AppendBlock(ctx context.Context, init func([]byte)) (int, cid.CID, *bcache.CacheRef, error) {
	off, last, ok, err := r.cache.lastBlock(ctx, r.manager.List)
	if err != nil {
		return 0, 0, nil, err
	}
	var n int
	var cl cid.CID
	if !ok {
		n = 0
		var p fatlist.Permit
		p, err = r.manager.List.TakePermit(ctx)
		if err != nil {
			return 0, 0, nil, err
		}
		cl, err = r.manager.List.AllocCluster(ctx, p)
	} else {
		n = off + 1
		ps, perr := r.manager.List.NewPermitSet(ctx, 1)
		if perr != nil {
			return 0, 0, nil, perr
		}
		cl, err = r.manager.List.AllocClusterAfter(ctx, last, ps)
	}
	if err != nil {
		return 0, 0, nil, err
	}
	ref, err := r.manager.Caches.GetBlockInit(ctx, cl, init)
	if err != nil {
		return 0, 0, nil, err
	}
	if n == 0 {
		r.cache.appendFirst(cl)
	} else {
		r.cache.appendLast(n, cl)
	}
	return n, cl, ref, nil
}

// Resize truncates or grows the chain to exactly n clusters, zeroing any
// newly allocated tail cluster via init.
func (r *RawInode) Resize(ctx context.Context, n int, init func([]byte)) error {
	if n == 0 {
		cl, err := r.cache.nthBlockCID(ctx, r.manager.List, 0)
		if err != nil {
			if _, short := err.(errChainShort); short {
				return nil
			}
			return err
		}
		ps, err := r.manager.List.NewPermitSet(ctx, 32)
		if err != nil {
			return err
		}
		if _, _, err := r.manager.List.FreeClusterAt(ctx, cl, ps); err != nil {
			return err
		}
		p, err := r.manager.List.TakePermit(ctx)
		if err != nil {
			return err
		}
		if err := r.manager.List.FreeCluster(ctx, cl, p); err != nil {
			return err
		}
		r.cache.listTruncate(0, cid.Free)
		return nil
	}

	cl, err := r.cache.nthBlockCID(ctx, r.manager.List, n-1)
	if err != nil {
		if _, short := err.(errChainShort); short {
			_, err := r.GetNthBlockAlloc(ctx, n-1, init)
			return err
		}
		return err
	}
	ps, err := r.manager.List.NewPermitSet(ctx, 32)
	if err != nil {
		return err
	}
	if _, _, err := r.manager.List.FreeClusterAt(ctx, cl, ps); err != nil {
		return err
	}
	r.cache.listTruncate(n, cl)
	return nil
}

// ShortEntrySync writes the cached short entry back to the parent
// directory's cluster, the deferred write-back point spec.md section 4.4
// uses in place of an eager write on every access (called at the end of
// read_at/write_at).
func (r *RawInode) ShortEntrySync(ctx context.Context) error {
	if r.isRoot {
		return nil
	}
	entry, short := r.cache.Entry()
	if entry.Cid.IsFree() {
		return nil
	}
	ref, err := r.manager.Caches.GetBlock(ctx, entry.Cid)
	if err != nil {
		return err
	}
	return r.manager.Caches.WriteBlock(ctx, ref, func(buf []byte) {
		off := entry.EntryOff * direntry.EntrySize
		short.Put(buf[off : off+direntry.EntrySize])
	})
}

// DetachFile removes this inode from the directory tree after its parent
// has already removed the on-disk entry, swapping in a standalone cache
// node whose cluster chain is freed once the last handle releases it.
func (r *RawInode) DetachFile() {
	loc := r.cache.entry.Location()
	r.manager.Table.Forget(loc)

	r.cache.mu.Lock()
	cidStart := r.cache.cidStart
	cidList := r.cache.cidList
	r.cache.mu.Unlock()

	detached := &Cache{
		aidAlloc: r.cache.aidAlloc,
		manager:  r.manager,
		entry:    RootPlace,
		cidStart: cidStart,
		cidList:  cidList,
		detached: true,
		openRefs: 1,
		opLock:   rwsleep.New(struct{}{}),
	}
	detached.almostCID = cidStart
	r.cache.listTruncate(0, cid.Free)
	r.cache = detached
	r.parent = nil
}

// DetachDir removes this inode from the directory tree. A directory's
// own cluster chain is freed the same as a file's, via the last handle's
// Close.
func (r *RawInode) DetachDir() {
	r.DetachFile()
}

