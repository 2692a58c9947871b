// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

// Package inode implements the inode cache, raw inode, directory inode and
// file inode layer (spec.md sections 4.4-4.6): the part of the engine that
// turns a cached FAT chain and a directory entry into POSIX-shaped
// list/search/create/delete/read/write operations.
package inode

import (
	"context"
	"time"

	"github.com/jacobsa/fat32fs/bcache"
	"github.com/jacobsa/fat32fs/cid"
	"github.com/jacobsa/fat32fs/direntry"
	"github.com/jacobsa/fat32fs/fatlist"
)

// Clock is any monotonic real-time source for stamping access/modify times
// (spec.md section 5's "Clock" shared resource).
type Clock interface {
	Now() time.Time
}

// Manager bundles the block cache, FAT list manager, and cluster geometry
// every inode operation needs, mirroring how the original implementation's
// Fat32Manager threads `list`, `caches`, and `bpb` through every call
// (original_source's inode/*.rs). fat32.FS owns one of these and hands it
// to every Dir/File it materializes.
type Manager struct {
	Caches *bcache.Cache
	List   *fatlist.Manager
	Clock  Clock

	// ClusterBytesLog2 is log2(sectors-per-cluster * bytes-per-sector),
	// used to split a byte offset into (cluster index, in-cluster offset).
	ClusterBytesLog2 uint

	// Spawn starts a detached background task, used to free a detached
	// file's cluster chain after its last handle closes (spec.md section
	// 4.4's detach semantics) without blocking the caller that dropped it.
	Spawn func(func(context.Context))

	Table *Table
}

// ClusterSplit divides a byte offset into (cluster index within the file,
// offset within that cluster), mirroring Bpb::cluster_spilt.
func (m *Manager) ClusterSplit(byteOffset int) (nth, off int) {
	mask := (1 << m.ClusterBytesLog2) - 1
	return byteOffset >> m.ClusterBytesLog2, byteOffset & mask
}

// ClusterBytes returns the size in bytes of one cluster.
func (m *Manager) ClusterBytes() int {
	return 1 << m.ClusterBytesLog2
}

func (m *Manager) now() time.Time {
	if m.Clock == nil {
		return time.Time{}
	}
	return m.Clock.Now()
}

// spawnFreeChain starts (or, with no Spawn configured, runs inline) the
// task that frees a detached file's cluster chain once its last handle is
// gone (spec.md section 4.4).
func (m *Manager) spawnFreeChain(start cid.CID) {
	task := func(ctx context.Context) {
		// FreeClusterAt's partial-failure contract (fatlist's manager.go):
		// a call that runs out of permits mid-chain returns truncated=true
		// with the chain left legally shorter, not an error. Re-issuing
		// against the same start keeps freeing further down it each time,
		// since start's own link is rewritten to the new remainder.
		const batch = 32
		for {
			ps, err := m.List.NewPermitSet(ctx, batch)
			if err != nil {
				return
			}
			_, truncated, err := m.List.FreeClusterAt(ctx, start, ps)
			if err != nil {
				return
			}
			if !truncated {
				break
			}
		}
		p, err := m.List.TakePermit(ctx)
		if err != nil {
			return
		}
		_ = m.List.FreeCluster(ctx, start, p)
	}
	if m.Spawn != nil {
		m.Spawn(func(ctx context.Context) { task(ctx) })
		return
	}
	task(context.Background())
}

// Root returns a handle to the volume's root directory, keyed in the
// table by RootPlace so repeated calls share the one cache node.
func (m *Manager) Root(ctx context.Context, rootCluster cid.CID) (*Dir, error) {
	now := m.now()
	loc := RootPlace.Location()
	cache := m.Table.GetOrInsert(loc, m, func() (direntry.Short, Place, Place) {
		var short direntry.Short
		short.Name = [8]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
		short.Ext = [3]byte{' ', ' ', ' '}
		short.Attr = direntry.Directory
		short.Cluster = rootCluster
		short.CreateTime, short.AccessDate, short.ModifyTime = now, now, now
		return short, RootPlace, RootPlace
	})
	return &Dir{RawInode: newRawInode(m, cache, cache, true)}, nil
}

// OpenDir resolves a subdirectory handle from a prior Search result.
func (m *Manager) OpenDir(parent *Dir, loc Location, short direntry.Short, start, place Place) (*Dir, error) {
	cache := m.Table.GetOrInsert(loc, m, func() (direntry.Short, Place, Place) {
		return short, start, place
	})
	return &Dir{RawInode: newRawInode(m, cache, parent.cache, false)}, nil
}

// OpenFile resolves a regular-file handle from a prior Search result.
func (m *Manager) OpenFile(parent *Dir, loc Location, short direntry.Short, start, place Place) (*File, error) {
	cache := m.Table.GetOrInsert(loc, m, func() (direntry.Short, Place, Place) {
		return short, start, place
	})
	return &File{RawInode: newRawInode(m, cache, parent.cache, false)}, nil
}
