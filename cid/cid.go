// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

// Package cid holds the small value types shared by bcache and fatlist:
// cluster ids, sector ids, FAT unit ids, and the monotonic access id used
// for LRU replacement without touching an entry on a cache hit.
package cid

import "sync/atomic"

// CID is a FAT32 cluster id. Values 0 and >= LAST are reserved; ordinary
// chain links use 2..max_cid.
type CID uint32

const (
	// Free marks a cluster that holds no data and may be allocated.
	Free CID = 0

	// Last is the smallest reserved "end of chain" marker. Any value >=
	// Last terminates a cluster chain.
	Last CID = 0x0FFFFFF8
)

// IsNext reports whether c is an ordinary chain-continuation cluster id
// (neither Free nor a terminator).
func (c CID) IsNext() bool {
	return c >= 2 && c < Last
}

// IsLast reports whether c terminates a chain.
func (c CID) IsLast() bool {
	return c >= Last
}

// IsFree reports whether c marks an unallocated cluster.
func (c CID) IsFree() bool {
	return c == Free
}

// SID is a sector id, device-absolute.
type SID uint32

// UnitID is the index of one sector-sized unit inside a single FAT copy.
type UnitID uint32

// AID is a monotonic access id. Every cache/list read or write stamps its
// line with a fresh AID; eviction scans in AID order without needing to
// move entries on a hit. AID is never compared across two different
// AIDAllocators.
type AID uint64

// AIDAllocator hands out ever-increasing AIDs. The zero value is ready to
// use; the counter never reaches its maximum in practice (spec.md section 3).
type AIDAllocator struct {
	next uint64
}

// Alloc returns a fresh AID strictly greater than any previously returned
// by this allocator.
func (a *AIDAllocator) Alloc() AID {
	return AID(atomic.AddUint64(&a.next, 1))
}

// SectorOfCluster computes the first sector of cluster cid given the data
// region's start sector and the log2 of sectors-per-cluster, per spec.md
// section 3 ("SID computed as data_sector_start + (cid-2) << sector_per_cluster_log2").
func SectorOfCluster(dataSectorStart SID, sectorPerClusterLog2 uint, cid CID) SID {
	return SID(uint32(dataSectorStart) + (uint32(cid-2) << sectorPerClusterLog2))
}
