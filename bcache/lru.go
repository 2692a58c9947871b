// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package bcache

import (
	"container/heap"

	"github.com/jacobsa/fat32fs/cid"
)

// cleanEntry is one (AID, CID) pair recorded at the moment a block entered
// clean. A popped entry is "stale" if the block's current AID no longer
// matches — meaning it was touched again after being indexed — in which
// case it is reinserted under its current AID (spec.md section 4.2: "LRU
// without touching on hit").
type cleanEntry struct {
	aid cid.AID
	cid cid.CID
}

type cleanHeap []cleanEntry

func (h cleanHeap) Len() int            { return len(h) }
func (h cleanHeap) Less(i, j int) bool  { return h[i].aid < h[j].aid }
func (h cleanHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cleanHeap) Push(x interface{}) { *h = append(*h, x.(cleanEntry)) }
func (h *cleanHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// cleanIndex is the ordered-by-AID index over clean blocks used for LRU
// eviction scanning. It is not concurrency-safe; callers hold the owning
// Cache's control lock.
type cleanIndex struct {
	h cleanHeap
}

func (c *cleanIndex) insert(aid cid.AID, cl cid.CID) {
	heap.Push(&c.h, cleanEntry{aid: aid, cid: cl})
}

func (c *cleanIndex) empty() bool {
	return c.h.Len() == 0
}

func (c *cleanIndex) popMin() (cleanEntry, bool) {
	if c.h.Len() == 0 {
		return cleanEntry{}, false
	}
	return heap.Pop(&c.h).(cleanEntry), true
}

func (c *cleanIndex) len() int {
	return c.h.Len()
}

// remove drops any entries for cid. Used by ReleaseBlock, which must scrub
// a block out of clean regardless of which AID slot it currently sits in.
// O(n); release is rare compared to get/write.
func (c *cleanIndex) remove(cl cid.CID) {
	kept := c.h[:0]
	for _, e := range c.h {
		if e.cid != cl {
			kept = append(kept, e)
		}
	}
	c.h = kept
	heap.Init(&c.h)
}
