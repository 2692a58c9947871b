// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fatlist

import (
	"container/heap"

	"github.com/jacobsa/fat32fs/cid"
)

// cleanEntry/cleanIndex mirror bcache's AID-ordered clean-set index
// (bcache/lru.go), duplicated here rather than shared because a ListUnit
// and a CacheBlock are keyed by different id types and Go methods cannot
// be generic; both are grounded on the same clean/search BTreeMap<AID,...>
// scan in original_source/code/fat32/src/fat_list/manager.rs.
type cleanEntry struct {
	aid cid.AID
	uid UnitID
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

type cleanIndex struct {
	h cleanHeap
}

func (c *cleanIndex) insert(aid cid.AID, u UnitID) {
	heap.Push(&c.h, cleanEntry{aid: aid, uid: u})
}

func (c *cleanIndex) empty() bool { return c.h.Len() == 0 }

func (c *cleanIndex) popMin() (cleanEntry, bool) {
	if c.h.Len() == 0 {
		return cleanEntry{}, false
	}
	return heap.Pop(&c.h).(cleanEntry), true
}

func (c *cleanIndex) len() int { return c.h.Len() }

func (c *cleanIndex) remove(u UnitID) {
	kept := c.h[:0]
	for _, e := range c.h {
		if e.uid != u {
			kept = append(kept, e)
		}
	}
	c.h = kept
	heap.Init(&c.h)
}
