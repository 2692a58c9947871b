// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package inode

import (
	"context"

	"github.com/jacobsa/fat32fs/cid"
	"github.com/jacobsa/fat32fs/fatlist"
)

// cachedLen returns the cached chain length in clusters, if known.
func (c *Cache) cachedLen() (n int, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.len, c.lenKnown
}

// tryNthFromList returns the nth (0-based) cluster of the chain if it is
// already present in cidList, without touching the device.
func (c *Cache) tryNthFromList(n int) (cid.CID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n < len(c.cidList) {
		return c.cidList[n], true
	}
	return 0, false
}

// appendLast records that cl is the cluster immediately following the
// current known tail of the chain, extending cidList when the tail is
// still contiguous with it and always advancing almost-last.
func (c *Cache) appendLast(n int, cl cid.CID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n == len(c.cidList) {
		c.cidList = append(c.cidList, cl)
	}
	c.almostOff = n
	c.almostCID = cl
	if c.lenKnown {
		c.len = n + 1
	}
}

// appendFirst records a brand-new chain of length 1 starting at cl,
// called when a file with no prior cluster allocates its first one.
func (c *Cache) appendFirst(cl cid.CID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cidStart = cl
	c.cidList = []cid.CID{cl}
	c.almostOff = 0
	c.almostCID = cl
	c.short.Cluster = cl
	c.lenKnown = true
	c.len = 1
}

// listTruncate drops everything in the cache beyond the first n clusters,
// and records the exact chain length as n, called after freeing a chain's
// tail (resize-shrink or delete).
func (c *Cache) listTruncate(n int, lastCID cid.CID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n == 0 {
		c.cidStart = cid.Free
		c.short.Cluster = cid.Free
		c.cidList = nil
		c.almostOff = 0
		c.almostCID = cid.Free
		c.lenKnown = true
		c.len = 0
		return
	}
	if n < len(c.cidList) {
		c.cidList = c.cidList[:n]
	}
	c.lenKnown = true
	c.len = n
	c.almostOff = n - 1
	c.almostCID = lastCID
}

// almostLast returns the furthest-known (offset, cid) pair in the chain,
// a starting point for Travel to avoid walking from the head every time.
func (c *Cache) almostLast() (int, cid.CID) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.almostOff, c.almostCID
}

// errChainShort is returned internally by nthBlockCID to signal "ran off
// the end of the chain"; callers translate it into the caller-visible
// chain length via the returned int.
type errChainShort struct{ length int }

func (e errChainShort) Error() string { return "chain shorter than requested offset" }

// nthBlockCID resolves the nth cluster of the chain (0-based), walking the
// FAT from the cached almost-last position and recording every cluster it
// passes through, mirroring InodeCacheInner::try_get_nth_block_cid plus
// RawInode::get_nth_block_cid's device-visiting fallback. If the chain is
// shorter than n, it returns errChainShort with the chain's true length.
func (c *Cache) nthBlockCID(ctx context.Context, list *fatlist.Manager, n int) (cid.CID, error) {
	c.mu.RLock()
	if c.cidStart.IsFree() {
		c.mu.RUnlock()
		return 0, errChainShort{0}
	}
	if c.lenKnown && c.len <= n {
		length := c.len
		c.mu.RUnlock()
		return 0, errChainShort{length}
	}
	c.mu.RUnlock()

	if cl, ok := c.tryNthFromList(n); ok {
		return cl, nil
	}
	off, start := c.almostLast()
	if off > n {
		off, start = 0, c.cidStart
	}
	if off == n {
		return start, nil
	}

	type acc struct {
		off   int
		cid   cid.CID
		found bool
	}
	res, err := fatlist.Travel(ctx, list, start, off, acc{off, start, false}, func(a acc, next cid.CID, offset int) (acc, fatlist.Flow, error) {
		if !next.IsNext() {
			return a, fatlist.Break, nil
		}
		c.appendLast(offset, next)
		if offset == n {
			return acc{offset, next, true}, fatlist.Break, nil
		}
		return acc{offset, next, false}, fatlist.Continue, nil
	})
	if err != nil {
		return 0, err
	}
	if !res.found {
		c.mu.Lock()
		c.lenKnown = true
		c.len = res.off + 1
		c.mu.Unlock()
		return 0, errChainShort{res.off + 1}
	}
	return res.cid, nil
}

// lastBlock returns the (offset, cid) of the chain's last known cluster,
// walking the device if the cache has not yet reached it. ok is false for
// an empty (zero-cluster) file.
func (c *Cache) lastBlock(ctx context.Context, list *fatlist.Manager) (off int, cl cid.CID, ok bool, err error) {
	c.mu.RLock()
	start := c.cidStart
	c.mu.RUnlock()
	if start.IsFree() {
		return 0, 0, false, nil
	}

	off, cl = c.almostLast()
	type acc struct {
		off int
		cid cid.CID
	}
	res, err := fatlist.Travel(ctx, list, cl, off, acc{off, cl}, func(a acc, next cid.CID, offset int) (acc, fatlist.Flow, error) {
		if !next.IsNext() {
			return a, fatlist.Break, nil
		}
		c.appendLast(offset, next)
		return acc{offset, next}, fatlist.Continue, nil
	})
	if err != nil {
		return 0, 0, false, err
	}
	return res.off, res.cid, true, nil
}
