// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fatlist

import (
	"context"
	"testing"

	"github.com/jacobsa/fat32fs/blockdev"
	"github.com/jacobsa/fat32fs/cid"
)

// newTestManager builds a Manager over a single-sector-per-copy, two-copy
// FAT list with 128 entries per sector (512-byte sectors / 4 bytes per
// entry), enough room for maxCID clusters.
func newTestManager(t *testing.T, maxCID cid.CID, freeCount uint32) (*Manager, *blockdev.MemDevice) {
	t.Helper()
	const sectorBytes = 512
	dev := blockdev.NewMemDevice(sectorBytes, 8)

	buf := make([]byte, sectorBytes)
	storeFsInfo(buf, freeCount, 2)
	if err := dev.WriteBlock(context.Background(), 0, buf); err != nil {
		t.Fatal(err)
	}

	// Entries 0 and 1 are reserved on a real FAT32 volume (media descriptor
	// and an EOC placeholder); a formatted image never leaves them free, so
	// the test device must not either.
	fat := make([]byte, sectorBytes)
	setEntryAt(fat, 0, cid.Last)
	setEntryAt(fat, 1, cid.Last)
	if err := dev.WriteBlock(context.Background(), 1, fat); err != nil {
		t.Fatal(err)
	}

	// Every test cid here lives in the same single list unit, so the
	// permit count only needs to exceed how many callers hold one at once,
	// not the number of distinct units (there's only one).
	m, err := New(context.Background(), dev, sectorBytes,
		cid.SID(1), []cid.SID{1, 1}, 0, maxCID,
		Options{MaxUnitNum: 8, DirtyCapacity: 6, WriteBackConcurrency: 2})
	if err != nil {
		t.Fatal(err)
	}
	return m, dev
}

func TestAllocClusterFindsFirstFreeEntry(t *testing.T) {
	m, _ := newTestManager(t, cid.CID(32), 30)
	ctx := context.Background()

	p, err := m.TakePermit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.AllocCluster(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if got != cid.CID(2) {
		t.Fatalf("got cluster %d, want 2 (the first allocatable cid)", got)
	}

	next, err := m.GetNext(ctx, got)
	if err != nil {
		t.Fatal(err)
	}
	if !next.IsLast() {
		t.Fatalf("freshly allocated cluster should terminate the chain, got %d", next)
	}
}

func TestAllocClusterExhaustion(t *testing.T) {
	m, _ := newTestManager(t, cid.CID(4), 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		p, err := m.TakePermit(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := m.AllocCluster(ctx, p); err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}

	p, err := m.TakePermit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AllocCluster(ctx, p); err == nil {
		t.Fatal("expected no-space error once cluster_free reaches 0")
	}
}

func TestAllocClusterAfterLinksChain(t *testing.T) {
	m, _ := newTestManager(t, cid.CID(32), 30)
	ctx := context.Background()

	p0, err := m.TakePermit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	head, err := m.AllocCluster(ctx, p0)
	if err != nil {
		t.Fatal(err)
	}

	ps, err := m.NewPermitSet(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.AllocClusterAfter(ctx, head, ps)
	if err != nil {
		t.Fatal(err)
	}

	got, err := m.GetNext(ctx, head)
	if err != nil {
		t.Fatal(err)
	}
	if got != second {
		t.Fatalf("head's next = %d, want newly allocated %d", got, second)
	}
}

func TestFreeClusterAtTruncatesChain(t *testing.T) {
	m, _ := newTestManager(t, cid.CID(32), 30)
	ctx := context.Background()

	p0, err := m.TakePermit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	head, err := m.AllocCluster(ctx, p0)
	if err != nil {
		t.Fatal(err)
	}

	var tail cid.CID = head
	for i := 0; i < 3; i++ {
		ps, err := m.NewPermitSet(ctx, 2)
		if err != nil {
			t.Fatal(err)
		}
		next, err := m.AllocClusterAfter(ctx, tail, ps)
		if err != nil {
			t.Fatal(err)
		}
		tail = next
	}

	ps, err := m.NewPermitSet(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	freed, truncated, err := m.FreeClusterAt(ctx, head, ps)
	if err != nil {
		t.Fatal(err)
	}
	if truncated {
		t.Fatal("expected the whole 3-cluster tail to fit in 4 permits")
	}
	if freed != 3 {
		t.Fatalf("freed %d clusters, want 3", freed)
	}

	next, err := m.GetNext(ctx, head)
	if err != nil {
		t.Fatal(err)
	}
	if !next.IsLast() {
		t.Fatalf("head should terminate the chain after freeing its tail, got %d", next)
	}
}

func TestTravelVisitsEveryLinkThroughTerminator(t *testing.T) {
	m, _ := newTestManager(t, cid.CID(32), 30)
	ctx := context.Background()

	p0, err := m.TakePermit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	head, err := m.AllocCluster(ctx, p0)
	if err != nil {
		t.Fatal(err)
	}
	tail := head
	for i := 0; i < 2; i++ {
		ps, err := m.NewPermitSet(ctx, 2)
		if err != nil {
			t.Fatal(err)
		}
		next, err := m.AllocClusterAfter(ctx, tail, ps)
		if err != nil {
			t.Fatal(err)
		}
		tail = next
	}

	var visited []cid.CID
	_, err = Travel(ctx, m, head, 0, struct{}{}, func(acc struct{}, next cid.CID, offset int) (struct{}, Flow, error) {
		visited = append(visited, next)
		return acc, Continue, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(visited) != 3 {
		t.Fatalf("visited %d links, want 3 (two interior plus the terminator)", len(visited))
	}
	if !visited[len(visited)-1].IsLast() {
		t.Fatalf("last visited link should be the terminator, got %d", visited[len(visited)-1])
	}
}
