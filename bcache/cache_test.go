// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package bcache

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsa/fat32fs/blockdev"
	"github.com/jacobsa/fat32fs/cid"
)

func newTestCache(t *testing.T, capacity, dirtyCapacity int) (*Cache, *blockdev.MemDevice) {
	t.Helper()
	dev := blockdev.NewMemDevice(512, 64)
	c := New(dev, cid.SID(0), 0, 512, cid.CID(64), Options{
		Capacity:              capacity,
		DirtyCapacity:         dirtyCapacity,
		WriteBackConcurrency: 2,
	})
	return c, dev
}

func TestGetBlockLoadsFromDevice(t *testing.T) {
	c, dev := newTestCache(t, 4, 2)
	ctx := context.Background()

	dev.Bytes()[0] = 0xAB
	ref, err := c.GetBlock(ctx, cid.CID(2))
	if err != nil {
		t.Fatal(err)
	}
	defer ref.Release()

	var got byte
	if err := ref.ReadRO(ctx, func(buf []byte) { got = buf[0] }); err != nil {
		t.Fatal(err)
	}
	if got != 0xAB {
		t.Fatalf("got %x, want 0xAB", got)
	}
}

func TestWriteBlockMarksDirtyAndWriteBackClears(t *testing.T) {
	c, dev := newTestCache(t, 4, 2)
	ctx := context.Background()

	ref, err := c.GetBlock(ctx, cid.CID(2))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WriteBlock(ctx, ref, func(buf []byte) { buf[0] = 0xCD }); err != nil {
		t.Fatal(err)
	}
	ref.Release()

	if _, dirty := c.Stats(); dirty != 1 {
		t.Fatalf("expected 1 dirty block, got stats with dirty=%d", dirty)
	}

	wbCtx, cancel := context.WithCancel(ctx)
	go c.RunWriteBack(wbCtx)
	defer cancel()

	deadline := time.After(time.Second)
	for {
		if _, dirty := c.Stats(); dirty == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("write-back never drained the dirty block")
		case <-time.After(time.Millisecond):
		}
	}

	if dev.Bytes()[0] != 0xCD {
		t.Fatalf("device byte = %x, want 0xCD", dev.Bytes()[0])
	}
}

func TestEvictionSkipsReferencedBlock(t *testing.T) {
	c, _ := newTestCache(t, 1, 1)
	ctx := context.Background()

	ref, err := c.GetBlock(ctx, cid.CID(2))
	if err != nil {
		t.Fatal(err)
	}
	defer ref.Release()

	if _, err := c.GetBlock(ctx, cid.CID(3)); err == nil {
		t.Fatal("expected eviction failure while the only cached block is referenced")
	}
}

func TestReleaseBlockDropsFromCache(t *testing.T) {
	c, _ := newTestCache(t, 4, 2)
	ctx := context.Background()

	ref, err := c.GetBlock(ctx, cid.CID(2))
	if err != nil {
		t.Fatal(err)
	}
	ref.Release()
	c.ReleaseBlock(cid.CID(2))

	if clean, dirty := c.Stats(); clean != 0 || dirty != 0 {
		t.Fatalf("expected empty cache after release, got clean=%d dirty=%d", clean, dirty)
	}
}
