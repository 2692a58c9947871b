// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package inode

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/jacobsa/fat32fs/bcache"
	"github.com/jacobsa/fat32fs/blockdev"
	"github.com/jacobsa/fat32fs/cid"
	"github.com/jacobsa/fat32fs/fatlist"
)

// fsInfo free-count/next-free offsets, mirroring fatlist's own (unexported)
// FsInfo layout (fatlist/fsinfo.go). parseFsInfo doesn't check the lead/
// struct/trail signatures, only these two fields, so the test only needs
// to plant them.
const (
	fsInfoFreeCountOffset = 0x1E8
	fsInfoNextFreeOffset  = 0x1EC
)

func storeTestFsInfo(buf []byte, free, next uint32) {
	binary.LittleEndian.PutUint32(buf[fsInfoFreeCountOffset:], free)
	binary.LittleEndian.PutUint32(buf[fsInfoNextFreeOffset:], next)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// setEntryAt writes a raw little-endian 32-bit FAT entry, mirroring
// fatlist's own test helper (kept package-private there).
func setEntryAt(buf []byte, idx int, v cid.CID) {
	off := idx * 4
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v >> 16)
	buf[off+3] = byte(v >> 24)
}

// newTestManager builds a Manager over a tiny volume: one FAT-info
// sector, one single-copy FAT sector, and 28 one-sector data clusters
// (CIDs 2 through 29).
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	const sectorBytes = 512
	dev := blockdev.NewMemDevice(sectorBytes, 32)
	ctx := context.Background()

	fat := make([]byte, sectorBytes)
	setEntryAt(fat, 0, cid.Last)
	setEntryAt(fat, 1, cid.Last)
	if err := dev.WriteBlock(ctx, 1, fat); err != nil {
		t.Fatal(err)
	}

	info := make([]byte, sectorBytes)
	storeTestFsInfo(info, 28, 2)
	if err := dev.WriteBlock(ctx, 0, info); err != nil {
		t.Fatal(err)
	}

	list, err := fatlist.New(ctx, dev, sectorBytes, cid.SID(1), []cid.SID{1}, 0, cid.CID(30),
		fatlist.Options{MaxUnitNum: 4, DirtyCapacity: 2, WriteBackConcurrency: 1})
	if err != nil {
		t.Fatal(err)
	}

	caches := bcache.New(dev, cid.SID(2), 0, sectorBytes, cid.CID(30),
		bcache.Options{Capacity: 16, DirtyCapacity: 8, WriteBackConcurrency: 1})

	return &Manager{
		Caches:           caches,
		List:             list,
		Clock:            fixedClock{time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC)},
		ClusterBytesLog2: 9,
		Table:            NewTable(),
	}
}

func newTestRoot(t *testing.T) (*Manager, *Dir) {
	t.Helper()
	mgr := newTestManager(t)
	ctx := context.Background()

	p, err := mgr.List.TakePermit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rootCID, err := mgr.List.AllocCluster(ctx, p)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Caches.GetBlockInit(ctx, rootCID, zeroDirCluster); err != nil {
		t.Fatal(err)
	}

	root, err := mgr.Root(ctx, rootCID)
	if err != nil {
		t.Fatal(err)
	}
	return mgr, root
}

func TestCreateFileAndList(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRoot(t)

	if err := root.CreateFile(ctx, "hello.txt", false, false); err != nil {
		t.Fatal(err)
	}
	if err := root.CreateDir(ctx, "sub", false, false); err != nil {
		t.Fatal(err)
	}

	names, err := root.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, n := range names {
		found[n] = true
	}
	if !found["HELLO.TXT"] && !found["hello.txt"] {
		t.Fatalf("expected hello.txt in listing, got %v", names)
	}
	if !found["SUB"] && !found["sub"] {
		t.Fatalf("expected sub in listing, got %v", names)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRoot(t)
	if err := root.CreateFile(ctx, "dup.txt", false, false); err != nil {
		t.Fatal(err)
	}
	if err := root.CreateFile(ctx, "dup.txt", false, false); err == nil {
		t.Fatal("expected EEXIST on duplicate create")
	}
}

func TestSearchResolvesCreatedChild(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRoot(t)
	if err := root.CreateFile(ctx, "findme.txt", false, false); err != nil {
		t.Fatal(err)
	}
	_, _, ok, err := root.Search(ctx, "findme.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected to find findme.txt")
	}
	_, _, ok, err = root.Search(ctx, "nope.txt")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("did not expect to find nope.txt")
	}
}

func TestFileWriteAppendThenReadBack(t *testing.T) {
	ctx := context.Background()
	mgr, root := newTestRoot(t)
	if err := root.CreateFile(ctx, "data.bin", false, false); err != nil {
		t.Fatal(err)
	}
	short, start, place, ok, err := root.SearchEntry(ctx, "data.bin")
	if err != nil || !ok {
		t.Fatalf("search: ok=%v err=%v", ok, err)
	}
	loc := place.Location()
	f, err := mgr.OpenFile(root, loc, short, start, place)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	payload := []byte("the quick brown fox")
	n, err := f.WriteAppend(ctx, payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) {
		t.Fatalf("wrote %d bytes, want %d", n, len(payload))
	}
	if got := f.FileBytes(); got != uint32(len(payload)) {
		t.Fatalf("file size %d, want %d", got, len(payload))
	}

	buf := make([]byte, len(payload))
	n, err = f.ReadAt(ctx, 0, buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) || string(buf) != string(payload) {
		t.Fatalf("read back %q, want %q", buf[:n], payload)
	}
}

func TestDeleteFileFreesName(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRoot(t)
	if err := root.CreateFile(ctx, "gone.txt", false, false); err != nil {
		t.Fatal(err)
	}
	if err := root.DeleteFile(ctx, "gone.txt"); err != nil {
		t.Fatal(err)
	}
	_, _, ok, err := root.Search(ctx, "gone.txt")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected gone.txt to be removed")
	}
}

func TestDeleteNonEmptyDirFails(t *testing.T) {
	ctx := context.Background()
	mgr, root := newTestRoot(t)
	if err := root.CreateDir(ctx, "parent", false, false); err != nil {
		t.Fatal(err)
	}
	short, start, place, ok, err := root.SearchEntry(ctx, "parent")
	if err != nil || !ok {
		t.Fatalf("search: ok=%v err=%v", ok, err)
	}
	child, err := mgr.OpenDir(root, place.Location(), short, start, place)
	if err != nil {
		t.Fatal(err)
	}
	if err := child.CreateFile(ctx, "leaf.txt", false, false); err != nil {
		t.Fatal(err)
	}
	child.Close()

	if err := root.DeleteDir(ctx, "parent"); err == nil {
		t.Fatal("expected ENOTEMPTY deleting a non-empty directory")
	}
}

func TestLongNameRoundTrips(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRoot(t)
	const long = "a rather long file name.txt"
	if err := root.CreateFile(ctx, long, false, false); err != nil {
		t.Fatal(err)
	}
	names, err := root.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, n := range names {
		if n == long {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q in listing, got %v", long, names)
	}
}
