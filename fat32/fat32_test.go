// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fat32

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/jacobsa/fat32fs/blockdev"
	"github.com/jacobsa/fat32fs/cid"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time                  { return c.t }
func (c fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// fsInfo free-count/next-free offsets (mirrors fatlist's own unexported
// FsInfo layout, fatlist/fsinfo.go).
const (
	fsInfoFreeCountOffset = 0x1E8
	fsInfoNextFreeOffset  = 0x1EC
)

// newTestVolume builds a 512-byte-sector, 8-sector-per-cluster, 1-FAT
// volume with a 4-cluster data region and an empty root at cluster 2,
// matching spec.md section 8's S1 scenario geometry.
func newTestVolume(t *testing.T) *blockdev.MemDevice {
	t.Helper()
	const (
		sectorBytes       = 512
		reservedSectors   = 2
		numFATs           = 1
		fatSize32         = 1
		sectorsPerCluster = 8
		dataClusters      = 4
		totalSectors      = reservedSectors + numFATs*fatSize32 + dataClusters*sectorsPerCluster
	)

	dev := blockdev.NewMemDevice(sectorBytes, totalSectors)
	ctx := context.Background()

	boot := make([]byte, sectorBytes)
	binary.LittleEndian.PutUint16(boot[bpbSectorBytes:], sectorBytes)
	boot[bpbSectorPerCluster] = sectorsPerCluster
	binary.LittleEndian.PutUint16(boot[bpbReservedSectors:], reservedSectors)
	boot[bpbNumFATs] = numFATs
	binary.LittleEndian.PutUint32(boot[bpbTotalSectors32:], totalSectors)
	binary.LittleEndian.PutUint32(boot[bpbFATSize32:], fatSize32)
	binary.LittleEndian.PutUint32(boot[bpbRootCluster:], 2)
	binary.LittleEndian.PutUint16(boot[bpbFSInfoSector:], 1)
	if err := dev.WriteBlock(ctx, 0, boot); err != nil {
		t.Fatal(err)
	}

	info := make([]byte, sectorBytes)
	binary.LittleEndian.PutUint32(info[fsInfoFreeCountOffset:], 3) // clusters 3,4,5 free
	binary.LittleEndian.PutUint32(info[fsInfoNextFreeOffset:], 3)
	if err := dev.WriteBlock(ctx, 1, info); err != nil {
		t.Fatal(err)
	}

	fat := make([]byte, sectorBytes)
	// Entries 0 and 1 are reserved on a real FAT32 volume (media descriptor
	// and an EOC placeholder) and never left free on a formatted image.
	binary.LittleEndian.PutUint32(fat[0*4:], uint32(cid.Last))
	binary.LittleEndian.PutUint32(fat[1*4:], uint32(cid.Last))
	binary.LittleEndian.PutUint32(fat[2*4:], uint32(cid.Last)) // root's sole cluster
	if err := dev.WriteBlock(ctx, reservedSectors, fat); err != nil {
		t.Fatal(err)
	}

	return dev
}

func TestMountParsesGeometry(t *testing.T) {
	dev := newTestVolume(t)
	fs, err := Mount(context.Background(), dev, fixedClock{}, GoSpawner{}, MountOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close(context.Background())

	if got, want := fs.bpb.ClusterBytes(), 4096; got != want {
		t.Fatalf("cluster bytes = %d, want %d", got, want)
	}
	sf := fs.Statfs()
	if sf.ClustersTotal != 4 {
		t.Fatalf("ClustersTotal = %d, want 4", sf.ClustersTotal)
	}
	if sf.ClustersFree != 3 {
		t.Fatalf("ClustersFree = %d, want 3", sf.ClustersFree)
	}
}

func TestEmptyRootListsNoEntries(t *testing.T) {
	dev := newTestVolume(t)
	fs, err := Mount(context.Background(), dev, fixedClock{}, GoSpawner{}, MountOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close(context.Background())

	root, err := fs.Root(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	names, err := root.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("names = %v, want empty", names)
	}
}

func TestCreateFileThenList(t *testing.T) {
	ctx := context.Background()
	dev := newTestVolume(t)
	fs, err := Mount(ctx, dev, fixedClock{}, GoSpawner{}, MountOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close(ctx)

	root, err := fs.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := root.CreateFile(ctx, "HELLO.TXT", false, false); err != nil {
		t.Fatal(err)
	}

	names, err := root.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "HELLO.TXT" {
		t.Fatalf("names = %v, want [HELLO.TXT]", names)
	}
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	ctx := context.Background()
	dev := newTestVolume(t)
	fs, err := Mount(ctx, dev, fixedClock{}, GoSpawner{}, MountOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close(ctx)

	root, err := fs.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := root.CreateFile(ctx, "HELLO.TXT", false, false); err != nil {
		t.Fatal(err)
	}

	short, start, place, ok, err := root.SearchEntry(ctx, "HELLO.TXT")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("HELLO.TXT not found")
	}

	file, err := fs.manager.OpenFile(root, place.Location(), short, start, place)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	want := []byte("hello, fat32")
	if _, err := file.WriteAt(ctx, 0, want); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(want))
	n, err := file.ReadAt(ctx, 0, got)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(want) || !bytes.Equal(got[:n], want) {
		t.Fatalf("ReadAt = %q, want %q", got[:n], want)
	}

	sf := fs.Statfs()
	if sf.ClustersFree != 2 {
		t.Fatalf("ClustersFree after write = %d, want 2", sf.ClustersFree)
	}
}
