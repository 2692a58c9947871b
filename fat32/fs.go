// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

// Package fat32 ties the block cache, FAT list manager and inode layer
// together into a mountable volume (spec.md section 4.8's "FS top").
package fat32

import (
	"context"

	"github.com/jacobsa/fat32fs/bcache"
	"github.com/jacobsa/fat32fs/blockdev"
	"github.com/jacobsa/fat32fs/cid"
	"github.com/jacobsa/fat32fs/clock"
	"github.com/jacobsa/fat32fs/direntry"
	"github.com/jacobsa/fat32fs/fatlist"
	"github.com/jacobsa/fat32fs/inode"
)

// Statfs reports the volume's capacity and available space, the numbers a
// statfs(2) caller needs (supplemented from original_source's
// fat32_inode.rs / kernel sys_statfs, dropped by the distilled spec.md).
type Statfs struct {
	ClusterBytes  int
	ClustersTotal uint32
	ClustersFree  uint32
}

// FS is one mounted FAT32 volume: the BPB it was parsed from, the caches
// and list manager built from it, and the inode table every open handle
// shares.
type FS struct {
	bpb     Bpb
	caches  *bcache.Cache
	list    *fatlist.Manager
	manager *inode.Manager

	wbDone   chan struct{}
	listDone chan struct{}
}

// Root returns a handle to the volume's root directory.
func (fs *FS) Root(ctx context.Context) (*inode.Dir, error) {
	return fs.manager.Root(ctx, fs.bpb.RootCluster)
}

// OpenDir resolves a subdirectory handle from a directory entry returned by
// a prior Dir.SearchEntry call against parent, for adapters (samples/fat32fs)
// that need to materialize a handle outside of CreateDir/searchImpl.
func (fs *FS) OpenDir(parent *inode.Dir, loc inode.Location, short direntry.Short, start, place inode.Place) (*inode.Dir, error) {
	return fs.manager.OpenDir(parent, loc, short, start, place)
}

// OpenFile resolves a regular-file handle from a directory entry returned by
// a prior Dir.SearchEntry call against parent.
func (fs *FS) OpenFile(parent *inode.Dir, loc inode.Location, short direntry.Short, start, place inode.Place) (*inode.File, error) {
	return fs.manager.OpenFile(parent, loc, short, start, place)
}

// Statfs reports the volume's cluster geometry and current free count.
func (fs *FS) Statfs() Statfs {
	_, _, free := fs.list.Stats()
	return Statfs{
		ClusterBytes:  fs.bpb.ClusterBytes(),
		ClustersTotal: fs.bpb.DataClusterNum,
		ClustersFree:  free,
	}
}

// Close signals both write-back tasks to stop and waits for them to
// actually exit before returning, so no write-back goroutine is still
// touching the device once Close returns (spec.md section 5's close
// ordering requirement). It returns ctx.Err() if ctx is done first.
func (fs *FS) Close(ctx context.Context) error {
	fs.caches.Close()
	fs.list.Close()

	for _, done := range []chan struct{}{fs.wbDone, fs.listDone} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Mount parses dev's BPB, loads FsInfo, constructs the block cache, FAT
// list manager and inode table, and starts the two write-back tasks via
// spawner (spec.md section 4.8 / SPEC_FULL.md section 4.8). clk stamps
// every directory entry's access/modify/create time.
func Mount(ctx context.Context, dev blockdev.Device, clk clock.Clock, spawner Spawner, opts MountOptions) (*FS, error) {
	opts = opts.withDefaults()

	boot := make([]byte, dev.SectorSize())
	if err := dev.ReadBlock(ctx, 0, boot); err != nil {
		return nil, err
	}
	bpb, err := ParseBpb(boot)
	if err != nil {
		return nil, err
	}

	caches := bcache.New(dev, bpb.DataSectorStart, bpb.SectorsPerClusterLog2, bpb.ClusterBytes(), bpb.MaxCID, bcache.Options{
		Capacity:             opts.BlockCacheCapacity,
		DirtyCapacity:        opts.BlockCacheDirtyCapacity,
		WriteBackConcurrency: opts.BlockCacheWriteBackConcurrency,
	})

	storeStart := make([]cid.SID, bpb.NumFATs)
	for i := range storeStart {
		storeStart[i] = bpb.FATStart(uint32(i))
	}
	list, err := fatlist.New(ctx, dev, bpb.SectorBytes, bpb.FATStart(0), storeStart, bpb.FSInfoSector, bpb.MaxCID, fatlist.Options{
		MaxUnitNum:           opts.FATListCapacity,
		DirtyCapacity:        opts.FATListDirtyCapacity,
		WriteBackConcurrency: opts.FATListWriteBackConcurrency,
	})
	if err != nil {
		return nil, err
	}

	manager := &inode.Manager{
		Caches:           caches,
		List:             list,
		Clock:            clk,
		ClusterBytesLog2: bpb.ClusterBytesLog2,
		Table:            inode.NewTable(),
	}

	fs := &FS{
		bpb:      bpb,
		caches:   caches,
		list:     list,
		manager:  manager,
		wbDone:   make(chan struct{}),
		listDone: make(chan struct{}),
	}

	manager.Spawn = func(fn func(context.Context)) {
		spawner.Spawn(context.Background(), "fat32-free-chain", fn)
	}

	wbCtx := context.Background()
	spawner.Spawn(wbCtx, "bcache-writeback", func(ctx context.Context) {
		caches.RunWriteBack(ctx)
		close(fs.wbDone)
	})
	spawner.Spawn(wbCtx, "fatlist-writeback", func(ctx context.Context) {
		list.RunWriteBack(ctx)
		close(fs.listDone)
	})

	return fs, nil
}
