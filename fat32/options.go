// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fat32

// MountOptions configures the caches and write-back concurrency Mount
// constructs, mirroring the plain-struct shape jacobsa-fuse's MountConfig
// uses for fuse.Mount rather than a builder or functional-options API.
type MountOptions struct {
	// BlockCacheCapacity bounds how many clusters bcache.Cache holds at
	// once. Zero selects a small default suitable for tests.
	BlockCacheCapacity int

	// BlockCacheDirtyCapacity bounds bcache's dirty semaphore; must be
	// strictly less than BlockCacheCapacity.
	BlockCacheDirtyCapacity int

	// BlockCacheWriteBackConcurrency bounds concurrent cluster writes
	// during one bcache drain.
	BlockCacheWriteBackConcurrency int

	// FATListCapacity bounds how many FAT list units fatlist.Manager holds
	// at once.
	FATListCapacity int

	// FATListDirtyCapacity bounds fatlist's dirty semaphore; must be
	// strictly less than FATListCapacity.
	FATListDirtyCapacity int

	// FATListWriteBackConcurrency bounds concurrent FAT sector writes per
	// drain, across all FAT copies.
	FATListWriteBackConcurrency int
}

const (
	defaultCapacity             = 64
	defaultDirtyCapacity        = 32
	defaultWriteBackConcurrency = 4
)

func (o MountOptions) withDefaults() MountOptions {
	if o.BlockCacheCapacity <= 0 {
		o.BlockCacheCapacity = defaultCapacity
	}
	if o.BlockCacheDirtyCapacity <= 0 {
		o.BlockCacheDirtyCapacity = defaultDirtyCapacity
	}
	if o.BlockCacheWriteBackConcurrency <= 0 {
		o.BlockCacheWriteBackConcurrency = defaultWriteBackConcurrency
	}
	if o.FATListCapacity <= 0 {
		o.FATListCapacity = defaultCapacity
	}
	if o.FATListDirtyCapacity <= 0 {
		o.FATListDirtyCapacity = defaultDirtyCapacity
	}
	if o.FATListWriteBackConcurrency <= 0 {
		o.FATListWriteBackConcurrency = defaultWriteBackConcurrency
	}
	return o
}
