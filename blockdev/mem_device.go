// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package blockdev

import (
	"context"
	"fmt"
	"sync"
)

// MemDevice is a Device backed by a plain byte slice, used throughout the
// package tests that exercise bcache/fatlist/inode against a deterministic
// volume without a real disk.
type MemDevice struct {
	sectorSize int

	mu   sync.Mutex
	data []byte
}

// NewMemDevice creates a zero-filled device of the given size in sectors.
func NewMemDevice(sectorSize, sectorCount int) *MemDevice {
	return &MemDevice{
		sectorSize: sectorSize,
		data:       make([]byte, sectorSize*sectorCount),
	}
}

func (d *MemDevice) SectorSize() int {
	return d.sectorSize
}

func (d *MemDevice) ReadBlock(ctx context.Context, sid uint32, buf []byte) error {
	off := int(sid) * d.sectorSize
	d.mu.Lock()
	defer d.mu.Unlock()

	if off < 0 || off+len(buf) > len(d.data) {
		return fmt.Errorf("blockdev: read out of range: sid=%d len=%d", sid, len(buf))
	}
	copy(buf, d.data[off:off+len(buf)])
	return nil
}

func (d *MemDevice) WriteBlock(ctx context.Context, sid uint32, buf []byte) error {
	off := int(sid) * d.sectorSize
	d.mu.Lock()
	defer d.mu.Unlock()

	if off < 0 || off+len(buf) > len(d.data) {
		return fmt.Errorf("blockdev: write out of range: sid=%d len=%d", sid, len(buf))
	}
	copy(d.data[off:off+len(buf)], buf)
	return nil
}

// Bytes returns the raw backing storage. Callers must not mutate it
// concurrently with in-flight I/O.
func (d *MemDevice) Bytes() []byte {
	return d.data
}
