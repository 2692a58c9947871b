// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package blockdev

import (
	"context"
	"os"
)

// FileDevice adapts an *os.File (a disk image or a raw block device node)
// to Device. Used by samples/fat32fs to mount a real FAT32 volume file.
type FileDevice struct {
	f          *os.File
	sectorSize int
}

// NewFileDevice wraps f, assuming the given sector size.
func NewFileDevice(f *os.File, sectorSize int) *FileDevice {
	return &FileDevice{f: f, sectorSize: sectorSize}
}

func (d *FileDevice) SectorSize() int {
	return d.sectorSize
}

func (d *FileDevice) ReadBlock(ctx context.Context, sid uint32, buf []byte) error {
	_, err := d.f.ReadAt(buf, int64(sid)*int64(d.sectorSize))
	return err
}

func (d *FileDevice) WriteBlock(ctx context.Context, sid uint32, buf []byte) error {
	_, err := d.f.WriteAt(buf, int64(sid)*int64(d.sectorSize))
	return err
}

// Close closes the underlying file.
func (d *FileDevice) Close() error {
	return d.f.Close()
}
