// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

// Package blockdev defines the minimal byte-oriented async block device the
// fat32 core consumes. The kernel, its scheduler, and its real drivers are
// out of scope (spec.md section 1); this is the narrow seam a driver plugs
// into.
package blockdev

import "context"

// Device is a sector-addressed block device. Implementations may have many
// outstanding requests at once; the core never assumes serialization beyond
// what rwsleep/bcache/fatlist already provide.
type Device interface {
	// SectorSize returns the device's fixed sector size in bytes, matching
	// the BPB's bytes-per-sector field once mounted.
	SectorSize() int

	// ReadBlock reads exactly len(buf) bytes starting at sector sid into
	// buf. len(buf) must be a multiple of SectorSize().
	ReadBlock(ctx context.Context, sid uint32, buf []byte) error

	// WriteBlock writes exactly len(buf) bytes starting at sector sid.
	// len(buf) must be a multiple of SectorSize().
	WriteBlock(ctx context.Context, sid uint32, buf []byte) error
}
