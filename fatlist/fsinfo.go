// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fatlist

import "encoding/binary"

const (
	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000

	fsInfoFreeCountOffset = 0x1E8
	fsInfoNextFreeOffset  = 0x1EC
)

// FsInfo mirrors the on-disk auxiliary sector recording free-cluster count
// and a search hint (spec.md section 6).
type FsInfo struct {
	FreeCount uint32
	NextFree  uint32
}

// parseFsInfo reads an FsInfo out of a raw sector buffer.
func parseFsInfo(buf []byte) FsInfo {
	return FsInfo{
		FreeCount: binary.LittleEndian.Uint32(buf[fsInfoFreeCountOffset:]),
		NextFree:  binary.LittleEndian.Uint32(buf[fsInfoNextFreeOffset:]),
	}
}

// storeFsInfo writes free/next into buf, preserving the rest of the sector
// (reserved bytes, boot strap code) and the fixed signatures.
func storeFsInfo(buf []byte, free, next uint32) {
	binary.LittleEndian.PutUint32(buf[0:], fsInfoLeadSignature)
	binary.LittleEndian.PutUint32(buf[0x1E4:], fsInfoStructSignature)
	binary.LittleEndian.PutUint32(buf[fsInfoFreeCountOffset:], free)
	binary.LittleEndian.PutUint32(buf[fsInfoNextFreeOffset:], next)
	binary.LittleEndian.PutUint32(buf[0x1FC:], fsInfoTrailSignature)
}

// fsInfoState is the 4-state machine from spec.md section 9: it prevents a
// lost update when a mutation races an in-flight write-back. Exactly one
// write-back goroutine is expected to touch FsInfo at a time (fatlist
// spawns only one), so a second concurrent transition into SyncClean is a
// bug, not a recoverable condition.
type fsInfoState int

const (
	fsInfoClean fsInfoState = iota
	fsInfoDirty
	fsInfoSyncClean
	fsInfoSyncDirty
)

func (s fsInfoState) needsSync() bool {
	return s == fsInfoDirty
}

func (s fsInfoState) intoDirty() fsInfoState {
	switch s {
	case fsInfoClean, fsInfoDirty:
		return fsInfoDirty
	default:
		return fsInfoSyncDirty
	}
}

func (s fsInfoState) intoDevice() fsInfoState {
	switch s {
	case fsInfoDirty:
		return fsInfoSyncClean
	default:
		panic("fatlist: fsInfo intoDevice from a state with no pending write")
	}
}

func (s fsInfoState) leaveDevice() fsInfoState {
	switch s {
	case fsInfoSyncClean:
		return fsInfoClean
	case fsInfoSyncDirty:
		return fsInfoDirty
	default:
		panic("fatlist: fsInfo leaveDevice from a state with no in-flight write")
	}
}
