// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fatlist

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/jacobsa/fat32fs/bcache"
	"github.com/jacobsa/fat32fs/cid"
	"github.com/jacobsa/fat32fs/rwsleep"
)

// entriesPerUnit is how many little-endian u32 FAT entries live in one
// sector-sized ListUnit.
func entriesPerUnit(sectorBytes int) int {
	return sectorBytes / 4
}

type unitState struct {
	buffer *bcache.Buffer
	loaded bool
}

// ListUnit is one sector-sized slice of one FAT copy, mirrored across
// fat_num replicas on write-back (spec.md section 3).
type ListUnit struct {
	ID  UnitID
	aid uint64 // atomic

	inner *rwsleep.Mutex[unitState]
}

// UnitID is the sector offset of a ListUnit within one FAT copy.
type UnitID = cid.UnitID

func newListUnit(id UnitID, sectorBytes int) *ListUnit {
	return &ListUnit{
		ID:    id,
		inner: rwsleep.New(unitState{buffer: bcache.NewBuffer(sectorBytes)}),
	}
}

func (u *ListUnit) AID() cid.AID {
	return cid.AID(atomic.LoadUint64(&u.aid))
}

func (u *ListUnit) setAID(a cid.AID) {
	atomic.StoreUint64(&u.aid, uint64(a))
}

// entryAt reads the FAT entry with index idx within the unit (an entry
// index, at byte offset idx*4) from a raw buffer.
func entryAt(buf []byte, idx int) cid.CID {
	return cid.CID(binary.LittleEndian.Uint32(buf[idx*4:]))
}

func setEntryAt(buf []byte, idx int, v cid.CID) {
	binary.LittleEndian.PutUint32(buf[idx*4:], uint32(v))
}
