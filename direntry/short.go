// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package direntry

import (
	"encoding/binary"
	"time"

	"github.com/jacobsa/fat32fs/cid"
)

// Short byte offsets within a 32-byte entry (spec.md section 6).
const (
	offName        = 0x00 // 11 bytes: 8-byte stem + 3-byte extension, space padded
	offAttr        = 0x0B
	offNTRes       = 0x0C
	offCreateTenth = 0x0D
	offCreateTime  = 0x0E
	offCreateDate  = 0x10
	offAccessDate  = 0x12
	offClusterHigh = 0x14
	offModifyTime  = 0x16
	offModifyDate  = 0x18
	offClusterLow  = 0x1A
	offFileSize    = 0x1C
)

// Short is one 32-byte short directory entry, decoded from its raw bytes.
// Name/Ext hold the padded 8+3 fields exactly as xstr.ShortName does, so
// the two packages share byte layout without depending on each other.
type Short struct {
	Name [8]byte
	Ext  [3]byte
	Attr Attr

	CreateTime time.Time
	AccessDate time.Time // date component only; FAT32 stores no access time
	ModifyTime time.Time

	Cluster  cid.CID
	FileSize uint32
}

// ParseShort decodes a 32-byte raw entry. The caller is responsible for
// having already checked it is not a long-name entry (Attr != LongName)
// and not a free marker.
func ParseShort(raw []byte) Short {
	var s Short
	copy(s.Name[:], raw[offName:offName+8])
	copy(s.Ext[:], raw[offName+8:offName+11])
	s.Attr = Attr(raw[offAttr])

	createDate := binary.LittleEndian.Uint16(raw[offCreateDate:])
	createTime := binary.LittleEndian.Uint16(raw[offCreateTime:])
	s.CreateTime = unpackDateTime(createDate, createTime, raw[offCreateTenth])

	accessDate := binary.LittleEndian.Uint16(raw[offAccessDate:])
	s.AccessDate = unpackDateTime(accessDate, 0, 0)

	modifyDate := binary.LittleEndian.Uint16(raw[offModifyDate:])
	modifyTime := binary.LittleEndian.Uint16(raw[offModifyTime:])
	s.ModifyTime = unpackDateTime(modifyDate, modifyTime, 0)

	high := uint32(binary.LittleEndian.Uint16(raw[offClusterHigh:]))
	low := uint32(binary.LittleEndian.Uint16(raw[offClusterLow:]))
	s.Cluster = cid.CID(high<<16 | low)
	s.FileSize = binary.LittleEndian.Uint32(raw[offFileSize:])
	return s
}

// Put encodes s into the 32-byte entry raw, overwriting it entirely.
func (s Short) Put(raw []byte) {
	for i := range raw[:EntrySize] {
		raw[i] = 0
	}
	copy(raw[offName:offName+8], s.Name[:])
	copy(raw[offName+8:offName+11], s.Ext[:])
	raw[offAttr] = byte(s.Attr)

	cdate, ctime, ctenth := packDateTime(s.CreateTime)
	raw[offCreateTenth] = ctenth
	binary.LittleEndian.PutUint16(raw[offCreateTime:], ctime)
	binary.LittleEndian.PutUint16(raw[offCreateDate:], cdate)

	adate, _, _ := packDateTime(s.AccessDate)
	binary.LittleEndian.PutUint16(raw[offAccessDate:], adate)

	mdate, mtime, _ := packDateTime(s.ModifyTime)
	binary.LittleEndian.PutUint16(raw[offModifyTime:], mtime)
	binary.LittleEndian.PutUint16(raw[offModifyDate:], mdate)

	binary.LittleEndian.PutUint16(raw[offClusterHigh:], uint16(uint32(s.Cluster)>>16))
	binary.LittleEndian.PutUint16(raw[offClusterLow:], uint16(uint32(s.Cluster)))
	binary.LittleEndian.PutUint32(raw[offFileSize:], s.FileSize)
}

// SetCluster rewrites only the two cluster-number fields, leaving the rest
// of raw untouched (used by short_entry_sync-style partial updates).
func SetCluster(raw []byte, c cid.CID) {
	binary.LittleEndian.PutUint16(raw[offClusterHigh:], uint16(uint32(c)>>16))
	binary.LittleEndian.PutUint16(raw[offClusterLow:], uint16(uint32(c)))
}

// SetFileSize rewrites only the file-size field.
func SetFileSize(raw []byte, n uint32) {
	binary.LittleEndian.PutUint32(raw[offFileSize:], n)
}

// IsFree reports whether raw's first byte marks it as an unused slot.
// terminal is true for the 0x00 marker, meaning every entry after it in
// the same cluster is free too.
func IsFree(raw []byte) (free, terminal bool) {
	switch raw[0] {
	case freeByteEnd:
		return true, true
	case freeByteThis:
		return true, false
	default:
		return false, false
	}
}

// MarkFree overwrites raw's first byte with the free-this-entry marker.
func MarkFree(raw []byte) {
	raw[0] = freeByteThis
}

// Checksum computes the 8.3-name checksum VFAT long entries carry, over
// the raw 11-byte padded name field (spec.md section 6 / standard FAT32
// VFAT checksum algorithm).
func Checksum(name [8]byte, ext [3]byte) uint8 {
	var sum uint8
	for _, b := range name {
		sum = (sum>>1 | sum<<7) + b
	}
	for _, b := range ext {
		sum = (sum>>1 | sum<<7) + b
	}
	return sum
}
