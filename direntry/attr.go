// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

// Package direntry implements the on-disk directory entry codec (spec.md
// section 6): short (8.3) entries, VFAT long-name entries, the short-name
// checksum that links them, and FAT date/time conversion.
package direntry

import "time"

// Attr is the short entry attribute byte (spec.md section 6).
type Attr uint8

const (
	ReadOnly  Attr = 0x01
	Hidden    Attr = 0x02
	System    Attr = 0x04
	VolumeID  Attr = 0x08
	Directory Attr = 0x10
	Archive   Attr = 0x20

	// LongName marks a long-name entry; it aliases a combination no short
	// entry legitimately sets (ReadOnly|Hidden|System|VolumeID).
	LongName Attr = ReadOnly | Hidden | System | VolumeID
)

func (a Attr) Has(bit Attr) bool { return a&bit != 0 }

// EntrySize is the fixed byte size of every directory entry, short or long.
const EntrySize = 32

// First-byte markers for a free entry slot (spec.md section 6).
const (
	freeByteThis byte = 0xE5 // this entry is free, scan continues
	freeByteEnd  byte = 0x00 // this entry and all following are free
)

// fatEpoch is the earliest date FAT32's packed date field can represent.
var fatEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// packDateTime converts t to FAT32's packed date/time/tenth fields.
func packDateTime(t time.Time) (date, clock uint16, tenth uint8) {
	if t.Before(fatEpoch) {
		t = fatEpoch
	}
	t = t.UTC()
	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	date = uint16(year&0x7F)<<9 | uint16(t.Month()&0xF)<<5 | uint16(t.Day()&0x1F)
	clock = uint16(t.Hour()&0x1F)<<11 | uint16(t.Minute()&0x3F)<<5 | uint16((t.Second()/2)&0x1F)
	tenth = uint8((t.Second()%2)*100) + uint8(t.Nanosecond()/10000000)
	return
}

// unpackDateTime converts FAT32's packed date/time/tenth fields back to a
// time.Time in UTC. tenth is accepted by callers that have it (create
// time); pass 0 where only date+time are stored (access/modify).
func unpackDateTime(date, clock uint16, tenth uint8) time.Time {
	year := 1980 + int(date>>9)
	month := time.Month((date >> 5) & 0xF)
	if month < 1 {
		month = 1
	}
	day := int(date & 0x1F)
	if day < 1 {
		day = 1
	}
	hour := int(clock >> 11)
	min := int((clock >> 5) & 0x3F)
	sec := int(clock&0x1F)*2 + int(tenth)/100
	nsec := int(tenth%100) * 10000000
	return time.Date(year, month, day, hour, min, sec, nsec, time.UTC)
}
