// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package direntry

import (
	"testing"
	"time"

	"github.com/jacobsa/fat32fs/cid"
)

func TestShortRoundTrip(t *testing.T) {
	var s Short
	copy(s.Name[:], "FOO     ")
	copy(s.Ext[:], "TXT")
	s.Attr = Archive
	s.Cluster = cid.CID(12345)
	s.FileSize = 9001
	now := time.Date(2020, 3, 4, 5, 6, 8, 0, time.UTC)
	s.CreateTime = now
	s.AccessDate = now
	s.ModifyTime = now

	raw := make([]byte, EntrySize)
	s.Put(raw)
	got := ParseShort(raw)

	if got.Name != s.Name || got.Ext != s.Ext {
		t.Fatalf("name/ext mismatch: got %+v", got)
	}
	if got.Attr != s.Attr {
		t.Fatalf("attr mismatch: got %v want %v", got.Attr, s.Attr)
	}
	if got.Cluster != s.Cluster {
		t.Fatalf("cluster mismatch: got %v want %v", got.Cluster, s.Cluster)
	}
	if got.FileSize != s.FileSize {
		t.Fatalf("file size mismatch: got %v want %v", got.FileSize, s.FileSize)
	}
	if !got.ModifyTime.Equal(now) {
		t.Fatalf("modify time mismatch: got %v want %v", got.ModifyTime, now)
	}
}

func TestSetClusterAndFileSize(t *testing.T) {
	raw := make([]byte, EntrySize)
	SetCluster(raw, cid.CID(0xABCDE))
	SetFileSize(raw, 42)

	got := ParseShort(raw)
	if got.Cluster != cid.CID(0xABCDE) {
		t.Fatalf("got cluster %v", got.Cluster)
	}
	if got.FileSize != 42 {
		t.Fatalf("got file size %v", got.FileSize)
	}
}

func TestIsFree(t *testing.T) {
	raw := make([]byte, EntrySize)
	raw[0] = 0xE5
	if free, terminal := IsFree(raw); !free || terminal {
		t.Fatalf("got free=%v terminal=%v, want free, non-terminal", free, terminal)
	}
	raw[0] = 0x00
	if free, terminal := IsFree(raw); !free || !terminal {
		t.Fatalf("got free=%v terminal=%v, want free, terminal", free, terminal)
	}
	raw[0] = 'F'
	if free, _ := IsFree(raw); free {
		t.Fatal("expected a real entry to not be free")
	}
}

func TestLongRoundTrip(t *testing.T) {
	l := Long{Seq: 2, Last: true, Checksum: 0x7A}
	for i := range l.Units {
		l.Units[i] = uint16('a' + i)
	}
	raw := make([]byte, EntrySize)
	l.Put(raw)

	if !IsLongEntry(raw) {
		t.Fatal("expected long entry attribute to round-trip")
	}
	got := ParseLong(raw)
	if got.Seq != 2 || !got.Last || got.Checksum != 0x7A {
		t.Fatalf("got %+v", got)
	}
	if got.Units != l.Units {
		t.Fatalf("got units %v want %v", got.Units, l.Units)
	}
}

func TestEntriesNeeded(t *testing.T) {
	cases := []struct {
		units int
		want  int
	}{
		{0, 1},
		{1, 2},
		{13, 2},
		{14, 3},
		{26, 3},
		{27, 4},
	}
	for _, c := range cases {
		if got := EntriesNeeded(c.units); got != c.want {
			t.Fatalf("EntriesNeeded(%d) = %d, want %d", c.units, got, c.want)
		}
	}
}

func TestChecksumMatchesKnownVector(t *testing.T) {
	var name [8]byte
	var ext [3]byte
	copy(name[:], "FOO     ")
	copy(ext[:], "BAR")
	if got := Checksum(name, ext); got != 83 {
		t.Fatalf("got checksum %d, want 83", got)
	}
}
