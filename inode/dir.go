// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package inode

import (
	"context"
	"strings"

	"github.com/jacobsa/fat32fs/cid"
	"github.com/jacobsa/fat32fs/direntry"
	"github.com/jacobsa/fat32fs/ferr"
	"github.com/jacobsa/fat32fs/xstr"
)

// Dir is a directory handle: list/search/create/delete operations against
// the entries stored in its own cluster chain (spec.md section 4.5).
type Dir struct {
	*RawInode
}

// dirEntry is one decoded directory slot: a name (long if the preceding
// long-name run decoded cleanly, otherwise the raw short name) alongside
// its short entry and on-disk locations.
type dirEntry struct {
	long       string
	short      direntry.Short
	startPlace Place
	place      Place
}

func formatShortName(name [8]byte, ext [3]byte) string {
	n := strings.TrimRight(string(name[:]), " ")
	e := strings.TrimRight(string(ext[:]), " ")
	if e == "" {
		return n
	}
	return n + "." + e
}

func (d dirEntry) name() string {
	if d.long != "" {
		return d.long
	}
	return formatShortName(d.short.Name, d.short.Ext)
}

func (d dirEntry) isDot() bool {
	return d.long == "" &&
		d.short.Name[0] == '.' && (d.short.Name[1] == '.' || d.short.Name[1] == ' ') &&
		d.short.Name[2] == ' ' && d.short.Ext[0] == ' '
}

func (d dirEntry) shortSame(name [8]byte, ext [3]byte) bool {
	return d.long == "" && d.short.Name == name && d.short.Ext == ext
}

func (d dirEntry) longSame(s string) bool {
	return d.long != "" && strings.EqualFold(d.long, s)
}

// rawEntryFold walks every 32-byte slot across this directory's clusters
// in order, calling f for each. f returns stop=true to end the walk
// early. Mirrors DirInode::raw_entry_try_fold.
func (d *Dir) rawEntryFold(ctx context.Context, f func(raw []byte, place Place) (stop bool)) error {
	blockOff := 0
	for {
		ref, cl, ok, _, err := d.GetNthBlock(ctx, blockOff)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		var stop bool
		err = ref.ReadRO(ctx, func(buf []byte) {
			for off := 0; off+direntry.EntrySize <= len(buf); off += direntry.EntrySize {
				raw := buf[off : off+direntry.EntrySize]
				place := Place{ClusterOff: blockOff, Cid: cl, EntryOff: off / direntry.EntrySize}
				if stop = f(raw, place); stop {
					return
				}
			}
		})
		ref.Release()
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
		blockOff++
	}
}

// longBuilder accumulates a VFAT long-name run as rawEntryFold walks
// forward through it, mirroring LongNameBuilder.
type longBuilder struct {
	units     [][13]uint16
	current   int
	checksum  uint8
	start     Place
	haveStart bool
}

func (b *longBuilder) clear() {
	b.units = nil
	b.current = 0
	b.haveStart = false
}

func (b *longBuilder) pushLong(l direntry.Long, place Place) {
	if l.Last {
		b.current = int(l.Seq)
		b.start = place
		b.haveStart = true
		b.checksum = l.Checksum
	} else if b.current != int(l.Seq)+1 || b.checksum != l.Checksum {
		b.current = 0
	}
	if b.current == 0 {
		b.clear()
		return
	}
	b.current = int(l.Seq)
	// Prepend: fragments arrive in storage order (last-physical first,
	// carrying the *first* 13 characters), so the newest one goes at the
	// front of the logical sequence.
	b.units = append([][13]uint16{l.Units}, b.units...)
}

func (b *longBuilder) success() bool { return b.current == 1 }

func (b *longBuilder) decode() string {
	if b.current != 1 {
		return ""
	}
	return xstr.FromUTF16(reverseGroups(b.units))
}

// reverseGroups restores storage order (last-physical-entry first) from
// the logical order longBuilder accumulates in, matching FromUTF16's
// documented input contract.
func reverseGroups(groups [][13]uint16) [][13]uint16 {
	out := make([][13]uint16, len(groups))
	for i, g := range groups {
		out[len(groups)-1-i] = g
	}
	return out
}

// nameFold walks complete directory entries (each a short entry plus its
// preceding long-name run, if any), calling f for each. Mirrors
// DirInode::name_try_fold.
func (d *Dir) nameFold(ctx context.Context, f func(dirEntry) (stop bool)) error {
	b := &longBuilder{}
	var outerStop bool
	err := d.rawEntryFold(ctx, func(raw []byte, place Place) bool {
		if free, _ := direntry.IsFree(raw); free {
			b.clear()
			return false
		}
		if direntry.IsLongEntry(raw) {
			b.pushLong(direntry.ParseLong(raw), place)
			return false
		}
		short := direntry.ParseShort(raw)
		de := dirEntry{short: short, place: place}
		if b.success() {
			de.long = b.decode()
			de.startPlace = b.start
		} else {
			de.startPlace = place
		}
		b.clear()
		outerStop = f(de)
		return outerStop
	})
	return err
}

// List returns the names of every live entry in this directory.
func (d *Dir) List(ctx context.Context) ([]string, error) {
	unlock, err := d.lockShared(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var names []string
	err = d.nameFold(ctx, func(e dirEntry) bool {
		names = append(names, e.name())
		return false
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (d *Dir) searchImpl(ctx context.Context, name string) (short direntry.Short, start, place Place, ok bool, err error) {
	if sn, isShort := xstr.ToJustShort(name); isShort {
		err = d.nameFold(ctx, func(e dirEntry) bool {
			if e.shortSame(sn.Name, sn.Ext) {
				short, start, place, ok = e.short, e.startPlace, e.place, true
				return true
			}
			return false
		})
	} else {
		err = d.nameFold(ctx, func(e dirEntry) bool {
			if e.longSame(name) {
				short, start, place, ok = e.short, e.startPlace, e.place, true
				return true
			}
			return false
		})
	}
	return
}

// Search resolves a child by name, returning its Location for the
// manager's inode table alongside its short entry.
func (d *Dir) Search(ctx context.Context, name string) (Location, direntry.Short, bool, error) {
	unlock, err := d.lockShared(ctx)
	if err != nil {
		return Location{}, direntry.Short{}, false, err
	}
	defer unlock()

	name, err = xstr.Check(name)
	if err != nil {
		return Location{}, direntry.Short{}, false, err
	}
	short, _, place, ok, err := d.searchImpl(ctx, name)
	if err != nil || !ok {
		return Location{}, direntry.Short{}, false, err
	}
	return place.Location(), short, true, nil
}

// SearchEntry resolves a child by name, returning everything
// Manager.OpenDir/OpenFile need to materialize a handle for it.
func (d *Dir) SearchEntry(ctx context.Context, name string) (short direntry.Short, start, place Place, ok bool, err error) {
	unlock, err := d.lockShared(ctx)
	if err != nil {
		return direntry.Short{}, Place{}, Place{}, false, err
	}
	defer unlock()

	name, err = xstr.Check(name)
	if err != nil {
		return direntry.Short{}, Place{}, Place{}, false, err
	}
	return d.searchImpl(ctx, name)
}

// shortDetect picks a collision-free 8.3 short name for name within this
// directory, mirroring DirInode::short_detect.
func (d *Dir) shortDetect(ctx context.Context, name string) (*xstr.ShortFinder, error) {
	finder := xstr.New(name)
	if finder.ShortOnly() {
		return finder, nil
	}
	err := d.rawEntryFold(ctx, func(raw []byte, _ Place) bool {
		if direntry.IsLongEntry(raw) {
			return false
		}
		free, _ := direntry.IsFree(raw)
		short := direntry.ParseShort(raw)
		finder.Record(short.Name, short.Ext, free)
		return false
	})
	return finder, err
}

// CreateFile creates a new, empty regular file named name in this
// directory (spec.md section 4.5).
func (d *Dir) CreateFile(ctx context.Context, name string, readOnly, hidden bool) error {
	return d.createEntry(ctx, name, readOnly, hidden, false)
}

// CreateDir creates a new, empty subdirectory named name in this
// directory, pre-populating it with "." and ".." entries.
func (d *Dir) CreateDir(ctx context.Context, name string, readOnly, hidden bool) error {
	return d.createEntry(ctx, name, readOnly, hidden, true)
}

func (d *Dir) createEntry(ctx context.Context, name string, readOnly, hidden, isDir bool) error {
	unlock, err := d.lockExclusive(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	name, err = xstr.Check(name)
	if err != nil {
		return err
	}
	if _, _, _, ok, err := d.searchImpl(ctx, name); err != nil {
		return err
	} else if ok {
		return ferr.New("create", ferr.AlreadyExists)
	}

	finder, err := d.shortDetect(ctx, name)
	if err != nil {
		return err
	}
	nameB, extB := finder.Apply()

	now := d.manager.now()
	var short direntry.Short
	short.Name, short.Ext = nameB, extB
	short.CreateTime, short.AccessDate, short.ModifyTime = now, now, now
	if readOnly {
		short.Attr |= direntry.ReadOnly
	}
	if hidden {
		short.Attr |= direntry.Hidden
	}

	if isDir {
		var parentCID cid.CID
		if d.parent != nil {
			d.parent.mu.RLock()
			parentCID = d.parent.cidStart
			d.parent.mu.RUnlock()
		} else {
			parentCID = d.cache.cidStart
		}
		d.cache.mu.RLock()
		thisCID := d.cache.cidStart
		d.cache.mu.RUnlock()

		p, perr := d.manager.List.TakePermit(ctx)
		if perr != nil {
			return perr
		}
		newCID, err := d.manager.List.AllocCluster(ctx, p)
		if err != nil {
			return err
		}
		_, err = d.manager.Caches.GetBlockInit(ctx, newCID, func(buf []byte) {
			zeroDirCluster(buf)
			var dot, dotdot direntry.Short
			dot.Name = [8]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
			dot.Ext = [3]byte{' ', ' ', ' '}
			dot.Attr = direntry.Directory
			dot.Cluster = thisCID
			dot.CreateTime, dot.AccessDate, dot.ModifyTime = now, now, now
			dot.Put(buf[0:direntry.EntrySize])

			dotdot.Name = [8]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' '}
			dotdot.Ext = [3]byte{' ', ' ', ' '}
			dotdot.Attr = direntry.Directory
			dotdot.Cluster = parentCID
			dotdot.CreateTime, dotdot.AccessDate, dotdot.ModifyTime = now, now, now
			dotdot.Put(buf[direntry.EntrySize : 2*direntry.EntrySize])
		})
		if err != nil {
			return err
		}
		short.Attr |= direntry.Directory
		short.Cluster = newCID
	} else {
		short.Cluster = cid.Free
	}

	_, err = d.createEntryImpl(ctx, name, short)
	return err
}

func zeroDirCluster(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// createEntryImpl finds room for EntriesNeeded(name) contiguous free
// slots (scanning for a run, else appending a fresh cluster) and writes
// the long-name fragments followed by the short entry. Mirrors
// DirInode::create_entry_impl.
func (d *Dir) createEntryImpl(ctx context.Context, name string, short direntry.Short) (Place, error) {
	var groups [][13]uint16
	if _, isShort := xstr.ToJustShort(name); !isShort {
		var err error
		groups, err = xstr.ToUTF16(name)
		if err != nil {
			return Place{}, err
		}
	}
	needLen := len(groups) + 1

	runLen := 0
	var runStart Place
	haveRun := false
	err := d.rawEntryFold(ctx, func(raw []byte, place Place) bool {
		free, _ := direntry.IsFree(raw)
		if !free {
			runLen, haveRun = 0, false
			return false
		}
		if runLen == 0 {
			runStart, haveRun = place, true
		}
		runLen++
		return runLen == needLen
	})
	if err != nil {
		return Place{}, err
	}

	checksum := direntry.Checksum(short.Name, short.Ext)
	entries := make([][direntry.EntrySize]byte, needLen)
	for i, g := range groups {
		// Reverse order: slot 0 holds the highest-order (physically last)
		// fragment, carrying the first 13 characters of the name.
		order := len(groups) - i
		l := direntry.Long{Seq: uint8(order), Last: order == len(groups), Checksum: checksum, Units: g}
		l.Put(entries[i][:])
	}
	short.Put(entries[needLen-1][:])

	if !haveRun || runLen < needLen {
		off, cl, ref, err := d.AppendBlock(ctx, zeroDirCluster)
		if err != nil {
			return Place{}, err
		}
		err = d.manager.Caches.WriteBlock(ctx, ref, func(buf []byte) {
			for i, e := range entries {
				copy(buf[i*direntry.EntrySize:(i+1)*direntry.EntrySize], e[:])
			}
		})
		if err != nil {
			return Place{}, err
		}
		return Place{ClusterOff: off, Cid: cl, EntryOff: needLen - 1}, nil
	}

	ref, err := d.manager.Caches.GetBlock(ctx, runStart.Cid)
	if err != nil {
		return Place{}, err
	}
	err = d.manager.Caches.WriteBlock(ctx, ref, func(buf []byte) {
		for i, e := range entries {
			off := (runStart.EntryOff + i) * direntry.EntrySize
			copy(buf[off:off+direntry.EntrySize], e[:])
		}
	})
	if err != nil {
		return Place{}, err
	}
	return Place{ClusterOff: runStart.ClusterOff, Cid: runStart.Cid, EntryOff: runStart.EntryOff + needLen - 1}, nil
}

// DeleteAny removes the child named name, whether it is a file or a
// directory (spec.md section 4.5's delete_any).
func (d *Dir) DeleteAny(ctx context.Context, name string) error {
	return d.deleteNamed(ctx, name, false, false)
}

// DeleteDir removes an empty subdirectory named name. Returns
// NotDirectory if name names a file.
func (d *Dir) DeleteDir(ctx context.Context, name string) error {
	return d.deleteNamed(ctx, name, true, false)
}

// DeleteFile removes a regular file named name. Returns IsDirectory if
// name names a directory.
func (d *Dir) DeleteFile(ctx context.Context, name string) error {
	return d.deleteNamed(ctx, name, false, true)
}

func (d *Dir) deleteNamed(ctx context.Context, name string, wantDir, wantFile bool) error {
	unlock, err := d.lockExclusive(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	name, err = xstr.Check(name)
	if err != nil {
		return err
	}
	short, start, place, ok, err := d.searchImpl(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return ferr.New("delete", ferr.NotFound)
	}
	isDir := short.Attr.Has(direntry.Directory)
	if wantDir && !isDir {
		return ferr.New("delete", ferr.NotDirectory)
	}
	if wantFile && isDir {
		return ferr.New("delete", ferr.IsDirectory)
	}

	var chainCID cid.CID
	if isDir {
		chainCID, err = d.deleteDirImpl(ctx, short, start, place)
	} else {
		chainCID, err = d.deleteFileImpl(ctx, short, start, place)
	}
	if err != nil {
		return err
	}
	if chainCID.IsNext() {
		ps, err := d.manager.List.NewPermitSet(ctx, 32)
		if err != nil {
			return err
		}
		if _, _, err := d.manager.List.FreeClusterAt(ctx, chainCID, ps); err != nil {
			return err
		}
		p, err := d.manager.List.TakePermit(ctx)
		if err != nil {
			return err
		}
		if err := d.manager.List.FreeCluster(ctx, chainCID, p); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dir) deleteDirImpl(ctx context.Context, short direntry.Short, start, place Place) (cid.CID, error) {
	loc := place.Location()
	if !d.manager.Table.CheckUnused(loc) {
		return 0, ferr.New("delete_dir", ferr.WouldBlock)
	}

	child := d.manager.Table.GetOrInsert(loc, d.manager, func() (direntry.Short, Place, Place) {
		return short, start, place
	})
	defer d.manager.Table.Release(child)

	childDir := &Dir{RawInode: newRawInode(d.manager, child, d.cache, false)}
	empty := true
	err := childDir.nameFold(ctx, func(e dirEntry) bool {
		if !e.isDot() {
			empty = false
			return true
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	if !empty {
		return 0, ferr.New("delete_dir", ferr.NotEmpty)
	}
	return d.deleteEntry(ctx, start, place)
}

func (d *Dir) deleteFileImpl(ctx context.Context, short direntry.Short, start, place Place) (cid.CID, error) {
	loc := place.Location()
	if !d.manager.Table.CheckUnused(loc) {
		return 0, ferr.New("delete_file", ferr.WouldBlock)
	}
	_ = short
	return d.deleteEntry(ctx, start, place)
}

// deleteEntry frees the long+short entry run by marking each slot free,
// returning the short entry's own starting cluster so the caller can free
// its chain after releasing the directory lock. Mirrors
// DirInode::delete_entry.
func (d *Dir) deleteEntry(ctx context.Context, start, short Place) (cid.CID, error) {
	single := start.ClusterOff == short.ClusterOff
	ref, err := d.manager.Caches.GetBlock(ctx, start.Cid)
	if err != nil {
		return 0, err
	}
	var chainCID cid.CID
	var haveChain bool
	err = d.manager.Caches.WriteBlock(ctx, ref, func(buf []byte) {
		end := len(buf) / direntry.EntrySize
		if single {
			end = short.EntryOff
		}
		for i := start.EntryOff; i < end; i++ {
			direntry.MarkFree(buf[i*direntry.EntrySize : (i+1)*direntry.EntrySize])
		}
		if single {
			off := short.EntryOff * direntry.EntrySize
			s := direntry.ParseShort(buf[off : off+direntry.EntrySize])
			chainCID, haveChain = s.Cluster, true
			direntry.MarkFree(buf[off : off+direntry.EntrySize])
		}
	})
	if err != nil {
		return 0, err
	}
	if haveChain {
		return chainCID, nil
	}

	ref2, err := d.manager.Caches.GetBlock(ctx, short.Cid)
	if err != nil {
		return 0, err
	}
	err = d.manager.Caches.WriteBlock(ctx, ref2, func(buf []byte) {
		for i := 0; i < short.EntryOff; i++ {
			direntry.MarkFree(buf[i*direntry.EntrySize : (i+1)*direntry.EntrySize])
		}
		off := short.EntryOff * direntry.EntrySize
		s := direntry.ParseShort(buf[off : off+direntry.EntrySize])
		chainCID = s.Cluster
		direntry.MarkFree(buf[off : off+direntry.EntrySize])
	})
	if err != nil {
		return 0, err
	}
	return chainCID, nil
}
