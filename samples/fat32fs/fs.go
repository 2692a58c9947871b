// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

// Package fat32fs adapts the fat32 engine to fuseutil.FileSystem, the
// surface a real kernel mount (or an in-process test) drives. It is the
// "VFS glue" layer spec.md leaves unspecified: translating FUSE's
// inode-ID-and-handle-ID contract into the fat32/inode package's
// directory-entry-location contract, and ferr's Kind taxonomy into
// syscall.Errno values.
package fat32fs

import (
	"context"
	"os"

	"github.com/jacobsa/fat32fs/direntry"
	"github.com/jacobsa/fat32fs/fat32"
	"github.com/jacobsa/fat32fs/ferr"
	"github.com/jacobsa/fat32fs/fuseops"
	"github.com/jacobsa/fat32fs/fuseutil"
	"github.com/jacobsa/fat32fs/inode"
	"github.com/jacobsa/syncutil"
)

// node is the kernel-visible inode this adapter hands out: a FUSE inode ID
// bound to one fat32 directory entry, with exactly one of dir/file set.
type node struct {
	id  fuseops.InodeID
	loc inode.Location

	dir  *inode.Dir
	file *inode.File

	// refCount mirrors the kernel's own LookUpInode/ForgetInode reference
	// count for this inode ID (spec.md has no notion of this; it is purely
	// a FUSE VFS contract). It is independent of inode.Table's own
	// handle-level refcounting underneath dir/file.
	refCount uint64
}

func (n *node) isDir() bool { return n.dir != nil }

func (n *node) attr() direntry.Short {
	if n.isDir() {
		return n.dir.Stat()
	}
	return n.file.Stat()
}

func (n *node) close() {
	if n.isDir() {
		n.dir.Close()
		return
	}
	n.file.Close()
}

// dirHandle is the state behind one OpenDirOp/ReleaseDirHandleOp pair: a
// directory listing snapshotted lazily on the first ReadDir at offset 0,
// matching how readdir(3) expects a stable view across one sweep.
type dirHandle struct {
	node    *node
	entries []fuseops.Dirent
}

// FileSystem implements fuseutil.FileSystem over one mounted fat32.FS.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	volume *fat32.FS

	mu syncutil.InvariantMutex

	nextInode fuseops.InodeID                // GUARDED_BY(mu)
	nodes     map[fuseops.InodeID]*node       // GUARDED_BY(mu)
	byLoc     map[inode.Location]fuseops.InodeID // GUARDED_BY(mu)

	nextHandle fuseops.HandleID               // GUARDED_BY(mu)
	dirHandles map[fuseops.HandleID]*dirHandle // GUARDED_BY(mu)
	fileNodes  map[fuseops.HandleID]*node       // GUARDED_BY(mu)
}

// NewFileSystem wraps volume as a fuseutil.FileSystem implementation,
// ready to be driven by op-struct method calls.
func NewFileSystem(volume *fat32.FS, root *inode.Dir) (*FileSystem, error) {
	fs := &FileSystem{
		volume:     volume,
		nextInode:  fuseops.RootInodeID + 1,
		nodes:      make(map[fuseops.InodeID]*node),
		byLoc:      make(map[inode.Location]fuseops.InodeID),
		nextHandle: 1,
		dirHandles: make(map[fuseops.HandleID]*dirHandle),
		fileNodes:  make(map[fuseops.HandleID]*node),
	}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	rootNode := &node{id: fuseops.RootInodeID, dir: root, refCount: 1}
	fs.nodes[fuseops.RootInodeID] = rootNode
	// The root has no directory entry of its own (inode.RootPlace), so it
	// is deliberately left out of byLoc: nothing ever looks it up by
	// location, only by fuseops.RootInodeID.

	return fs, nil
}

func (fs *FileSystem) checkInvariants() {
	if _, ok := fs.nodes[fuseops.RootInodeID]; !ok {
		panic("root inode missing")
	}
	for loc, id := range fs.byLoc {
		n, ok := fs.nodes[id]
		if !ok {
			panic("byLoc entry with no node")
		}
		if n.loc != loc {
			panic("byLoc/node location mismatch")
		}
	}
}

// ensureNode returns the live node for the child (short, start, place)
// resolved under parent, materializing a fresh fat32 handle and minting a
// new inode ID the first time this location is seen. Mirrors how
// inode.Table.GetOrInsert dedupes concurrent opens of the same location,
// one layer up, over fuseops.InodeID instead of inode.Location.
func (fs *FileSystem) ensureNode(ctx context.Context, parent *node, short direntry.Short, start, place inode.Place) (*node, error) {
	loc := place.Location()

	fs.mu.Lock()
	if id, ok := fs.byLoc[loc]; ok {
		n := fs.nodes[id]
		n.refCount++
		fs.mu.Unlock()
		return n, nil
	}
	fs.mu.Unlock()

	var n *node
	var err error
	if short.Attr.Has(direntry.Directory) {
		var d *inode.Dir
		d, err = fs.volume.OpenDir(parent.dir, loc, short, start, place)
		n = &node{loc: loc, dir: d}
	} else {
		var f *inode.File
		f, err = fs.volume.OpenFile(parent.dir, loc, short, start, place)
		n = &node{loc: loc, file: f}
	}
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if id, ok := fs.byLoc[loc]; ok {
		// Lost the race: someone else materialized this location first.
		n.close()
		existing := fs.nodes[id]
		existing.refCount++
		return existing, nil
	}

	n.id = fs.nextInode
	fs.nextInode++
	n.refCount = 1
	fs.nodes[n.id] = n
	fs.byLoc[loc] = n.id
	return n, nil
}

// attrsForNode computes the InodeAttributes the kernel expects, from the
// entry's short directory entry and (for files) its current size.
func attrsForNode(n *node) fuseops.InodeAttributes {
	short := n.attr()

	mode := os.FileMode(0644)
	if n.isDir() {
		mode = os.ModeDir | 0755
	} else if short.Attr.Has(direntry.ReadOnly) {
		mode &^= 0222
	}

	var size uint64
	if !n.isDir() {
		size = uint64(n.file.FileBytes())
	}

	return fuseops.InodeAttributes{
		Size:   size,
		Nlink:  1,
		Mode:   mode,
		Atime:  short.AccessDate,
		Mtime:  short.ModifyTime,
		Ctime:  short.ModifyTime,
		Crtime: short.CreateTime,
	}
}

func (fs *FileSystem) lookupNode(id fuseops.InodeID) (*node, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[id]
	return n, ok
}

// Init responds immediately; this file system keeps no per-mount state
// beyond what NewFileSystem already built.
func (fs *FileSystem) Init(op *fuseops.InitOp) {
	op.Respond(nil)
}

func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) {
	ctx := context.Background()
	parent, ok := fs.lookupNode(op.Parent)
	if !ok || !parent.isDir() {
		op.Respond(errnoFor(ferr.NotFound))
		return
	}

	short, start, place, found, err := parent.dir.SearchEntry(ctx, op.Name)
	if err != nil {
		op.Respond(errnoFromErr(err))
		return
	}
	if !found {
		op.Respond(errnoFor(ferr.NotFound))
		return
	}

	child, err := fs.ensureNode(ctx, parent, short, start, place)
	if err != nil {
		op.Respond(errnoFromErr(err))
		return
	}

	op.Entry = fuseops.ChildInodeEntry{
		Child:      child.id,
		Attributes: attrsForNode(child),
	}
	op.Respond(nil)
}

func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) {
	n, ok := fs.lookupNode(op.Inode)
	if !ok {
		op.Respond(errnoFor(ferr.NotFound))
		return
	}
	op.Attributes = attrsForNode(n)
	op.Respond(nil)
}

// SetInodeAttributes only honors a Size change (ftruncate/O_TRUNC); FAT's
// attribute byte has no room for POSIX mode/uid/gid and FAT32 has no
// sub-second or explicit atime/mtime setter worth wiring through, so those
// fields are accepted and silently ignored rather than rejected.
func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) {
	ctx := context.Background()
	n, ok := fs.lookupNode(op.Inode)
	if !ok {
		op.Respond(errnoFor(ferr.NotFound))
		return
	}
	if n.isDir() {
		op.Respond(errnoFor(ferr.IsDirectory))
		return
	}

	if op.Size != nil {
		clusterBytes := fs.volume.Statfs().ClusterBytes
		nClusters := (int(*op.Size) + clusterBytes - 1) / clusterBytes
		if err := n.file.Resize(ctx, nClusters, zeroInit); err != nil {
			op.Respond(errnoFromErr(err))
			return
		}
		n.file.SetFileBytes(uint32(*op.Size))
		n.file.Touch(false, true)
		if err := n.file.ShortEntrySync(ctx); err != nil {
			op.Respond(errnoFromErr(err))
			return
		}
	}

	op.Attributes = attrsForNode(n)
	op.Respond(nil)
}

func zeroInit(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// ForgetInode drops one kernel-visible reference; once the count reaches
// zero the underlying fat32 handle is closed, which is what actually frees
// a detached file's cluster chain (inode.Table.Release's job, one layer
// down).
func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) {
	fs.mu.Lock()
	n, ok := fs.nodes[op.ID]
	if !ok {
		fs.mu.Unlock()
		op.Respond(nil)
		return
	}
	n.refCount--
	done := n.refCount == 0
	if done {
		delete(fs.nodes, n.id)
		delete(fs.byLoc, n.loc)
	}
	fs.mu.Unlock()

	if done {
		n.close()
	}
	op.Respond(nil)
}
