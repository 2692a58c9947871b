// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fat32fs

import (
	"context"

	"github.com/jacobsa/fat32fs/direntry"
	"github.com/jacobsa/fat32fs/ferr"
	"github.com/jacobsa/fat32fs/fuseops"
	"github.com/jacobsa/fat32fs/fuseutil"
)

func (fs *FileSystem) createChild(ctx context.Context, parentID fuseops.InodeID, name string, isDir, readOnly bool, entry *fuseops.ChildInodeEntry) error {
	parent, ok := fs.lookupNode(parentID)
	if !ok || !parent.isDir() {
		return ferr.New("create", ferr.NotFound)
	}

	var err error
	if isDir {
		err = parent.dir.CreateDir(ctx, name, readOnly, false)
	} else {
		err = parent.dir.CreateFile(ctx, name, readOnly, false)
	}
	if err != nil {
		return err
	}

	short, start, place, found, err := parent.dir.SearchEntry(ctx, name)
	if err != nil {
		return err
	}
	if !found {
		return ferr.New("create", ferr.NotFound)
	}

	child, err := fs.ensureNode(ctx, parent, short, start, place)
	if err != nil {
		return err
	}

	*entry = fuseops.ChildInodeEntry{
		Child:      child.id,
		Attributes: attrsForNode(child),
	}
	return nil
}

// MkDir maps the POSIX mode's owner-write bit to the FAT read-only
// attribute; FAT32 has no bits left over for the rest of mode.
func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) {
	ctx := context.Background()
	readOnly := op.Mode.Perm()&0200 == 0
	err := fs.createChild(ctx, op.Parent, op.Name, true, readOnly, &op.Entry)
	op.Respond(errnoFromErr(err))
}

func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) {
	ctx := context.Background()
	readOnly := op.Mode.Perm()&0200 == 0
	err := fs.createChild(ctx, op.Parent, op.Name, false, readOnly, &op.Entry)
	if err != nil {
		op.Respond(errnoFromErr(err))
		return
	}

	fs.mu.Lock()
	handle := fs.nextHandle
	fs.nextHandle++
	fs.fileNodes[handle] = fs.nodes[op.Entry.Child]
	fs.mu.Unlock()

	op.Handle = handle
	op.Respond(nil)
}

func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) {
	op.Respond(errnoFromErr(fs.removeChild(op.Parent, op.Name, true, false)))
}

func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) {
	op.Respond(errnoFromErr(fs.removeChild(op.Parent, op.Name, false, true)))
}

func (fs *FileSystem) removeChild(parentID fuseops.InodeID, name string, wantDir, wantFile bool) error {
	ctx := context.Background()
	parent, ok := fs.lookupNode(parentID)
	if !ok || !parent.isDir() {
		return ferr.New("remove", ferr.NotFound)
	}

	switch {
	case wantDir:
		return parent.dir.DeleteDir(ctx, name)
	case wantFile:
		return parent.dir.DeleteFile(ctx, name)
	default:
		return parent.dir.DeleteAny(ctx, name)
	}
}

func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) {
	n, ok := fs.lookupNode(op.Inode)
	if !ok || !n.isDir() {
		op.Respond(errnoFor(ferr.NotFound))
		return
	}

	fs.mu.Lock()
	handle := fs.nextHandle
	fs.nextHandle++
	fs.dirHandles[handle] = &dirHandle{node: n}
	fs.mu.Unlock()

	op.Handle = handle
	op.Respond(nil)
}

// ReadDir snapshots the full listing on the first call at Offset 0 and
// serves successive calls out of that snapshot, matching the seekdir/
// rewinddir contract fuseops.ReadDirOp documents: Posix only requires a
// rewind to look like a freshly opened directory, not that it reflect
// concurrent mutations mid-sweep.
func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) {
	ctx := context.Background()

	fs.mu.Lock()
	h, ok := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		op.Respond(errnoFor(ferr.InvalidArgument))
		return
	}

	if op.Offset == 0 {
		entries, err := fs.snapshotDir(ctx, h.node)
		if err != nil {
			op.Respond(errnoFromErr(err))
			return
		}
		h.entries = entries
	}

	data := make([]byte, 0, op.Size)
	for i := int(op.Offset); i < len(h.entries); i++ {
		tail := make([]byte, op.Size-len(data))
		n := fuseutil.WriteDirent(tail, h.entries[i])
		if n == 0 {
			break
		}
		data = append(data, tail[:n]...)
	}
	op.Data = data
	op.Respond(nil)
}

func (fs *FileSystem) snapshotDir(ctx context.Context, n *node) ([]fuseops.Dirent, error) {
	names, err := n.dir.List(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]fuseops.Dirent, 0, len(names))
	for i, name := range names {
		short, _, place, found, err := n.dir.SearchEntry(ctx, name)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		dt := fuseops.DT_File
		if short.Attr.Has(direntry.Directory) {
			dt = fuseops.DT_Dir
		}

		// Inode is left 0 unless this location has already been assigned
		// one by a prior LookUpInode; real clients re-lookup each name
		// before acting on it, so a placeholder here costs nothing but a
		// second round trip for names seen only via readdir.
		var id fuseops.InodeID
		fs.mu.Lock()
		if existing, ok := fs.byLoc[place.Location()]; ok {
			id = existing
		}
		fs.mu.Unlock()

		entries = append(entries, fuseops.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  id,
			Name:   name,
			Type:   dt,
		})
	}
	return entries, nil
}

func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) {
	fs.mu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.mu.Unlock()
	op.Respond(nil)
}
