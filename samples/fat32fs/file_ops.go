// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fat32fs

import (
	"context"

	"github.com/jacobsa/fat32fs/ferr"
	"github.com/jacobsa/fat32fs/fuseops"
)

func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) {
	n, ok := fs.lookupNode(op.Inode)
	if !ok || n.isDir() {
		op.Respond(errnoFor(ferr.NotFound))
		return
	}

	fs.mu.Lock()
	handle := fs.nextHandle
	fs.nextHandle++
	fs.fileNodes[handle] = n
	fs.mu.Unlock()

	op.Handle = handle
	op.Respond(nil)
}

func (fs *FileSystem) lookupFileHandle(h fuseops.HandleID) (*node, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.fileNodes[h]
	return n, ok
}

func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) {
	ctx := context.Background()
	n, ok := fs.lookupFileHandle(op.Handle)
	if !ok {
		op.Respond(errnoFor(ferr.InvalidArgument))
		return
	}

	buf := make([]byte, op.Size)
	nRead, err := n.file.ReadAt(ctx, int(op.Offset), buf)
	if err != nil {
		op.Respond(errnoFromErr(err))
		return
	}
	op.Data = buf[:nRead]
	op.Respond(nil)
}

func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) {
	ctx := context.Background()
	n, ok := fs.lookupFileHandle(op.Handle)
	if !ok {
		op.Respond(errnoFor(ferr.InvalidArgument))
		return
	}

	_, err := n.file.WriteAt(ctx, int(op.Offset), op.Data)
	op.Respond(errnoFromErr(err))
}

// SyncFile and FlushFile are no-ops: every WriteAt call already syncs the
// short entry and leaves no dirty state behind for a later flush to catch,
// since the block cache (not this adapter) owns write-back scheduling.
func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) {
	op.Respond(nil)
}

func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) {
	op.Respond(nil)
}

func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) {
	fs.mu.Lock()
	delete(fs.fileNodes, op.Handle)
	fs.mu.Unlock()
	op.Respond(nil)
}

func (fs *FileSystem) StatFS(op *fuseops.StatFSOp) {
	st := fs.volume.Statfs()
	op.BlockSize = uint32(st.ClusterBytes)
	op.IoSize = uint32(st.ClusterBytes)
	op.Blocks = uint64(st.ClustersTotal)
	op.BlocksFree = uint64(st.ClustersFree)
	op.Respond(nil)
}
