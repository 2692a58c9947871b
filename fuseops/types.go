// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fuseops

import (
	"os"
	"sync"
	"time"
)

// InodeID is a 64-bit number used to uniquely identify a file or directory
// in the file system. File systems may mint their own IDs in any way they
// please, provided that they keep track of them and that RootInodeID
// follows the requirements below.
type InodeID uint64

// RootInodeID is a distinguished inode ID that identifies the root of the
// file system, e.g. for GetInodeAttributes calls.
const RootInodeID = InodeID(1)

// GenerationNumber is a number used along with an inode's ID to uniquely
// identify an inode for a particular period of time, used where the file
// system wants to tell the kernel that a previously-issued inode ID may be
// reused without waiting for a ForgetInodeOp.
type GenerationNumber uint64

// HandleID is an opaque 64-bit number used to identify a particular open
// handle to a file or directory, echoed back to the file system in
// follow-up ops that concern that handle.
type HandleID uint64

// DirOffset is an offset into the listing of a directory, as would be
// returned by readdir(3) for a particular entry. See notes on ReadDirOp.
type DirOffset uint64

// OpHeader contains information that is common to all ops, set by the
// kernel and supplied to file systems on every request.
type OpHeader struct {
	// The unique ID of the process making the request, if known.
	Uid uint32
	Gid uint32
}

// InodeAttributes describes the attributes of a file or directory, the
// sort of information that would be returned by stat(2).
type InodeAttributes struct {
	Size  uint64
	Nlink uint32
	Mode  os.FileMode

	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
	Crtime time.Time

	Uid uint32
	Gid uint32
}

// ChildInodeEntry is the information returned by the file system to the
// kernel whenever an inode is looked up (LookUpInode, MkDir, CreateFile,
// etc.), so the kernel can create or refresh a dentry.
type ChildInodeEntry struct {
	Child      InodeID
	Generation GenerationNumber

	Attributes InodeAttributes

	// Expiration times for the entry and its attributes, to control
	// subsequent cache lookups and GetInodeAttributes calls.
	EntryExpiration      time.Time
	AttributesExpiration time.Time
}

// DirentType describes the type of a directory entry, as reported to
// readdir(3) callers via the d_type field.
type DirentType uint32

const (
	DT_Unknown DirentType = 0
	DT_Socket  DirentType = 12
	DT_Link    DirentType = 10
	DT_File    DirentType = 8
	DT_Block   DirentType = 6
	DT_Dir     DirentType = 4
	DT_Char    DirentType = 2
	DT_FIFO    DirentType = 1
)

// Dirent is a directory entry in the format consumed by fuseutil.WriteDirent.
type Dirent struct {
	Offset DirOffset
	Inode  InodeID
	Name   string
	Type   DirentType
}

// Op is the interface implemented by every op type in this package. A file
// system is responsible for calling Respond exactly once for every op it
// receives.
type Op interface {
	// Header returns the header common to all ops.
	Header() OpHeader

	// Respond completes the op, causing the caller that is blocked on its
	// processing (e.g. a test calling Wait) to observe
	// err as the result.
	Respond(err error)
}

// opState implements the mechanical part of Op: a result channel that
// Respond signals and a synchronous, buffered handoff so tests and
// fuseutil.RespondToOp don't need to know about the concrete op type.
//
// Embedding this into each op struct below is what makes every *FooOp type
// satisfy Op without repeating the plumbing. The channel is created lazily
// on first use so a plain struct literal (the usual way an in-process
// caller builds one of these) is already a working Op; nothing needs to
// call a constructor first.
type opState struct {
	header OpHeader

	once   sync.Once
	result chan error
}

func (s *opState) lazyInit() {
	s.once.Do(func() {
		s.result = make(chan error, 1)
	})
}

func (s *opState) Header() OpHeader {
	return s.header
}

func (s *opState) Respond(err error) {
	s.lazyInit()
	s.result <- err
}

// Wait blocks until Respond has been called, returning the error it was
// given. It exists for callers (tests, in-process adapters) driving an op
// synchronously without a kernel connection in between.
func (s *opState) Wait() error {
	s.lazyInit()
	return <-s.result
}
