// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fat32fs

import (
	"syscall"

	"github.com/jacobsa/fat32fs/ferr"
)

// errnoFor maps a ferr.Kind to the errno a FUSE client expects back, per
// ferr's documented adapter-edge contract.
func errnoFor(kind ferr.Kind) error {
	switch kind {
	case ferr.Other:
		return syscall.EIO
	case ferr.NotFound:
		return syscall.ENOENT
	case ferr.AlreadyExists:
		return syscall.EEXIST
	case ferr.IsDirectory:
		return syscall.EISDIR
	case ferr.NotDirectory:
		return syscall.ENOTDIR
	case ferr.NotEmpty:
		return syscall.ENOTEMPTY
	case ferr.NoSpace:
		return syscall.ENOSPC
	case ferr.NoBuffers:
		return syscall.ENOBUFS
	case ferr.WouldBlock:
		return syscall.EBUSY
	case ferr.PermissionDenied:
		return syscall.EACCES
	case ferr.InvalidArgument:
		return syscall.EINVAL
	case ferr.NameTooLong:
		return syscall.ENAMETOOLONG
	case ferr.IoError:
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

// errnoFromErr classifies err through ferr.KindOf and maps it, returning nil
// for a nil err so callers can pass a method's raw return value straight
// through to op.Respond.
func errnoFromErr(err error) error {
	if err == nil {
		return nil
	}
	return errnoFor(ferr.KindOf(err))
}
