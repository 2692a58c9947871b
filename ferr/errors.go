// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

// Package ferr defines the error taxonomy shared by every fat32 package.
// The core stays syscall-free so it can back VFS callers other than FUSE;
// samples/fat32fs maps Kind to syscall.Errno at the adapter edge.
package ferr

import "fmt"

// Kind classifies a failure the way a POSIX caller would eventually see it,
// without committing the core to any particular errno numbering.
type Kind int

const (
	// Other is used only for bugs caught by defensive checks; it should
	// never be returned across an exported API in a correct program.
	Other Kind = iota
	NotFound
	AlreadyExists
	IsDirectory
	NotDirectory
	NotEmpty
	NoSpace
	NoBuffers
	WouldBlock
	PermissionDenied
	InvalidArgument
	NameTooLong
	IoError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case AlreadyExists:
		return "already exists"
	case IsDirectory:
		return "is a directory"
	case NotDirectory:
		return "not a directory"
	case NotEmpty:
		return "not empty"
	case NoSpace:
		return "no space left on device"
	case NoBuffers:
		return "no buffer space available"
	case WouldBlock:
		return "operation would block"
	case PermissionDenied:
		return "permission denied"
	case InvalidArgument:
		return "invalid argument"
	case NameTooLong:
		return "name too long"
	case IoError:
		return "I/O error"
	default:
		return "unknown error"
	}
}

// Error wraps an underlying cause (possibly nil) with the operation that
// failed and the Kind a caller should branch on.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error with no wrapped cause.
func New(op string, kind Kind) error {
	return &Error{Op: op, Kind: kind}
}

// Wrap builds an *Error of the given kind around an existing error. It
// returns nil if err is nil.
func Wrap(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and Other otherwise.
func KindOf(err error) Kind {
	for err != nil {
		if fe, ok := err.(*Error); ok {
			return fe.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return Other
}
