// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package inode

import "context"

// File is a regular-file handle: byte-addressed read/write against the
// cluster chain resolved through RawInode (spec.md section 4.6).
type File struct {
	*RawInode
}

// ReadAt reads into buf starting at byteOffset, clamped to the current
// file size, updating the access timestamp and deferring the short
// entry's write-back to the end of the call. Mirrors FileInode::read_at.
func (f *File) ReadAt(ctx context.Context, byteOffset int, buf []byte) (int, error) {
	unlock, err := f.lockShared(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	bytes := int(f.FileBytes())
	end := bytes
	if byteOffset+len(buf) < end {
		end = byteOffset + len(buf)
	}
	if end < byteOffset {
		end = byteOffset
	}
	want := end - byteOffset
	if want > len(buf) {
		want = len(buf)
	}
	out := buf[:want]

	cur := byteOffset
	for cur < end {
		nth, off := f.manager.ClusterSplit(cur)
		ref, _, ok, _, err := f.GetNthBlock(ctx, nth)
		if err != nil {
			return cur - byteOffset, err
		}
		if !ok {
			return cur - byteOffset, nil
		}
		var n int
		rerr := ref.ReadRO(ctx, func(s []byte) {
			n = len(out)
			if rem := len(s) - off; n > rem {
				n = rem
			}
			copy(out[:n], s[off:off+n])
		})
		ref.Release()
		if rerr != nil {
			return cur - byteOffset, rerr
		}
		cur += n
		out = out[n:]
	}

	f.Touch(true, false)
	if err := f.ShortEntrySync(ctx); err != nil {
		return cur - byteOffset, err
	}
	return cur - byteOffset, nil
}

// WriteAt writes buf at byteOffset, extending the file (and its cluster
// chain) if the write runs past the current end. The write proceeds in
// two phases: first into already-allocated clusters, then (only if bytes
// remain) via chain-extending allocation. Mirrors FileInode::write_at.
func (f *File) WriteAt(ctx context.Context, byteOffset int, buf []byte) (int, error) {
	unlock, err := f.lockExclusive(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	bytes := int(f.FileBytes())
	end := bytes
	if byteOffset+len(buf) < end {
		end = byteOffset + len(buf)
	}

	cur := byteOffset
	rest := buf
	for cur < end {
		nth, off := f.manager.ClusterSplit(cur)
		ref, cl, ok, _, err := f.GetNthBlock(ctx, nth)
		if err != nil {
			return cur - byteOffset, err
		}
		if !ok {
			break
		}
		var n int
		werr := f.manager.Caches.WriteBlock(ctx, ref, func(s []byte) {
			n = len(rest)
			if rem := len(s) - off; n > rem {
				n = rem
			}
			copy(s[off:off+n], rest[:n])
		})
		ref.Release()
		_ = cl
		if werr != nil {
			return cur - byteOffset, werr
		}
		cur += n
		rest = rest[n:]
	}

	if cur == byteOffset+len(buf) {
		f.Touch(true, true)
		if err := f.ShortEntrySync(ctx); err != nil {
			return cur - byteOffset, err
		}
		return len(buf), nil
	}

	for len(rest) > 0 {
		nth, off := f.manager.ClusterSplit(cur)
		ref, err := f.GetNthBlockAlloc(ctx, nth, zeroInit)
		if err != nil {
			return cur - byteOffset, err
		}
		var n int
		werr := f.manager.Caches.WriteBlock(ctx, ref, func(s []byte) {
			n = len(rest)
			if rem := len(s) - off; n > rem {
				n = rem
			}
			copy(s[off:off+n], rest[:n])
		})
		ref.Release()
		if werr != nil {
			return cur - byteOffset, werr
		}
		cur += n
		rest = rest[n:]
	}

	f.SetFileBytes(uint32(cur))
	f.Touch(true, true)
	if err := f.ShortEntrySync(ctx); err != nil {
		return cur - byteOffset, err
	}
	return cur - byteOffset, nil
}

// WriteAppend writes buf starting at the file's current end, always
// extending the chain. Mirrors FileInode::write_append.
func (f *File) WriteAppend(ctx context.Context, buf []byte) (int, error) {
	unlock, err := f.lockExclusive(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	offset := int(f.FileBytes())
	cur := offset
	rest := buf
	for len(rest) > 0 {
		nth, off := f.manager.ClusterSplit(cur)
		ref, err := f.GetNthBlockAlloc(ctx, nth, zeroInit)
		if err != nil {
			return cur - offset, err
		}
		var n int
		werr := f.manager.Caches.WriteBlock(ctx, ref, func(s []byte) {
			n = len(rest)
			if rem := len(s) - off; n > rem {
				n = rem
			}
			copy(s[off:off+n], rest[:n])
		})
		ref.Release()
		if werr != nil {
			return cur - offset, werr
		}
		cur += n
		rest = rest[n:]
	}
	f.SetFileBytes(uint32(cur))
	f.Touch(true, true)
	if err := f.ShortEntrySync(ctx); err != nil {
		return cur - offset, err
	}
	return cur - offset, nil
}

func zeroInit(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
