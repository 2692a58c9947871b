// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fat32fs

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/jacobsa/fat32fs/blockdev"
	"github.com/jacobsa/fat32fs/cid"
	"github.com/jacobsa/fat32fs/fat32"
	"github.com/jacobsa/fat32fs/fuseops"
	"github.com/kylelemons/godebug/pretty"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time                          { return c.t }
func (c fixedClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// BPB field offsets, mirroring fat32/bpb.go's unexported layout constants;
// duplicated here because this package cannot see across the package
// boundary.
const (
	bpbSectorBytes      = 0x0B
	bpbSectorPerCluster = 0x0D
	bpbReservedSectors  = 0x0E
	bpbNumFATs          = 0x10
	bpbFATSize32        = 0x24
	bpbTotalSectors32   = 0x20
	bpbRootCluster      = 0x2C
	bpbFSInfoSector     = 0x30

	fsInfoFreeCountOffset = 0x1E8
	fsInfoNextFreeOffset  = 0x1EC
)

// newTestFileSystem builds an 8-cluster volume with an empty root and wraps
// it in a FileSystem, matching spec.md section 8's S1 scenario geometry.
func newTestFileSystem(t *testing.T) *FileSystem {
	t.Helper()
	ctx := context.Background()

	const (
		sectorBytes       = 512
		reservedSectors   = 2
		numFATs           = 1
		fatSize32         = 1
		sectorsPerCluster = 8
		dataClusters      = 8
		totalSectors      = reservedSectors + numFATs*fatSize32 + dataClusters*sectorsPerCluster
	)

	dev := blockdev.NewMemDevice(sectorBytes, totalSectors)

	boot := make([]byte, sectorBytes)
	binary.LittleEndian.PutUint16(boot[bpbSectorBytes:], sectorBytes)
	boot[bpbSectorPerCluster] = sectorsPerCluster
	binary.LittleEndian.PutUint16(boot[bpbReservedSectors:], reservedSectors)
	boot[bpbNumFATs] = numFATs
	binary.LittleEndian.PutUint32(boot[bpbTotalSectors32:], totalSectors)
	binary.LittleEndian.PutUint32(boot[bpbFATSize32:], fatSize32)
	binary.LittleEndian.PutUint32(boot[bpbRootCluster:], 2)
	binary.LittleEndian.PutUint16(boot[bpbFSInfoSector:], 1)
	if err := dev.WriteBlock(ctx, 0, boot); err != nil {
		t.Fatal(err)
	}

	info := make([]byte, sectorBytes)
	binary.LittleEndian.PutUint32(info[fsInfoFreeCountOffset:], dataClusters-1)
	binary.LittleEndian.PutUint32(info[fsInfoNextFreeOffset:], 3)
	if err := dev.WriteBlock(ctx, 1, info); err != nil {
		t.Fatal(err)
	}

	fat := make([]byte, sectorBytes)
	binary.LittleEndian.PutUint32(fat[0*4:], uint32(cid.Last))
	binary.LittleEndian.PutUint32(fat[1*4:], uint32(cid.Last))
	binary.LittleEndian.PutUint32(fat[2*4:], uint32(cid.Last)) // root's sole cluster
	if err := dev.WriteBlock(ctx, reservedSectors, fat); err != nil {
		t.Fatal(err)
	}

	volume, err := fat32.Mount(ctx, dev, fixedClock{}, fat32.GoSpawner{}, fat32.MountOptions{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { volume.Close(context.Background()) })

	root, err := volume.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}

	fs, err := NewFileSystem(volume, root)
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestInitResponds(t *testing.T) {
	fs := newTestFileSystem(t)
	op := &fuseops.InitOp{}
	fs.Init(op)
	if err := op.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestMkDirThenLookUp(t *testing.T) {
	fs := newTestFileSystem(t)

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "SUB"}
	fs.MkDir(mk)
	if err := mk.Wait(); err != nil {
		t.Fatal(err)
	}
	if !mk.Entry.Attributes.Mode.IsDir() {
		t.Fatalf("mode = %v, want a directory", mk.Entry.Attributes.Mode)
	}

	look := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "SUB"}
	fs.LookUpInode(look)
	if err := look.Wait(); err != nil {
		t.Fatal(err)
	}
	if look.Entry.Child != mk.Entry.Child {
		t.Fatalf("child = %d, want %d (same location, same inode)", look.Entry.Child, mk.Entry.Child)
	}
}

func TestCreateWriteReadRoundTrips(t *testing.T) {
	fs := newTestFileSystem(t)

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "HELLO.TXT"}
	fs.CreateFile(create)
	if err := create.Wait(); err != nil {
		t.Fatal(err)
	}

	want := []byte("hello, fat32")
	write := &fuseops.WriteFileOp{
		Inode:  create.Entry.Child,
		Handle: create.Handle,
		Offset: 0,
		Data:   want,
	}
	fs.WriteFile(write)
	if err := write.Wait(); err != nil {
		t.Fatal(err)
	}

	read := &fuseops.ReadFileOp{
		Inode:  create.Entry.Child,
		Handle: create.Handle,
		Offset: 0,
		Size:   len(want),
	}
	fs.ReadFile(read)
	if err := read.Wait(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(read.Data, want) {
		t.Fatalf("read = %q, want %q", read.Data, want)
	}

	release := &fuseops.ReleaseFileHandleOp{Handle: create.Handle}
	fs.ReleaseFileHandle(release)
	if err := release.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestReadDirListsCreatedEntries(t *testing.T) {
	fs := newTestFileSystem(t)

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "A.TXT"}
	fs.CreateFile(create)
	if err := create.Wait(); err != nil {
		t.Fatal(err)
	}
	release := &fuseops.ReleaseFileHandleOp{Handle: create.Handle}
	fs.ReleaseFileHandle(release)
	if err := release.Wait(); err != nil {
		t.Fatal(err)
	}

	open := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	fs.OpenDir(open)
	if err := open.Wait(); err != nil {
		t.Fatal(err)
	}

	read := &fuseops.ReadDirOp{Handle: open.Handle, Offset: 0, Size: 4096}
	fs.ReadDir(read)
	if err := read.Wait(); err != nil {
		t.Fatal(err)
	}
	if len(read.Data) == 0 {
		t.Fatal("ReadDir returned no data")
	}

	got := direntNames(t, read.Data)
	want := []string{"A.TXT"}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Fatalf("unexpected directory listing (-want +got):\n%s", diff)
	}

	rel := &fuseops.ReleaseDirHandleOp{Handle: open.Handle}
	fs.ReleaseDirHandle(rel)
	if err := rel.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestUnlinkRemovesEntry(t *testing.T) {
	fs := newTestFileSystem(t)

	create := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "DOOMED.TXT"}
	fs.CreateFile(create)
	if err := create.Wait(); err != nil {
		t.Fatal(err)
	}
	release := &fuseops.ReleaseFileHandleOp{Handle: create.Handle}
	fs.ReleaseFileHandle(release)
	if err := release.Wait(); err != nil {
		t.Fatal(err)
	}
	forget := &fuseops.ForgetInodeOp{ID: create.Entry.Child}
	fs.ForgetInode(forget)
	if err := forget.Wait(); err != nil {
		t.Fatal(err)
	}

	unlink := &fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "DOOMED.TXT"}
	fs.Unlink(unlink)
	if err := unlink.Wait(); err != nil {
		t.Fatal(err)
	}

	look := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "DOOMED.TXT"}
	fs.LookUpInode(look)
	if err := look.Wait(); err == nil {
		t.Fatal("expected an error looking up a removed file")
	}
}

func TestStatFSReportsFreeClusters(t *testing.T) {
	fs := newTestFileSystem(t)

	op := &fuseops.StatFSOp{}
	fs.StatFS(op)
	if err := op.Wait(); err != nil {
		t.Fatal(err)
	}
	if op.BlockSize == 0 {
		t.Fatal("BlockSize = 0")
	}
	if op.Blocks == 0 {
		t.Fatal("Blocks = 0")
	}
	// newTestFileSystem seeds FsInfo's free count with dataClusters-1: the
	// root directory holds one of the 8 data clusters.
	if op.BlocksFree != 7 {
		t.Fatalf("BlocksFree = %d, want 7", op.BlocksFree)
	}
}

// direntNames decodes the names out of a fuse_dirent stream as written by
// fuseutil.WriteDirent, mirroring that function's struct layout.
func direntNames(t *testing.T, data []byte) []string {
	t.Helper()

	const direntSize = 8 + 8 + 4 + 4
	const direntAlignment = 8

	var names []string
	for len(data) > 0 {
		if len(data) < direntSize {
			t.Fatalf("truncated dirent header: %d bytes left", len(data))
		}
		namelen := binary.LittleEndian.Uint32(data[16:20])
		nameEnd := direntSize + int(namelen)
		if nameEnd > len(data) {
			t.Fatalf("dirent name overruns buffer")
		}
		names = append(names, string(data[direntSize:nameEnd]))

		padLen := 0
		if int(namelen)%direntAlignment != 0 {
			padLen = direntAlignment - (int(namelen) % direntAlignment)
		}
		data = data[nameEnd+padLen:]
	}
	return names
}
