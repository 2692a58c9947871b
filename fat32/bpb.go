// Copyright 2015 Google Inc. All Rights Reserved.
// Author: jacobsa@google.com (Aaron Jacobs)

package fat32

import (
	"encoding/binary"

	"github.com/jacobsa/fat32fs/cid"
	"github.com/jacobsa/fat32fs/ferr"
)

// BPB byte offsets within the boot sector (spec.md section 6).
const (
	bpbSectorBytes       = 0x0B // u16
	bpbSectorPerCluster  = 0x0D // u8, power of two
	bpbReservedSectors   = 0x0E // u16
	bpbNumFATs           = 0x10 // u8
	bpbTotalSectors16    = 0x13 // u16, legacy small-volume count
	bpbFATSize32         = 0x24 // u32
	bpbTotalSectors32    = 0x20 // u32
	bpbRootCluster       = 0x2C // u32
	bpbFSInfoSector      = 0x30 // u16

	bpbMinBytes = 0x32
)

// Bpb holds the BIOS Parameter Block fields Mount needs, plus the
// quantities derived from them (spec.md section 3's BPB entry).
type Bpb struct {
	SectorBytes int
	SectorsPerClusterLog2 uint
	ReservedSectors       uint32
	NumFATs               uint32
	FATSize32             uint32
	RootCluster           cid.CID
	FSInfoSector          uint32

	// DataSectorStart is the first sector of the data region.
	DataSectorStart cid.SID

	// DataClusterNum is the number of clusters the data region holds; valid
	// cluster ids run 2..DataClusterNum+1.
	DataClusterNum uint32

	// MaxCID is one past the largest cluster id a chain link may legally
	// name (the bound bcache/fatlist check absolute cluster numbers
	// against).
	MaxCID cid.CID

	// ClusterBytesLog2 is log2(SectorsPerCluster * SectorBytes).
	ClusterBytesLog2 uint
}

func log2u(n uint32) uint {
	var b uint
	for n > 1 {
		n >>= 1
		b++
	}
	return b
}

// ParseBpb decodes buf, the volume's first sector, validating the fields
// Mount depends on. buf must be at least one sector long.
func ParseBpb(buf []byte) (Bpb, error) {
	if len(buf) < bpbMinBytes {
		return Bpb{}, ferr.New("fat32.ParseBpb", ferr.InvalidArgument)
	}

	sectorBytes := int(binary.LittleEndian.Uint16(buf[bpbSectorBytes:]))
	sectorsPerCluster := uint32(buf[bpbSectorPerCluster])
	if sectorBytes <= 0 || sectorsPerCluster == 0 {
		return Bpb{}, ferr.New("fat32.ParseBpb", ferr.InvalidArgument)
	}

	reserved := uint32(binary.LittleEndian.Uint16(buf[bpbReservedSectors:]))
	numFATs := uint32(buf[bpbNumFATs])
	fatSize32 := binary.LittleEndian.Uint32(buf[bpbFATSize32:])
	rootCluster := cid.CID(binary.LittleEndian.Uint32(buf[bpbRootCluster:]))
	fsInfoSector := uint32(binary.LittleEndian.Uint16(buf[bpbFSInfoSector:]))

	totalSectors := uint32(binary.LittleEndian.Uint16(buf[bpbTotalSectors16:]))
	if totalSectors == 0 {
		totalSectors = binary.LittleEndian.Uint32(buf[bpbTotalSectors32:])
	}
	if numFATs == 0 || fatSize32 == 0 {
		return Bpb{}, ferr.New("fat32.ParseBpb", ferr.InvalidArgument)
	}

	dataSectorStart := reserved + numFATs*fatSize32
	if totalSectors < dataSectorStart {
		return Bpb{}, ferr.New("fat32.ParseBpb", ferr.InvalidArgument)
	}

	sectorsPerClusterLog2 := log2u(sectorsPerCluster)
	dataClusterNum := (totalSectors - dataSectorStart) >> sectorsPerClusterLog2

	return Bpb{
		SectorBytes:           sectorBytes,
		SectorsPerClusterLog2: sectorsPerClusterLog2,
		ReservedSectors:       reserved,
		NumFATs:               numFATs,
		FATSize32:             fatSize32,
		RootCluster:           rootCluster,
		FSInfoSector:          fsInfoSector,
		DataSectorStart:       cid.SID(dataSectorStart),
		DataClusterNum:        dataClusterNum,
		MaxCID:                cid.CID(dataClusterNum + 2),
		ClusterBytesLog2:      sectorsPerClusterLog2 + log2u(uint32(sectorBytes)),
	}, nil
}

// FATStart returns the first sector of FAT copy n (0-based).
func (b Bpb) FATStart(n uint32) cid.SID {
	return cid.SID(b.ReservedSectors + n*b.FATSize32)
}

// ClusterBytes returns the size in bytes of one cluster.
func (b Bpb) ClusterBytes() int {
	return 1 << b.ClusterBytesLog2
}
