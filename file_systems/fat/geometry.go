// Package fat implements geometry parsing, FAT table access, directory
// parsing, cluster indexing, and cluster swapping for FAT16 and FAT32 disk
// images.
package fat

import (
	"fmt"

	"github.com/mkirienko/fatdefrag/errors"
	"github.com/mkirienko/fatdefrag/imageio"
)

// ClusterID identifies a cluster by its position in the FAT, counting from
// 2: clusters 0 and 1 never appear in the data area.
type ClusterID uint32

// SectorID identifies a sector by its position from the start of the image.
type SectorID uint32

// Variant distinguishes FAT16 from FAT32. There is no FAT12 variant:
// fatdefrag only targets the two layouts spec'd out for disk images large
// enough to be worth defragmenting.
type Variant int

const (
	Variant16 Variant = 16
	Variant32 Variant = 32
)

// RootPseudoName is the name the indexer assigns to the FAT32 root
// directory's own cluster chain so it can be tracked in the same tables as
// every other file and directory. FAT16 roots live in a fixed region
// outside the cluster chain and never get this pseudo-entry.
const RootPseudoName = "\\"

// cluster value thresholds, by variant. A FAT32 entry's top 4 bits are
// reserved and must be masked off before comparing against these.
const (
	fat32ValueMask   = 0x0FFFFFFF
	endClusterFAT16  = 0xFFF8
	endClusterFAT32  = 0x0FFFFFF8
	badClusterFAT16  = 0xFFF7
	badClusterFAT32  = 0x0FFFFFF7
	winEndClusterF16 = 0xFFFF
	winEndClusterF32 = 0x0FFFFFFF
)

// Geometry holds the parsed BIOS Parameter Block plus the fields derived
// from it that every other component needs: sector counts, the FAT variant,
// and the byte offset where the data area begins.
type Geometry struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	Media             uint8
	SectorsPerFAT     uint32
	TotalSectors      uint32
	RootCluster       ClusterID // FAT32 only; 0 for FAT16

	Variant           Variant
	RootDirSectors    uint32
	FirstDataSector   SectorID
	FirstRootDirByte  int64
	BytesPerCluster   uint32
	TotalClusters     uint32
	DirentsPerCluster int

	// EndOfChainValue is the smallest raw FAT entry value treated as
	// end-of-chain for this variant.
	EndOfChainValue uint32
	// BadClusterValue is the raw FAT entry value marking a cluster as bad.
	BadClusterValue uint32
	// WindowsEndOfChainValue is the sentinel Windows itself writes when it
	// terminates a chain, used by the error injector to terminate the first
	// file of the intersecting pair it manufactures.
	WindowsEndOfChainValue uint32
	// ClusterEntryWidth is the width in bytes of one FAT entry: 2 for
	// FAT16, 4 for FAT32.
	ClusterEntryWidth int
}

// ParseGeometry reads the boot sector and BPB from img, starting at offset
// 0, and derives the rest of the geometry from it.
func ParseGeometry(img *imageio.Image) (*Geometry, error) {
	if err := img.SeekAbsolute(0); err != nil {
		return nil, err
	}

	if _, err := img.ReadN(3); err != nil { // BS_jmpBoot
		return nil, err
	}
	if _, err := img.ReadN(8); err != nil { // BS_OEMName
		return nil, err
	}

	bytesPerSector, err := img.ReadUint(2)
	if err != nil {
		return nil, err
	}
	sectorsPerCluster, err := img.ReadUint(1)
	if err != nil {
		return nil, err
	}
	reservedSectors, err := img.ReadUint(2)
	if err != nil {
		return nil, err
	}
	numFATs, err := img.ReadUint(1)
	if err != nil {
		return nil, err
	}
	rootEntryCount, err := img.ReadUint(2)
	if err != nil {
		return nil, err
	}
	totalSectors16, err := img.ReadUint(2)
	if err != nil {
		return nil, err
	}
	media, err := img.ReadUint(1)
	if err != nil {
		return nil, err
	}
	fatSz16, err := img.ReadUint(2)
	if err != nil {
		return nil, err
	}
	if _, err := img.ReadN(2); err != nil { // BPB_SecPerTrk
		return nil, err
	}
	if _, err := img.ReadN(2); err != nil { // BPB_NumHeads
		return nil, err
	}
	if _, err := img.ReadN(4); err != nil { // BPB_HiddSec
		return nil, err
	}
	totalSectors32, err := img.ReadUint(4)
	if err != nil {
		return nil, err
	}
	fatSz32, err := img.ReadUint(4)
	if err != nil {
		return nil, err
	}
	if err := img.StepBack(4); err != nil { // the FAT32-only field may not apply; don't consume it
		return nil, err
	}

	if err := validateBPBField(bytesPerSector, sectorsPerCluster); err != nil {
		return nil, err
	}

	fatSize := fatSz16
	if fatSize == 0 {
		fatSize = fatSz32
	}

	totalSectors := totalSectors16
	if totalSectors == 0 {
		totalSectors = totalSectors32
	}

	rootDirSectors := ((rootEntryCount * 32) + (uint32(bytesPerSector) - 1)) / uint32(bytesPerSector)
	firstDataSector := SectorID(reservedSectors + uint32(numFATs)*fatSize + rootDirSectors)

	dataSectors := totalSectors - uint32(firstDataSector)
	totalClusters := dataSectors / uint32(sectorsPerCluster)

	if totalClusters == 0 {
		return nil, errors.ErrCorruptImage.WithMessage("image has zero data clusters")
	}

	variant := Variant16
	if totalClusters >= 65525 {
		variant = Variant32
	}

	geometry := &Geometry{
		BytesPerSector:    uint16(bytesPerSector),
		SectorsPerCluster: uint8(sectorsPerCluster),
		ReservedSectors:   uint16(reservedSectors),
		NumFATs:           uint8(numFATs),
		RootEntryCount:    uint16(rootEntryCount),
		Media:             uint8(media),
		SectorsPerFAT:     fatSize,
		TotalSectors:      totalSectors,
		Variant:           variant,
		RootDirSectors:    rootDirSectors,
		FirstDataSector:   firstDataSector,
		BytesPerCluster:   uint32(bytesPerSector) * sectorsPerCluster,
		TotalClusters:     totalClusters,
	}

	if variant == Variant32 {
		if _, err := img.ReadN(4); err != nil { // BPB_FATSz32, already captured above
			return nil, err
		}
		if _, err := img.ReadN(2); err != nil { // BPB_ExtFlags
			return nil, err
		}
		if _, err := img.ReadN(2); err != nil { // BPB_FSVer
			return nil, err
		}
		rootCluster, err := img.ReadUint(4)
		if err != nil {
			return nil, err
		}
		geometry.RootCluster = ClusterID(rootCluster)
		geometry.FirstRootDirByte = int64(firstDataSector+SectorID(uint32(geometry.RootCluster-2)*uint32(geometry.SectorsPerCluster))) * int64(bytesPerSector)

		if rootDirSectors != 0 {
			return nil, errors.ErrCorruptImage.WithMessage("FAT32 image has a nonzero root directory region")
		}
	} else {
		geometry.FirstRootDirByte = int64(reservedSectors+uint32(numFATs)*fatSz16) * int64(bytesPerSector)
	}

	geometry.DirentsPerCluster = int(geometry.BytesPerCluster) / DirentSize

	if variant == Variant16 {
		geometry.EndOfChainValue = endClusterFAT16
		geometry.BadClusterValue = badClusterFAT16
		geometry.WindowsEndOfChainValue = winEndClusterF16
		geometry.ClusterEntryWidth = 2
	} else {
		geometry.EndOfChainValue = endClusterFAT32
		geometry.BadClusterValue = badClusterFAT32
		geometry.WindowsEndOfChainValue = winEndClusterF32
		geometry.ClusterEntryWidth = 4
	}

	return geometry, nil
}

func validateBPBField(bytesPerSector uint32, sectorsPerCluster uint32) error {
	switch bytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return errors.ErrCorruptImage.WithMessage(
			fmt.Sprintf("BytesPerSector must be 512, 1024, 2048, or 4096, got %d", bytesPerSector))
	}

	switch sectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return errors.ErrCorruptImage.WithMessage(
			fmt.Sprintf("SectorsPerCluster must be a power of 2 in 1-128, got %d", sectorsPerCluster))
	}

	return nil
}

// VariantName returns the human-readable name of the FAT variant, the way
// it's reported to the operator and written to the audit log.
func (g *Geometry) VariantName() string {
	if g.Variant == Variant32 {
		return "FAT32"
	}
	return "FAT16"
}

// ValidCluster reports whether n is within the addressable cluster range.
func (g *Geometry) ValidCluster(n ClusterID) bool {
	return uint32(n) <= g.TotalClusters
}
