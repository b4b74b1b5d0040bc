// Package fattesting builds synthetic FAT16 and FAT32 images in memory for
// use by every other package's tests, the same way the teacher repo backs
// its driver tests with bytesextra instead of a file on disk.
package fattesting

import (
	"testing"

	"github.com/boljen/go-bitmap"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/mkirienko/fatdefrag/file_systems/fat"
	"github.com/mkirienko/fatdefrag/imageio"
)

// Config describes the geometry of a synthetic image.
type Config struct {
	Variant           fat.Variant
	BytesPerSector    uint16
	SectorsPerCluster uint8
	NumFATs           uint8
	ReservedSectors   uint16
	// TotalClusters is the number of addressable data clusters, not
	// counting the 2 reserved cluster numbers below the data area.
	TotalClusters uint32
}

// DefaultConfig returns a small but valid configuration for the given
// variant: 512-byte sectors, 1 sector per cluster, 2 FATs, and enough
// clusters to land solidly on that variant's side of the FAT16/FAT32
// threshold.
func DefaultConfig(variant fat.Variant) Config {
	clusters := uint32(100)
	if variant == fat.Variant32 {
		clusters = 70000
	}

	return Config{
		Variant:           variant,
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		NumFATs:           2,
		ReservedSectors:   1,
		TotalClusters:     clusters,
	}
}

// Image is a synthetic FAT image under construction. Its zero value is not
// usable; build one with New.
type Image struct {
	t      *testing.T
	cfg    Config
	buf    []byte
	free   bitmap.Bitmap
	fatOff []int64 // byte offset of the start of each FAT mirror
	dataOff int64  // byte offset of cluster 2

	RootCluster    fat.ClusterID // FAT32 only
	RootDirOffset  int64         // FAT16 only: byte offset of the fixed root region
	RootEntryCount uint16        // FAT16 only
}

// New lays out a blank image's boot sector and FAT mirrors according to
// cfg, with every data cluster marked free.
func New(t *testing.T, cfg Config) *Image {
	t.Helper()

	fatSizeSectors := fatSizeInSectors(cfg)
	rootDirSectors := uint32(0)
	rootEntryCount := uint16(0)
	if cfg.Variant == fat.Variant16 {
		rootEntryCount = 512
		rootDirSectors = (uint32(rootEntryCount)*32 + uint32(cfg.BytesPerSector) - 1) / uint32(cfg.BytesPerSector)
	}

	firstDataSector := uint32(cfg.ReservedSectors) + uint32(cfg.NumFATs)*fatSizeSectors + rootDirSectors
	dataSectors := cfg.TotalClusters * uint32(cfg.SectorsPerCluster)
	totalSectors := firstDataSector + dataSectors

	img := &Image{
		t:              t,
		cfg:            cfg,
		buf:            make([]byte, uint64(totalSectors)*uint64(cfg.BytesPerSector)),
		free:           bitmap.New(int(cfg.TotalClusters) + 2),
		RootEntryCount: rootEntryCount,
	}

	img.writeBootSector(totalSectors, fatSizeSectors, rootEntryCount)

	for i := uint8(0); i < cfg.NumFATs; i++ {
		off := int64(cfg.ReservedSectors+uint32(i)*fatSizeSectors) * int64(cfg.BytesPerSector)
		img.fatOff = append(img.fatOff, off)
	}

	img.dataOff = int64(firstDataSector) * int64(cfg.BytesPerSector)

	if cfg.Variant == fat.Variant16 {
		img.RootDirOffset = int64(cfg.ReservedSectors+uint32(cfg.NumFATs)*fatSizeSectors) * int64(cfg.BytesPerSector)
	} else {
		img.RootCluster = 2
		img.markUsed(img.RootCluster)
		img.setFATAllMirrors(img.RootCluster, endOfChainValue(cfg.Variant))
	}

	// Cluster 0 and 1 never appear in the data area; mark them used so the
	// free-cluster scanner never hands them out.
	img.markUsed(0)
	img.markUsed(1)

	return img
}

func fatSizeInSectors(cfg Config) uint32 {
	entryWidth := uint32(2)
	if cfg.Variant == fat.Variant32 {
		entryWidth = 4
	}
	bytesNeeded := (cfg.TotalClusters + 2) * entryWidth
	return (bytesNeeded + uint32(cfg.BytesPerSector) - 1) / uint32(cfg.BytesPerSector)
}

func endOfChainValue(variant fat.Variant) uint32 {
	if variant == fat.Variant32 {
		return 0x0FFFFFFF
	}
	return 0xFFFF
}

func (img *Image) writeBootSector(totalSectors, fatSizeSectors uint32, rootEntryCount uint16) {
	b := img.buf
	putU16 := func(off int, v uint16) { b[off] = byte(v); b[off+1] = byte(v >> 8) }
	putU32 := func(off int, v uint32) {
		b[off] = byte(v)
		b[off+1] = byte(v >> 8)
		b[off+2] = byte(v >> 16)
		b[off+3] = byte(v >> 24)
	}

	putU16(11, img.cfg.BytesPerSector)
	b[13] = img.cfg.SectorsPerCluster
	putU16(14, img.cfg.ReservedSectors)
	b[16] = img.cfg.NumFATs
	putU16(17, rootEntryCount)
	b[21] = 0xF8 // Media: fixed disk

	if img.cfg.Variant == fat.Variant16 {
		if totalSectors <= 0xFFFF {
			putU16(19, uint16(totalSectors))
		} else {
			putU32(32, totalSectors)
		}
		putU16(22, uint16(fatSizeSectors))
	} else {
		putU32(32, totalSectors)
		putU32(36, fatSizeSectors)
		// ExtFlags, FSVer left zero.
		putU32(44, 2) // BPB_RootClus
	}
}

func (img *Image) markUsed(cluster fat.ClusterID) {
	img.free.Set(int(cluster), true)
}

// setFATAllMirrors writes value into cluster's entry in every FAT mirror.
func (img *Image) setFATAllMirrors(cluster fat.ClusterID, value uint32) {
	for _, off := range img.fatOff {
		img.setFATEntry(off, cluster, value)
	}
}

func (img *Image) setFATEntry(fatStart int64, cluster fat.ClusterID, value uint32) {
	width := 2
	if img.cfg.Variant == fat.Variant32 {
		width = 4
	}
	offset := fatStart + int64(cluster)*int64(width)

	switch width {
	case 2:
		img.buf[offset] = byte(value)
		img.buf[offset+1] = byte(value >> 8)
	case 4:
		img.buf[offset] = byte(value)
		img.buf[offset+1] = byte(value >> 8)
		img.buf[offset+2] = byte(value >> 16)
		img.buf[offset+3] = byte(value >> 24)
	}
}

// SetFATEntry writes value into cluster's entry in FAT mirror fatIndex
// only, for tests that deliberately create mirror divergence.
func (img *Image) SetFATEntry(fatIndex int, cluster fat.ClusterID, value uint32) {
	require.True(img.t, fatIndex < len(img.fatOff), "fat index out of range")
	img.setFATEntry(img.fatOff[fatIndex], cluster, value)
}

// AllocateChain claims the given clusters (which must currently be free),
// links them into a chain in order, terminates the chain with the
// variant's end-of-chain sentinel, and writes data into each cluster's
// data area (zero-padded or truncated to fit).
func (img *Image) AllocateChain(clusters []fat.ClusterID, data [][]byte) {
	for i, cluster := range clusters {
		img.markUsed(cluster)

		if i < len(clusters)-1 {
			img.setFATAllMirrors(cluster, uint32(clusters[i+1]))
		} else {
			img.setFATAllMirrors(cluster, endOfChainValue(img.cfg.Variant))
		}

		var payload []byte
		if i < len(data) {
			payload = data[i]
		}
		img.WriteClusterData(cluster, payload)
	}
}

// ClusterDataOffset returns the byte offset of cluster's data area.
func (img *Image) ClusterDataOffset(cluster fat.ClusterID) int64 {
	bytesPerCluster := int64(img.cfg.BytesPerSector) * int64(img.cfg.SectorsPerCluster)
	return img.dataOff + int64(cluster-2)*bytesPerCluster
}

// WriteClusterData copies payload into cluster's data area, zero-padding or
// truncating it to exactly one cluster.
func (img *Image) WriteClusterData(cluster fat.ClusterID, payload []byte) {
	bytesPerCluster := int64(img.cfg.BytesPerSector) * int64(img.cfg.SectorsPerCluster)
	offset := img.ClusterDataOffset(cluster)

	region := img.buf[offset : offset+bytesPerCluster]
	for i := range region {
		region[i] = 0
	}
	copy(region, payload)
}

// FirstFreeCluster returns the lowest-numbered free cluster, for tests that
// need to hand out clusters deterministically.
func (img *Image) FirstFreeCluster() (fat.ClusterID, bool) {
	for i := 2; i < int(img.cfg.TotalClusters)+2; i++ {
		if !img.free.Get(i) {
			return fat.ClusterID(i), true
		}
	}
	return 0, false
}

// WriteShortEntry writes an 8.3 directory entry at directoryOffset plus the
// given slot index (0-based). name is taken verbatim and must already be
// padded/truncated to 11 bytes by the caller if an exact on-disk name
// matters to the test.
func (img *Image) WriteShortEntry(directoryOffset int64, slot int, name string, attr uint8, firstCluster fat.ClusterID) {
	offset := directoryOffset + int64(slot)*fat.DirentSize
	entry := img.buf[offset : offset+fat.DirentSize]

	for i := range entry {
		entry[i] = ' '
	}
	copy(entry[0:11], name)
	entry[11] = attr
	entry[20] = byte(firstCluster >> 16)
	entry[21] = byte(firstCluster >> 24)
	entry[26] = byte(firstCluster)
	entry[27] = byte(firstCluster >> 8)
}

// RootDirectoryDataOffset returns the byte offset of the root directory's
// contents: the fixed region for FAT16, or cluster 2's data area for
// FAT32 (the convention New uses when it assigns RootCluster).
func (img *Image) RootDirectoryDataOffset() int64 {
	if img.cfg.Variant == fat.Variant16 {
		return img.RootDirOffset
	}
	return img.ClusterDataOffset(img.RootCluster)
}

// Image returns an *imageio.Image backed by this builder's bytes.
func (img *Image) Image() *imageio.Image {
	return imageio.New(bytesextra.NewReadWriteSeeker(img.buf))
}

// Bytes returns the raw backing buffer, for tests that want to corrupt it
// directly.
func (img *Image) Bytes() []byte {
	return img.buf
}
