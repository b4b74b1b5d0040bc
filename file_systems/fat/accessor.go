package fat

import (
	"github.com/mkirienko/fatdefrag/errors"
	"github.com/mkirienko/fatdefrag/imageio"
)

// Accessor reads and writes FAT entries and cluster data directly against
// an image, with no buffering: every call does its own seek.
type Accessor struct {
	img      *imageio.Image
	Geometry *Geometry
}

// NewAccessor returns an Accessor bound to img using the given geometry.
func NewAccessor(img *imageio.Image, geometry *Geometry) *Accessor {
	return &Accessor{img: img, Geometry: geometry}
}

// entryOffset returns the byte offset of cluster n's entry in the fatIndex
// copy of the FAT.
func (a *Accessor) entryOffset(n ClusterID, fatIndex int) (int64, error) {
	if !a.Geometry.ValidCluster(n) {
		return 0, errors.ErrOutOfBounds.WithMessage("cluster number out of range")
	}
	if fatIndex < 0 || fatIndex >= int(a.Geometry.NumFATs) {
		return 0, errors.ErrInvalidArgument.WithMessage("FAT index out of range")
	}

	fatStart := int64(a.Geometry.ReservedSectors) + int64(fatIndex)*int64(a.Geometry.SectorsPerFAT)
	fatOffset := int64(n) * int64(a.Geometry.ClusterEntryWidth)

	return fatStart*int64(a.Geometry.BytesPerSector) + fatOffset, nil
}

// dataOffset returns the byte offset of cluster n's data in the data area.
func (a *Accessor) dataOffset(n ClusterID) (int64, error) {
	if !a.Geometry.ValidCluster(n) {
		return 0, errors.ErrOutOfBounds.WithMessage("cluster number out of range")
	}

	return (int64(a.Geometry.FirstDataSector) + int64(n-2)*int64(a.Geometry.SectorsPerCluster)) *
		int64(a.Geometry.BytesPerSector), nil
}

// ClusterDataOffset returns the byte offset of cluster n's data in the
// image. It's exported for callers that need to address individual bytes
// within a cluster, such as directory-entry creation and deletion.
func (a *Accessor) ClusterDataOffset(n ClusterID) (int64, error) {
	return a.dataOffset(n)
}

// ClusterValueInFAT returns the raw value stored for cluster n in the
// fatIndex copy of the FAT, with the reserved top nibble of FAT32 entries
// masked off.
func (a *Accessor) ClusterValueInFAT(n ClusterID, fatIndex int) (uint32, error) {
	offset, err := a.entryOffset(n, fatIndex)
	if err != nil {
		return 0, err
	}

	if err := a.img.SeekAbsolute(offset); err != nil {
		return 0, err
	}

	value, err := a.img.ReadUint(a.Geometry.ClusterEntryWidth)
	if err != nil {
		return 0, err
	}

	if a.Geometry.Variant == Variant32 {
		value &= fat32ValueMask
	}

	return value, nil
}

// ClusterValue returns the raw value stored for cluster n in the first copy
// of the FAT. Every read during indexing, chain walking, and defragmentation
// goes through the first copy; the remaining copies only matter for mirror
// consistency checking and repair.
func (a *Accessor) ClusterValue(n ClusterID) (uint32, error) {
	return a.ClusterValueInFAT(n, 0)
}

// WriteClusterValueInFAT writes value into cluster n's entry in the
// fatIndex copy of the FAT only.
func (a *Accessor) WriteClusterValueInFAT(value uint32, n ClusterID, fatIndex int) error {
	offset, err := a.entryOffset(n, fatIndex)
	if err != nil {
		return err
	}

	if err := a.img.SeekAbsolute(offset); err != nil {
		return err
	}

	return a.img.WriteUint(value, a.Geometry.ClusterEntryWidth)
}

// WriteClusterValueAllFATs writes value into cluster n's entry in every
// copy of the FAT, keeping the mirrors synchronized.
func (a *Accessor) WriteClusterValueAllFATs(value uint32, n ClusterID) error {
	for i := 0; i < int(a.Geometry.NumFATs); i++ {
		if err := a.WriteClusterValueInFAT(value, n, i); err != nil {
			return err
		}
	}
	return nil
}

// IsEndOfChain reports whether value marks the end of a cluster chain.
func (a *Accessor) IsEndOfChain(value uint32) bool {
	return value >= a.Geometry.EndOfChainValue
}

// IsBadCluster reports whether value marks a cluster as bad.
func (a *Accessor) IsBadCluster(value uint32) bool {
	return value == a.Geometry.BadClusterValue
}

// ClusterState is the three-way classification of a raw FAT entry value that
// the repair and defragmentation logic branch on throughout.
type ClusterState int

const (
	ClusterLive ClusterState = iota
	ClusterEndOfChain
	ClusterBad
)

// ClassifyEntry reduces a raw FAT entry value to the one of three states
// every caller actually distinguishes between, rather than making each one
// call IsEndOfChain and IsBadCluster separately.
func (a *Accessor) ClassifyEntry(value uint32) ClusterState {
	switch {
	case a.IsBadCluster(value):
		return ClusterBad
	case a.IsEndOfChain(value):
		return ClusterEndOfChain
	default:
		return ClusterLive
	}
}

// ReadClusterData returns the raw bytes stored in cluster n's data area.
func (a *Accessor) ReadClusterData(n ClusterID) ([]byte, error) {
	offset, err := a.dataOffset(n)
	if err != nil {
		return nil, err
	}

	if err := a.img.SeekAbsolute(offset); err != nil {
		return nil, err
	}

	return a.img.ReadN(int(a.Geometry.BytesPerCluster))
}

// WriteClusterData overwrites cluster n's data area with data, which must
// be exactly one cluster long.
func (a *Accessor) WriteClusterData(n ClusterID, data []byte) error {
	if uint32(len(data)) != a.Geometry.BytesPerCluster {
		return errors.ErrInvalidArgument.WithMessage("cluster data must be exactly one cluster long")
	}

	offset, err := a.dataOffset(n)
	if err != nil {
		return err
	}

	if err := a.img.SeekAbsolute(offset); err != nil {
		return err
	}

	return a.img.WriteRaw(data)
}
