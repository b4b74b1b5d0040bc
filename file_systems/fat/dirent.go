package fat

import (
	"strings"
	"unicode/utf16"

	"github.com/mkirienko/fatdefrag/errors"
)

const (
	// AttrReadOnly marks a directory entry as read-only.
	AttrReadOnly = 0x01

	// AttrHidden marks a directory entry as hidden from normal listings.
	AttrHidden = 0x02

	// AttrSystem marks a directory entry as essential to the operating
	// system; tools must not move or delete it casually.
	AttrSystem = 0x04

	// AttrVolumeLabel marks a directory entry as holding the volume label
	// rather than a file or directory.
	AttrVolumeLabel = 0x08

	// AttrDirectory marks a directory entry as a subdirectory.
	AttrDirectory = 0x10

	// AttrArchive marks a directory entry dirty since its last backup.
	AttrArchive = 0x20

	// attrLongNameMask is the set of bits a long-name fragment sets
	// together: read-only, hidden, system, and volume-label. No real short
	// entry sets all four, which is what makes the combination usable as a
	// marker.
	attrLongNameMask = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel
)

// DirentSize is the size in bytes of one directory entry slot, short or
// long-name fragment alike.
const DirentSize = 32

const (
	emptyRecordMarker = 0xE5
	endOfRecordsMarker = 0x00
)

// IsLongNameAttr reports whether attr marks a directory entry slot as a
// long-filename fragment rather than a short entry.
func IsLongNameAttr(attr uint8) bool {
	return attr&0x3F == attrLongNameMask
}

// RawDirent is the on-disk layout of a short (8.3) directory entry.
type RawDirent struct {
	Name             [8]byte
	Extension        [3]byte
	Attributes       uint8
	NTReserved       uint8
	CreatedTimeTenth uint8
	CreatedTime      uint16
	CreatedDate      uint16
	LastAccessDate   uint16
	FirstClusterHi   uint16
	WriteTime        uint16
	WriteDate        uint16
	FirstClusterLo   uint16
	FileSize         uint32
}

// DirectoryEntry is a short directory entry after its long-name fragments
// (if any) have been folded into a single readable name.
type DirectoryEntry struct {
	Name         string
	Attributes   uint8
	FirstCluster ClusterID
	// EntryOffset is the byte offset of the entry's short-entry slot in the
	// image. It is -1 for the synthetic pseudo-entry the indexer uses to
	// represent the FAT32 root directory, which has no directory slot of
	// its own.
	EntryOffset int64
	Size        uint32
	IsDeleted   bool
}

// IsDirectory reports whether the entry names a subdirectory.
func (e DirectoryEntry) IsDirectory() bool {
	return e.Attributes&AttrDirectory != 0
}

// IsDotEntry reports whether the entry is the "." or ".." pseudo-entry
// every subdirectory carries, which the directory walker must not recurse
// into.
func (e DirectoryEntry) IsDotEntry() bool {
	trimmed := strings.TrimRight(e.Name, " ")
	return trimmed == "." || trimmed == ".."
}

// LongNameFragment is one UTF-16LE fragment of a long filename, spread
// across three discontiguous byte ranges of its directory entry slot.
type LongNameFragment struct {
	Order    uint8
	Name1    [5]uint16
	Checksum uint8
	Name2    [6]uint16
	Name3    [2]uint16
}

// Text decodes a long-name fragment's three name ranges into the UTF-8
// substring it contributes, stopping at the first NUL or 0xFFFF padding
// code unit.
func (f LongNameFragment) Text() string {
	units := make([]uint16, 0, 13)
	units = append(units, f.Name1[:]...)
	units = append(units, f.Name2[:]...)
	units = append(units, f.Name3[:]...)

	for i, u := range units {
		if u == 0x0000 || u == 0xFFFF {
			units = units[:i]
			break
		}
	}

	return string(utf16.Decode(units))
}

// DecodeRawDirent parses 32 bytes as a short directory entry's raw layout.
func DecodeRawDirent(data []byte) (RawDirent, error) {
	if len(data) != DirentSize {
		return RawDirent{}, errors.ErrInvalidArgument.WithMessage("directory entry must be 32 bytes")
	}

	raw := RawDirent{
		Attributes:       data[11],
		NTReserved:       data[12],
		CreatedTimeTenth: data[13],
		CreatedTime:      le16(data[14:16]),
		CreatedDate:      le16(data[16:18]),
		LastAccessDate:   le16(data[18:20]),
		FirstClusterHi:   le16(data[20:22]),
		WriteTime:        le16(data[22:24]),
		WriteDate:        le16(data[24:26]),
		FirstClusterLo:   le16(data[26:28]),
		FileSize:         le32(data[28:32]),
	}
	copy(raw.Name[:], data[0:8])
	copy(raw.Extension[:], data[8:11])

	return raw, nil
}

// DecodeLongNameFragment parses 32 bytes as a long-filename fragment.
func DecodeLongNameFragment(data []byte) (LongNameFragment, error) {
	if len(data) != DirentSize {
		return LongNameFragment{}, errors.ErrInvalidArgument.WithMessage("directory entry must be 32 bytes")
	}

	frag := LongNameFragment{
		Order:    data[0],
		Checksum: data[13],
	}
	for i := 0; i < 5; i++ {
		frag.Name1[i] = le16(data[1+2*i : 3+2*i])
	}
	for i := 0; i < 6; i++ {
		frag.Name2[i] = le16(data[14+2*i : 16+2*i])
	}
	for i := 0; i < 2; i++ {
		frag.Name3[i] = le16(data[28+2*i : 30+2*i])
	}

	return frag, nil
}

// shortNameFromRaw decodes the 11-byte name field verbatim, as ASCII,
// padding spaces included. It does not reinsert a dot between the 8-byte
// name and 3-byte extension: the raw bytes are whatever was written there,
// dot or no dot, and callers that need a trimmed name for matching or
// display call strings.TrimSpace themselves.
func shortNameFromRaw(raw RawDirent) string {
	return string(raw.Name[:]) + string(raw.Extension[:])
}

// NewDirectoryEntryFromRaw builds a DirectoryEntry out of a raw short entry
// and the long name accumulated from any fragments that preceded it, if
// any. Pass an empty longName to fall back to the raw 8.3 short name.
// variant controls whether FirstClusterHi contributes to the assembled
// cluster number: FAT16 directories never carry anything meaningful there,
// since the format predates the field's 32-bit extension.
func NewDirectoryEntryFromRaw(raw RawDirent, entryOffset int64, longName string, variant Variant) DirectoryEntry {
	firstCluster := uint32(raw.FirstClusterLo)
	if variant != Variant16 {
		firstCluster |= uint32(raw.FirstClusterHi) << 16
	}

	name := longName
	if name == "" {
		name = shortNameFromRaw(raw)
	}

	return DirectoryEntry{
		Name:         name,
		Attributes:   raw.Attributes,
		FirstCluster: ClusterID(firstCluster),
		EntryOffset:  entryOffset,
		Size:         raw.FileSize,
		IsDeleted:    raw.Name[0] == emptyRecordMarker,
	}
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
