package fat

import (
	"sort"
	"strings"

	"github.com/mkirienko/fatdefrag/errors"
	"github.com/mkirienko/fatdefrag/imageio"
)

// DirectoryListing is the decoded contents of one directory, long-name
// fragments already folded into their owning short entries.
type DirectoryListing struct {
	Entries []DirectoryEntry
}

// Files returns the non-directory entries in the listing.
func (l DirectoryListing) Files() []DirectoryEntry {
	return l.filter(func(e DirectoryEntry) bool { return !e.IsDirectory() })
}

// Directories returns the subdirectory entries in the listing, including
// "." and ".." — callers that recurse must skip those themselves.
func (l DirectoryListing) Directories() []DirectoryEntry {
	return l.filter(func(e DirectoryEntry) bool { return e.IsDirectory() })
}

func (l DirectoryListing) filter(keep func(DirectoryEntry) bool) []DirectoryEntry {
	out := make([]DirectoryEntry, 0, len(l.Entries))
	for _, e := range l.Entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func merge(listings ...DirectoryListing) DirectoryListing {
	merged := DirectoryListing{}
	for _, l := range listings {
		merged.Entries = append(merged.Entries, l.Entries...)
	}
	return merged
}

// Parser walks directories and individual directory-entry slots on top of
// an Accessor.
type Parser struct {
	Accessor *Accessor
	img      *imageio.Image
}

// NewParser returns a Parser bound to accessor. img is the same image the
// accessor wraps; the parser needs it directly to read directory-entry
// bytes that aren't a whole cluster at a time.
func NewParser(accessor *Accessor, img *imageio.Image) *Parser {
	return &Parser{Accessor: accessor, img: img}
}

// ReadRootDirectory returns the root directory's listing. On FAT16 this is
// the fixed region below the data area; on FAT32 it's an ordinary cluster
// chain starting at Geometry.RootCluster.
func (p *Parser) ReadRootDirectory() (DirectoryListing, error) {
	geometry := p.Accessor.Geometry

	if geometry.Variant == Variant16 {
		listing, _, err := p.readEntriesAt(geometry.FirstRootDirByte, int(geometry.RootEntryCount))
		return listing, err
	}

	return p.ReadDirectoryChain(geometry.RootCluster)
}

// ReadDirectoryChain returns the listing formed by every cluster in the
// chain starting at first, merging entries cluster by cluster in the order
// the chain visits them.
func (p *Parser) ReadDirectoryChain(first ClusterID) (DirectoryListing, error) {
	var listings []DirectoryListing

	current := first
	for {
		offset, err := p.Accessor.ClusterDataOffset(current)
		if err != nil {
			return DirectoryListing{}, err
		}

		listing, _, err := p.readEntriesAt(offset, p.Accessor.Geometry.DirentsPerCluster)
		if err != nil {
			return DirectoryListing{}, err
		}
		listings = append(listings, listing)

		next, err := p.Accessor.ClusterValue(current)
		if err != nil {
			return DirectoryListing{}, err
		}
		if p.Accessor.IsEndOfChain(next) {
			break
		}
		current = ClusterID(next)
	}

	return merge(listings...), nil
}

// readEntriesAt scans up to maxEntries 32-byte slots starting at offset,
// folding any long-name fragments into the short entry that follows them.
// It returns early, with stopped set, if it hits the end-of-records marker.
func (p *Parser) readEntriesAt(offset int64, maxEntries int) (DirectoryListing, bool, error) {
	listing := DirectoryListing{}
	fragments := map[uint8]LongNameFragment{}

	current := offset
	for i := 0; i < maxEntries; i++ {
		raw, err := p.img.ReadAt(current, DirentSize)
		if err != nil {
			return listing, false, err
		}
		entryOffset := current
		current += DirentSize

		switch raw[0] {
		case endOfRecordsMarker:
			return listing, true, nil
		case emptyRecordMarker:
			continue
		}

		if IsLongNameAttr(raw[11]) {
			frag, err := DecodeLongNameFragment(raw)
			if err != nil {
				return listing, false, err
			}
			fragments[frag.Order&0x3F] = frag
			continue
		}

		rawDirent, err := DecodeRawDirent(raw)
		if err != nil {
			return listing, false, err
		}

		longName := assembleLongName(fragments)
		fragments = map[uint8]LongNameFragment{}

		listing.Entries = append(listing.Entries,
			NewDirectoryEntryFromRaw(rawDirent, entryOffset, longName, p.Accessor.Geometry.Variant))
	}

	return listing, false, nil
}

// assembleLongName concatenates the fragments collected ahead of a short
// entry in ascending sequence-number order, which reconstructs the name in
// reading order even though the fragments are stored back to front on disk.
func assembleLongName(fragments map[uint8]LongNameFragment) string {
	if len(fragments) == 0 {
		return ""
	}

	orders := make([]int, 0, len(fragments))
	for order := range fragments {
		orders = append(orders, int(order))
	}
	sort.Ints(orders)

	var b strings.Builder
	for _, order := range orders {
		b.WriteString(fragments[uint8(order)].Text())
	}

	return b.String()
}

// FindFreeSlot returns the byte offset of the first empty or deleted slot
// among the DirentsPerCluster slots starting at directoryStartOffset. For
// the FAT16 fixed root region, too, only that many leading slots are
// examined. It does not follow the directory's cluster chain,
// matching the original tool's error-injection helper, which only ever
// creates entries in a directory's first cluster.
func (p *Parser) FindFreeSlot(directoryStartOffset int64) (int64, error) {
	current := directoryStartOffset

	for i := 0; i < p.Accessor.Geometry.DirentsPerCluster; i++ {
		raw, err := p.img.ReadAt(current, 1)
		if err != nil {
			return 0, err
		}

		if raw[0] == emptyRecordMarker || raw[0] == endOfRecordsMarker {
			return current, nil
		}

		current += DirentSize
	}

	return 0, errors.ErrExhausted.WithMessage("no free directory entry slot")
}

// CreateEntry writes a short directory entry at entryOffset. name is
// truncated or space-padded to 11 characters and upper-cased, matching the
// 8.3 short-name convention; attr must be 0 or a single attribute bit.
func (p *Parser) CreateEntry(entryOffset int64, name string, attr uint8, firstCluster ClusterID) error {
	if attr != 0 && attr&(attr-1) != 0 {
		return errors.ErrInvalidArgument.WithMessage("attribute byte must be 0 or a single bit")
	}

	padded := strings.ToUpper(name)
	if len(padded) > 11 {
		padded = padded[:11]
	} else {
		padded = padded + strings.Repeat(" ", 11-len(padded))
	}

	if err := p.img.SeekAbsolute(entryOffset); err != nil {
		return err
	}
	if err := p.img.WriteRaw([]byte(padded)); err != nil {
		return err
	}
	if err := p.img.WriteUint(uint32(attr), 1); err != nil {
		return err
	}

	if err := p.img.SeekAbsolute(entryOffset + 20); err != nil {
		return err
	}
	if err := p.img.WriteUint(uint32(firstCluster)>>16, 2); err != nil {
		return err
	}

	if err := p.img.SeekAbsolute(entryOffset + 26); err != nil {
		return err
	}
	if err := p.img.WriteUint(uint32(firstCluster)&0xFFFF, 2); err != nil {
		return err
	}
	return p.img.WriteUint(1, 4)
}

// DeleteEntry marks the short entry at entryOffset as free.
func (p *Parser) DeleteEntry(entryOffset int64) error {
	if err := p.img.SeekAbsolute(entryOffset); err != nil {
		return err
	}
	return p.img.WriteUint(emptyRecordMarker, 1)
}

// WriteFirstCluster overwrites the first-cluster field of the short entry
// at entryOffset, used when a swap moves a file or directory's starting
// cluster.
func (p *Parser) WriteFirstCluster(entryOffset int64, cluster ClusterID) error {
	if err := p.img.SeekAbsolute(entryOffset + 20); err != nil {
		return err
	}
	if err := p.img.WriteUint(uint32(cluster)>>16, 2); err != nil {
		return err
	}

	if err := p.img.SeekAbsolute(entryOffset + 26); err != nil {
		return err
	}
	return p.img.WriteUint(uint32(cluster)&0xFFFF, 2)
}
