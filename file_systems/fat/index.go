package fat

// Owner associates one cluster with the directory entry that claims it,
// its position in that entry's chain, and whether the entry is a file or a
// directory. A cluster can end up with more than one Owner when a chain
// loops back on itself or two files share a cluster; Index.Full keeps every
// owner found, Index.Correct keeps just the first.
type Owner struct {
	Entry           *DirectoryEntry
	CurrentCluster  ClusterID
	PreviousCluster ClusterID
	HasPrevious     bool
	IsDirectory     bool
}

// Index is the result of walking every file and directory reachable from
// the root: a map from cluster number to the entry (or entries) that claim
// it.
type Index struct {
	// Full records every owner discovered for a cluster, in discovery
	// order. A cluster with more than one owner is either a looped chain
	// (the same entry appears twice) or two different entries intersecting
	// on the same cluster.
	Full map[ClusterID][]*Owner
	// Correct is Full collapsed to one owner per cluster: whichever owner
	// was discovered first. This is the table the rest of fatdefrag treats
	// as authoritative once detection has run.
	Correct map[ClusterID]*Owner
}

// Indexer builds an Index by walking the directory tree from the root.
type Indexer struct {
	accessor *Accessor
	parser   *Parser
}

// NewIndexer returns an Indexer bound to accessor and parser.
func NewIndexer(accessor *Accessor, parser *Parser) *Indexer {
	return &Indexer{accessor: accessor, parser: parser}
}

// Build walks the whole directory tree and returns the resulting Index.
// FAT16's root directory lives in a fixed region outside the cluster chain
// and is never itself indexed to an owner; FAT32's root is an ordinary
// chain and is indexed under the pseudo-entry name RootPseudoName so its
// clusters show up in the tables like any other file's.
func (ix *Indexer) Build() (*Index, error) {
	idx := &Index{Full: map[ClusterID][]*Owner{}}

	var rootListing DirectoryListing
	var err error

	if ix.accessor.Geometry.Variant == Variant16 {
		rootListing, err = ix.parser.ReadRootDirectory()
		if err != nil {
			return nil, err
		}
	} else {
		geometry := ix.accessor.Geometry
		rootEntry := &DirectoryEntry{
			Name:         RootPseudoName,
			FirstCluster: geometry.RootCluster,
			EntryOffset:  -1,
		}
		rootListing, err = ix.indexDirectoryChain(geometry.RootCluster, rootEntry, idx)
		if err != nil {
			return nil, err
		}
	}

	stack := []DirectoryListing{rootListing}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, f := range cur.Files() {
			entry := f
			if err := ix.indexFileChain(entry.FirstCluster, &entry, idx); err != nil {
				return nil, err
			}
		}

		for _, d := range cur.Directories() {
			if d.IsDotEntry() {
				continue
			}
			entry := d
			listing, err := ix.indexDirectoryChain(entry.FirstCluster, &entry, idx)
			if err != nil {
				return nil, err
			}
			stack = append(stack, listing)
		}
	}

	idx.Correct = map[ClusterID]*Owner{}
	for cluster, owners := range idx.Full {
		idx.Correct[cluster] = owners[0]
	}

	return idx, nil
}

// indexDirectoryChain indexes every cluster of a directory's chain and
// returns the merged listing of entries found in clusters that passed the
// loop/bad-cluster check. A cluster that fails the check still gets
// recorded as an owner (so detection can see the anomaly) but its contents
// are not trusted enough to recurse into.
func (ix *Indexer) indexDirectoryChain(first ClusterID, ownerEntry *DirectoryEntry, idx *Index) (DirectoryListing, error) {
	var listings []DirectoryListing
	var previous ClusterID
	hasPrevious := false
	current := first

	for {
		offset, err := ix.accessor.ClusterDataOffset(current)
		if err != nil {
			return DirectoryListing{}, err
		}
		listing, _, err := ix.parser.readEntriesAt(offset, ix.accessor.Geometry.DirentsPerCluster)
		if err != nil {
			return DirectoryListing{}, err
		}

		next, hasLoop, err := ix.indexCluster(current, previous, hasPrevious, ownerEntry, true, idx)
		if err != nil {
			return DirectoryListing{}, err
		}
		state := ix.accessor.ClassifyEntry(next)
		if hasLoop || state == ClusterBad {
			break
		}
		listings = append(listings, listing)

		hasPrevious = true
		previous = current
		if state == ClusterEndOfChain {
			break
		}
		current = ClusterID(next)
	}

	return merge(listings...), nil
}

// indexFileChain indexes every cluster in a file's chain, stopping early if
// a loop or bad cluster is detected.
func (ix *Indexer) indexFileChain(first ClusterID, ownerEntry *DirectoryEntry, idx *Index) error {
	var previous ClusterID
	hasPrevious := false
	current := first

	for {
		next, hasLoop, err := ix.indexCluster(current, previous, hasPrevious, ownerEntry, false, idx)
		if err != nil {
			return err
		}
		state := ix.accessor.ClassifyEntry(next)
		if hasLoop || state == ClusterBad {
			break
		}

		hasPrevious = true
		previous = current
		if state == ClusterEndOfChain {
			break
		}
		current = ClusterID(next)
	}

	return nil
}

// indexCluster records clusterNum's owner in idx.Full and returns the raw
// FAT value of its forward link, along with whether this entry already
// claims a cluster earlier in its own chain (a loop). The caller classifies
// the returned value with Accessor.ClassifyEntry to decide whether to stop.
func (ix *Indexer) indexCluster(
	clusterNum, previous ClusterID, hasPrevious bool, ownerEntry *DirectoryEntry, isDirectory bool, idx *Index,
) (next uint32, hasLoop bool, err error) {
	owner := &Owner{
		Entry:           ownerEntry,
		CurrentCluster:  clusterNum,
		PreviousCluster: previous,
		HasPrevious:     hasPrevious,
		IsDirectory:     isDirectory,
	}

	for _, existing := range idx.Full[clusterNum] {
		if existing.Entry.Name == ownerEntry.Name {
			hasLoop = true
			break
		}
	}
	idx.Full[clusterNum] = append(idx.Full[clusterNum], owner)

	next, err = ix.accessor.ClusterValue(clusterNum)
	if err != nil {
		return 0, false, err
	}

	return next, hasLoop, nil
}
