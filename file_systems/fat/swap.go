package fat

// Swapper exchanges the contents of two clusters — their FAT entries,
// their data, and every reference that points at them — while keeping an
// Index's correct table consistent with the result. The five steps below
// must run in this order: each one depends on state the previous step
// either hasn't touched yet or has just finished updating.
type Swapper struct {
	accessor *Accessor
	parser   *Parser
	table    map[ClusterID]*Owner
}

// NewSwapper returns a Swapper that mutates table in place as it performs
// swaps, so callers that hold onto table see every swap reflected
// immediately.
func NewSwapper(accessor *Accessor, parser *Parser, table map[ClusterID]*Owner) *Swapper {
	return &Swapper{accessor: accessor, parser: parser, table: table}
}

// Swap exchanges cluster first and cluster second: their FAT entries, the
// directory entries or chain links that point at them, the table's record
// of who owns them, and their data. It's a no-op if first equals second.
func (s *Swapper) Swap(first, second ClusterID) error {
	if first == second {
		return nil
	}

	valueFirst, err := s.accessor.ClusterValue(first)
	if err != nil {
		return err
	}
	valueSecond, err := s.accessor.ClusterValue(second)
	if err != nil {
		return err
	}

	// Step 1: swap the FAT entries in every mirror.
	if err := s.accessor.WriteClusterValueAllFATs(valueSecond, first); err != nil {
		return err
	}
	if err := s.accessor.WriteClusterValueAllFATs(valueFirst, second); err != nil {
		return err
	}

	// Step 2: fix the reference that used to point at each cluster — a
	// directory entry's first-cluster field, or the previous cluster's
	// forward link — using the ownership recorded before this swap.
	firstOwner := s.table[first]
	secondOwner := s.table[second]

	if err := s.redirectReferencesTo(second, valueFirst, firstOwner); err != nil {
		return err
	}
	if err := s.redirectReferencesTo(first, valueSecond, secondOwner); err != nil {
		return err
	}

	// Step 3: swap the table's own record of who owns which cluster.
	s.swapTableEntries(first, second)

	// Step 4: swap the cluster data itself.
	if err := s.swapData(first, second); err != nil {
		return err
	}

	// Step 5: if either swapped cluster is a directory, its children's
	// entries physically moved with the data; recompute their recorded
	// entry offsets from the new location.
	return s.fixChildEntryOffsets(first, second)
}

// redirectReferencesTo points whatever referred to the cluster that moved
// (described by movedOwner, captured before this swap) at its new location,
// newLocation. originalNext is the FAT value the moved cluster held before
// step 1 swapped it; if the cluster immediately following it in the table
// needs to know the chain now continues at newLocation, this updates that
// too.
func (s *Swapper) redirectReferencesTo(newLocation ClusterID, originalNext uint32, movedOwner *Owner) error {
	if movedOwner == nil {
		return nil
	}

	currentValue, err := s.accessor.ClusterValue(movedOwner.CurrentCluster)
	if err != nil {
		return err
	}

	switch {
	case !movedOwner.HasPrevious:
		if err := s.parser.WriteFirstCluster(movedOwner.Entry.EntryOffset, newLocation); err != nil {
			return err
		}
		movedOwner.Entry.FirstCluster = newLocation

	case movedOwner.CurrentCluster == ClusterID(currentValue):
		// The moved cluster's own forward link, after step 1, points back
		// at itself: this happens when the two clusters being swapped were
		// adjacent in the chain. Its own entry becomes the "previous" link.
		if err := s.accessor.WriteClusterValueAllFATs(uint32(newLocation), movedOwner.CurrentCluster); err != nil {
			return err
		}
		movedOwner.PreviousCluster = movedOwner.CurrentCluster
		movedOwner.HasPrevious = true

	default:
		if err := s.accessor.WriteClusterValueAllFATs(uint32(newLocation), movedOwner.PreviousCluster); err != nil {
			return err
		}
	}

	if !s.accessor.IsEndOfChain(originalNext) && originalNext != uint32(newLocation) {
		if nextOwner, ok := s.table[ClusterID(originalNext)]; ok {
			nextOwner.PreviousCluster = newLocation
			nextOwner.HasPrevious = true
		}
	}

	return nil
}

func (s *Swapper) swapTableEntries(first, second ClusterID) {
	firstOwner, firstOk := s.table[first]
	secondOwner, secondOk := s.table[second]

	switch {
	case firstOk && secondOk:
		firstOwner.CurrentCluster = second
		secondOwner.CurrentCluster = first
		s.table[first] = secondOwner
		s.table[second] = firstOwner
	case firstOk && !secondOk:
		s.moveTableEntry(first, second)
	case !firstOk && secondOk:
		s.moveTableEntry(second, first)
	}
}

func (s *Swapper) moveTableEntry(from, to ClusterID) {
	owner := s.table[from]
	owner.CurrentCluster = to
	s.table[to] = owner
	delete(s.table, from)
}

func (s *Swapper) swapData(first, second ClusterID) error {
	firstData, err := s.accessor.ReadClusterData(first)
	if err != nil {
		return err
	}
	secondData, err := s.accessor.ReadClusterData(second)
	if err != nil {
		return err
	}

	if err := s.accessor.WriteClusterData(second, firstData); err != nil {
		return err
	}
	return s.accessor.WriteClusterData(first, secondData)
}

func (s *Swapper) fixChildEntryOffsets(first, second ClusterID) error {
	for _, cluster := range [2]ClusterID{first, second} {
		owner, ok := s.table[cluster]
		if !ok || !owner.IsDirectory {
			continue
		}

		offset, err := s.accessor.ClusterDataOffset(cluster)
		if err != nil {
			return err
		}
		listing, _, err := s.parser.readEntriesAt(offset, s.accessor.Geometry.DirentsPerCluster)
		if err != nil {
			return err
		}

		for _, entry := range listing.Entries {
			if entry.IsDotEntry() {
				continue
			}
			if childOwner, ok := s.table[entry.FirstCluster]; ok {
				childOwner.Entry.EntryOffset = entry.EntryOffset
			}
		}
	}

	return nil
}
