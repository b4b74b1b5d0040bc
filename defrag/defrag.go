// Package defrag reorders and scatters a FAT image's cluster allocations:
// Defragmenter packs every file and directory into the lowest contiguous
// run of clusters available to it, and Fragmenter does the opposite, useful
// for building worst-case test fixtures.
package defrag

import (
	"sort"

	"github.com/mkirienko/fatdefrag/file_systems/fat"
)

// Defragmenter walks every indexed entry in increasing first-cluster order
// and swaps its chain, cluster by cluster, into the lowest-numbered
// clusters not already claimed by the root directory or marked bad.
type Defragmenter struct {
	accessor *fat.Accessor
	swapper  *fat.Swapper
	idx      *fat.Index
}

// NewDefragmenter returns a Defragmenter bound to idx, whose Correct table
// swapper mutates in place as it runs.
func NewDefragmenter(accessor *fat.Accessor, parser *fat.Parser, idx *fat.Index) *Defragmenter {
	return &Defragmenter{accessor: accessor, swapper: fat.NewSwapper(accessor, parser, idx.Correct), idx: idx}
}

// Run packs every file and directory (other than the FAT32 root pseudo-entry
// itself, which never moves) into the image's lowest available clusters, in
// the order their current first cluster appears.
func (d *Defragmenter) Run() error {
	entries := distinctEntries(d.idx)
	totalClusters := d.accessor.Geometry.TotalClusters

	targetCluster := fat.ClusterID(2)
	for _, entry := range entries {
		if entry.Name == fat.RootPseudoName {
			continue
		}

		currentFileCluster := entry.FirstCluster
		for {
			for uint32(targetCluster) < totalClusters {
				owner, owned := d.idx.Correct[targetCluster]
				value, err := d.accessor.ClusterValue(targetCluster)
				if err != nil {
					return err
				}
				if (owned && owner.Entry.Name == fat.RootPseudoName) || d.accessor.ClassifyEntry(value) == fat.ClusterBad {
					targetCluster++
					continue
				}
				break
			}
			if uint32(targetCluster) >= totalClusters {
				return nil
			}

			if err := d.swapper.Swap(targetCluster, currentFileCluster); err != nil {
				return err
			}

			nextValue, err := d.accessor.ClusterValue(targetCluster)
			if err != nil {
				return err
			}
			targetCluster++

			if d.accessor.ClassifyEntry(nextValue) == fat.ClusterEndOfChain {
				break
			}
			currentFileCluster = fat.ClusterID(nextValue)
		}
	}

	return nil
}

// distinctEntries returns one DirectoryEntry per unique entry the index
// claims, ordered by current first cluster so the walk visits files roughly
// in their on-disk order, the same way a Python set built from the indexed
// table happens to in the reference tool for small images.
func distinctEntries(idx *fat.Index) []*fat.DirectoryEntry {
	seen := map[*fat.DirectoryEntry]bool{}
	var entries []*fat.DirectoryEntry

	for _, owner := range idx.Correct {
		if seen[owner.Entry] {
			continue
		}
		seen[owner.Entry] = true
		entries = append(entries, owner.Entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].FirstCluster != entries[j].FirstCluster {
			return entries[i].FirstCluster < entries[j].FirstCluster
		}
		return entries[i].Name < entries[j].Name
	})

	return entries
}
