// Package inject manufactures the three anomalies the repair package knows
// how to detect: a divergent FAT mirror, a looped cluster chain, and two
// files intersecting on a shared cluster. It exists to build test fixtures
// and demonstrate repair, not as something a production run would call.
package inject

import (
	"math/rand"
	"strings"

	"github.com/mkirienko/fatdefrag/errors"
	"github.com/mkirienko/fatdefrag/file_systems/fat"
)

// Injector manufactures anomalies against an image's accessor, parser, and
// current index.
type Injector struct {
	accessor *fat.Accessor
	parser   *fat.Parser
	idx      *fat.Index
}

// NewInjector returns an Injector bound to accessor, parser, and idx.
func NewInjector(accessor *fat.Accessor, parser *fat.Parser, idx *fat.Index) *Injector {
	return &Injector{accessor: accessor, parser: parser, idx: idx}
}

// InjectMirrorDivergence picks a pseudo-random cluster and bumps its stored
// value by 1 in FAT mirror fatNum only, leaving the other mirrors
// untouched.
func (inj *Injector) InjectMirrorDivergence(fatNum int, r *rand.Rand) error {
	geometry := inj.accessor.Geometry
	if fatNum < 0 || fatNum >= int(geometry.NumFATs) {
		return errors.ErrInvalidArgument.WithMessage("fat number out of range")
	}

	cluster := fat.ClusterID(r.Intn(int(geometry.TotalClusters)))
	value, err := inj.accessor.ClusterValueInFAT(cluster, fatNum)
	if err != nil {
		return err
	}

	return inj.accessor.WriteClusterValueInFAT(value+1, cluster, fatNum)
}

// InjectLoopedFile allocates 3 free clusters, creates a short entry named
// "ERRORLOOP" for them in folder, and links the chain into a cycle (the
// last cluster points back at the first) instead of terminating it.
func (inj *Injector) InjectLoopedFile(folder string) error {
	entryOffset, err := inj.freeEntrySlot(folder)
	if err != nil {
		return err
	}

	clusters, err := FindFreeClusters(inj.accessor.Geometry, inj.idx, 3)
	if err != nil {
		return err
	}

	if err := inj.parser.CreateEntry(entryOffset, "ERRORLOOP", 0, clusters[0]); err != nil {
		return err
	}

	for i, cluster := range clusters {
		next := clusters[0]
		if i != len(clusters)-1 {
			next = clusters[i+1]
		}
		if err := inj.accessor.WriteClusterValueAllFATs(uint32(next), cluster); err != nil {
			return err
		}
	}

	return nil
}

// InjectIntersectingFiles allocates 3 clusters for "ERRINTERSEC", terminated
// normally, then 1 more cluster for "ERRINTERS 2" whose chain links into the
// second cluster of the first file, producing a shared claimant.
func (inj *Injector) InjectIntersectingFiles(folder string) error {
	geometry := inj.accessor.Geometry

	firstSlot, err := inj.freeEntrySlot(folder)
	if err != nil {
		return err
	}

	clusters, err := FindFreeClusters(geometry, inj.idx, 3)
	if err != nil {
		return err
	}

	if err := inj.parser.CreateEntry(firstSlot, "ERRINTERSEC", 0, clusters[0]); err != nil {
		return err
	}
	for i, cluster := range clusters {
		if i == len(clusters)-1 {
			if err := inj.accessor.WriteClusterValueAllFATs(geometry.WindowsEndOfChainValue, cluster); err != nil {
				return err
			}
			continue
		}
		if err := inj.accessor.WriteClusterValueAllFATs(uint32(clusters[i+1]), cluster); err != nil {
			return err
		}
	}

	secondSlot, err := inj.freeEntrySlot(folder)
	if err != nil {
		return err
	}

	// inj.idx does not yet claim the first file's clusters, so ask for one
	// more than those and take the last.
	free, err := FindFreeClusters(geometry, inj.idx, len(clusters)+1)
	if err != nil {
		return err
	}
	extra := free[len(clusters)]

	if err := inj.parser.CreateEntry(secondSlot, "ERRINTERS 2", 0, extra); err != nil {
		return err
	}
	return inj.accessor.WriteClusterValueAllFATs(uint32(clusters[1]), extra)
}

// freeEntrySlot locates folder (the literal root pseudo-name or a
// subdirectory name found anywhere in the current index) and returns the
// byte offset of its first free or deleted directory-entry slot.
func (inj *Injector) freeEntrySlot(folder string) (int64, error) {
	if folder == fat.RootPseudoName {
		return inj.parser.FindFreeSlot(inj.accessor.Geometry.FirstRootDirByte)
	}

	target := strings.TrimSpace(folder)
	for _, owner := range inj.idx.Correct {
		if !owner.IsDirectory {
			continue
		}
		if strings.TrimSpace(owner.Entry.Name) != target {
			continue
		}

		offset, err := inj.accessor.ClusterDataOffset(owner.Entry.FirstCluster)
		if err != nil {
			return 0, err
		}
		return inj.parser.FindFreeSlot(offset)
	}

	return 0, errors.ErrNotFound.WithMessage("directory not found: " + folder)
}
