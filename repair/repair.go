package repair

import (
	"github.com/mkirienko/fatdefrag/file_systems/fat"
)

// Repairer applies fixes for anomalies a Detector found. It tracks the
// names of entries it has deleted so a later orphan sweep can reclaim their
// clusters even though the index built before repair still lists them as
// owned.
type Repairer struct {
	accessor *fat.Accessor
	parser   *fat.Parser
	removed  map[string]bool
}

// NewRepairer returns a Repairer bound to accessor and parser.
func NewRepairer(accessor *fat.Accessor, parser *fat.Parser) *Repairer {
	return &Repairer{accessor: accessor, parser: parser, removed: map[string]bool{}}
}

// FixMirrorDivergence overwrites every cluster in divergent with the value
// held in the correctFAT mirror, in every other mirror.
func (r *Repairer) FixMirrorDivergence(divergent []fat.ClusterID, correctFAT int) error {
	for _, cluster := range divergent {
		correctValue, err := r.accessor.ClusterValueInFAT(cluster, correctFAT)
		if err != nil {
			return err
		}

		for i := 0; i < int(r.accessor.Geometry.NumFATs); i++ {
			if i == correctFAT {
				continue
			}
			if err := r.accessor.WriteClusterValueInFAT(correctValue, cluster, i); err != nil {
				return err
			}
		}
	}

	return nil
}

// FixLoopedFiles deletes the directory entry for every looped owner and
// remembers its name so ClearOrphanClusters reclaims the clusters it leaves
// behind.
func (r *Repairer) FixLoopedFiles(looped []*fat.Owner) error {
	for _, owner := range looped {
		if err := r.deleteOwnerEntry(owner); err != nil {
			return err
		}
	}
	return nil
}

// FixIntersectingFiles deletes the directory entry for every owner in every
// intersecting group, the same way FixLoopedFiles does for loops.
func (r *Repairer) FixIntersectingFiles(intersections [][]*fat.Owner) error {
	for _, group := range intersections {
		for _, owner := range group {
			if err := r.deleteOwnerEntry(owner); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Repairer) deleteOwnerEntry(owner *fat.Owner) error {
	if owner.Entry.EntryOffset >= 0 {
		if err := r.parser.DeleteEntry(owner.Entry.EntryOffset); err != nil {
			return err
		}
	}
	r.removed[owner.Entry.Name] = true
	return nil
}

// ClearOrphanClusters zeroes out, in every FAT mirror, every cluster that is
// either unclaimed by idx or claimed only by an entry this Repairer has
// already deleted, and returns the clusters it cleared.
func (r *Repairer) ClearOrphanClusters(idx *fat.Index) ([]fat.ClusterID, error) {
	var cleared []fat.ClusterID

	geometry := r.accessor.Geometry
	for i := fat.ClusterID(2); uint32(i) < geometry.TotalClusters; i++ {
		value, err := r.accessor.ClusterValue(i)
		if err != nil {
			return nil, err
		}
		if value == 0 {
			continue
		}

		owner, owned := idx.Correct[i]
		shouldClear := !owned || r.removed[owner.Entry.Name]
		if !shouldClear {
			continue
		}

		if err := r.accessor.WriteClusterValueAllFATs(0, i); err != nil {
			return nil, err
		}
		cleared = append(cleared, i)
	}

	return cleared, nil
}
