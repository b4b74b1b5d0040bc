// Package repair detects and fixes FAT-level anomalies: FAT mirrors that
// disagree, cluster chains that loop, directory entries whose chains
// intersect on a shared cluster, and clusters the index never reached
// (orphans). Detection and repair are separate steps so a caller can choose
// what to fix, in the order the original tool's interactive handler does.
package repair

import (
	"fmt"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/mkirienko/fatdefrag/errors"
	"github.com/mkirienko/fatdefrag/file_systems/fat"
)

// DetectionReport holds every anomaly found in one detection pass.
type DetectionReport struct {
	MirrorDivergences []fat.ClusterID
	LoopedEntries     []*fat.Owner
	Intersections     [][]*fat.Owner
	OrphanClusters    []fat.ClusterID
}

// HasMirrorDivergence reports whether any cluster disagreed across FAT
// mirrors in the last detection pass.
func (r *DetectionReport) HasMirrorDivergence() bool { return len(r.MirrorDivergences) != 0 }

// HasLoopedFiles reports whether any cluster chain loops back on an entry
// that already claims an earlier cluster in its own chain.
func (r *DetectionReport) HasLoopedFiles() bool { return len(r.LoopedEntries) != 0 }

// HasIntersectingFiles reports whether two distinct entries were found
// claiming the same cluster.
func (r *DetectionReport) HasIntersectingFiles() bool { return len(r.Intersections) != 0 }

// HasOrphanClusters reports whether the last detection pass found any
// allocated clusters that no indexed entry claims.
func (r *DetectionReport) HasOrphanClusters() bool { return len(r.OrphanClusters) != 0 }

// Errors collapses every anomaly in the report into one combined error, or
// nil if the report is clean. Each anomaly becomes one wrapped
// errors.ErrCorruptImage entry in the aggregate.
func (r *DetectionReport) Errors() error {
	var result *multierror.Error

	for _, cluster := range r.MirrorDivergences {
		result = multierror.Append(result, errors.ErrCorruptImage.WithMessage(
			fmt.Sprintf("cluster %d disagrees across FAT mirrors", cluster)))
	}
	for _, owner := range r.LoopedEntries {
		result = multierror.Append(result, errors.ErrCorruptImage.WithMessage(
			fmt.Sprintf("entry %q loops back on its own chain", owner.Entry.Name)))
	}
	for _, group := range r.Intersections {
		names := make([]string, len(group))
		for i, owner := range group {
			names[i] = owner.Entry.Name
		}
		result = multierror.Append(result, errors.ErrCorruptImage.WithMessage(
			fmt.Sprintf("entries %v intersect on a shared cluster", names)))
	}
	for _, cluster := range r.OrphanClusters {
		result = multierror.Append(result, errors.ErrCorruptImage.WithMessage(
			fmt.Sprintf("cluster %d is allocated but unowned", cluster)))
	}

	if result == nil {
		return nil
	}
	return result.ErrorOrNil()
}

// Detector runs the four detection passes against an image's accessor.
type Detector struct {
	accessor *fat.Accessor
}

// NewDetector returns a Detector bound to accessor.
func NewDetector(accessor *fat.Accessor) *Detector {
	return &Detector{accessor: accessor}
}

// CheckMirrorDivergence compares every cluster's value across all FAT
// mirrors against the first mirror and returns the clusters that disagree.
func (d *Detector) CheckMirrorDivergence() ([]fat.ClusterID, error) {
	var divergent []fat.ClusterID

	geometry := d.accessor.Geometry
	for i := fat.ClusterID(0); uint32(i) < geometry.TotalClusters; i++ {
		first, err := d.accessor.ClusterValueInFAT(i, 0)
		if err != nil {
			return nil, err
		}

		for j := 1; j < int(geometry.NumFATs); j++ {
			other, err := d.accessor.ClusterValueInFAT(i, j)
			if err != nil {
				return nil, err
			}
			if other != first {
				divergent = append(divergent, i)
				break
			}
		}
	}

	return divergent, nil
}

// AnalyzeIndex walks an index's full table and separates looped entries
// (the same entry claims a cluster more than once) from intersecting
// entries (two distinct entries claim the same cluster).
func (d *Detector) AnalyzeIndex(idx *fat.Index) (looped []*fat.Owner, intersections [][]*fat.Owner) {
	for _, owners := range idx.Full {
		if len(owners) == 1 {
			continue
		}

		byName := map[string]*fat.Owner{}
		for _, owner := range owners {
			if _, seen := byName[owner.Entry.Name]; seen {
				looped = append(looped, owner)
			} else {
				byName[owner.Entry.Name] = owner
			}
		}

		if len(byName) > 1 {
			group := make([]*fat.Owner, 0, len(byName))
			for _, owner := range byName {
				group = append(group, owner)
			}
			intersections = append(intersections, group)
		}
	}

	return looped, intersections
}

// FindOrphanClusters returns every cluster with a nonzero FAT entry that the
// index doesn't claim. It does not modify the image; call ClearOrphanClusters
// to zero them out.
func (d *Detector) FindOrphanClusters(idx *fat.Index) ([]fat.ClusterID, error) {
	var orphans []fat.ClusterID

	geometry := d.accessor.Geometry
	for i := fat.ClusterID(2); uint32(i) < geometry.TotalClusters; i++ {
		value, err := d.accessor.ClusterValue(i)
		if err != nil {
			return nil, err
		}
		if value == 0 {
			continue
		}
		if _, owned := idx.Correct[i]; !owned {
			orphans = append(orphans, i)
		}
	}

	return orphans, nil
}

// Run performs every detection pass in the order the original tool checks
// them (mirrors, then loops/intersections, then orphans) and returns the
// combined report. idx may be nil if mirror divergence made indexing
// meaningless; in that case only MirrorDivergences is populated.
func (d *Detector) Run(idx *fat.Index) (*DetectionReport, error) {
	report := &DetectionReport{}

	divergent, err := d.CheckMirrorDivergence()
	if err != nil {
		return nil, err
	}
	report.MirrorDivergences = divergent

	if idx == nil {
		return report, nil
	}

	report.LoopedEntries, report.Intersections = d.AnalyzeIndex(idx)

	orphans, err := d.FindOrphanClusters(idx)
	if err != nil {
		return nil, err
	}
	report.OrphanClusters = orphans

	return report, nil
}
