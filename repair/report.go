package repair

import (
	"io"
	"strconv"

	"github.com/gocarina/gocsv"

	"github.com/mkirienko/fatdefrag/file_systems/fat"
)

func clusterString(cluster fat.ClusterID) string {
	return strconv.FormatUint(uint64(cluster), 10)
}

// RepairReportRow is one anomaly entry in a CSV audit trail: one row per
// mirror divergence, looped entry, intersecting group member, or detected
// orphan cluster.
type RepairReportRow struct {
	Kind    string `csv:"kind"`
	Cluster string `csv:"cluster"`
	Detail  string `csv:"detail"`
}

// RepairReport is the full set of rows produced by one detection pass, kept
// separate from DetectionReport so the CSV shape doesn't have to mirror the
// in-memory shape.
type RepairReport struct {
	Rows []RepairReportRow
}

// BuildRepairReport flattens a DetectionReport into CSV rows.
func BuildRepairReport(detection *DetectionReport) *RepairReport {
	report := &RepairReport{}

	for _, cluster := range detection.MirrorDivergences {
		report.Rows = append(report.Rows, RepairReportRow{
			Kind:    "mirror_divergence",
			Cluster: clusterString(cluster),
		})
	}
	for _, owner := range detection.LoopedEntries {
		report.Rows = append(report.Rows, RepairReportRow{
			Kind:    "looped_file",
			Cluster: clusterString(owner.CurrentCluster),
			Detail:  owner.Entry.Name,
		})
	}
	for _, group := range detection.Intersections {
		for _, owner := range group {
			report.Rows = append(report.Rows, RepairReportRow{
				Kind:    "intersecting_file",
				Cluster: clusterString(owner.CurrentCluster),
				Detail:  owner.Entry.Name,
			})
		}
	}
	for _, cluster := range detection.OrphanClusters {
		report.Rows = append(report.Rows, RepairReportRow{
			Kind:    "orphan_cluster",
			Cluster: clusterString(cluster),
		})
	}

	return report
}

// WriteReportCSV marshals report as CSV to w, for the audit trail a caller
// can persist alongside the repaired image.
func WriteReportCSV(w io.Writer, report *RepairReport) error {
	return gocsv.Marshal(report.Rows, w)
}
