package repair_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkirienko/fatdefrag/fattesting"
	"github.com/mkirienko/fatdefrag/file_systems/fat"
	"github.com/mkirienko/fatdefrag/repair"
)

func TestRepairer_FixMirrorDivergence(t *testing.T) {
	synth, accessor, parser := newFixture(t, fat.Variant16)
	synth.SetFATEntry(1, 5, 999)

	detector := repair.NewDetector(accessor)
	divergent, err := detector.CheckMirrorDivergence()
	require.NoError(t, err)
	require.NotEmpty(t, divergent)

	repairer := repair.NewRepairer(accessor, parser)
	require.NoError(t, repairer.FixMirrorDivergence(divergent, 0))

	divergent, err = detector.CheckMirrorDivergence()
	require.NoError(t, err)
	require.Empty(t, divergent)
}

func TestRepairer_FixLoopedFiles_DeletesEntry(t *testing.T) {
	synth, accessor, parser := newFixture(t, fat.Variant16)

	c1, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{c1}, nil)
	root := synth.RootDirectoryDataOffset()
	synth.WriteShortEntry(root, 0, "LOOP    TXT", 0, c1)
	require.NoError(t, accessor.WriteClusterValueAllFATs(uint32(c1), c1))

	idx, err := fat.NewIndexer(accessor, parser).Build()
	require.NoError(t, err)

	detector := repair.NewDetector(accessor)
	looped, _ := detector.AnalyzeIndex(idx)
	require.Len(t, looped, 1)

	repairer := repair.NewRepairer(accessor, parser)
	require.NoError(t, repairer.FixLoopedFiles(looped))

	listing, err := parser.ReadRootDirectory()
	require.NoError(t, err)
	require.Empty(t, listing.Entries)
}

func TestRepairer_ClearOrphanClusters_ReclaimsRemovedEntries(t *testing.T) {
	synth, accessor, parser := newFixture(t, fat.Variant16)

	c1, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{c1}, nil)
	root := synth.RootDirectoryDataOffset()
	synth.WriteShortEntry(root, 0, "LOOP    TXT", 0, c1)
	require.NoError(t, accessor.WriteClusterValueAllFATs(uint32(c1), c1))

	idx, err := fat.NewIndexer(accessor, parser).Build()
	require.NoError(t, err)

	detector := repair.NewDetector(accessor)
	looped, _ := detector.AnalyzeIndex(idx)

	repairer := repair.NewRepairer(accessor, parser)
	require.NoError(t, repairer.FixLoopedFiles(looped))

	cleared, err := repairer.ClearOrphanClusters(idx)
	require.NoError(t, err)
	require.Contains(t, cleared, c1)

	value, err := accessor.ClusterValue(c1)
	require.NoError(t, err)
	require.EqualValues(t, 0, value)
}

func TestRepairer_ClearOrphanClusters_UnindexedCluster(t *testing.T) {
	synth, accessor, parser := newFixture(t, fat.Variant16)

	orphan, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	require.NoError(t, accessor.WriteClusterValueAllFATs(accessor.Geometry.EndOfChainValue, orphan))

	idx, err := fat.NewIndexer(accessor, parser).Build()
	require.NoError(t, err)

	repairer := repair.NewRepairer(accessor, parser)
	cleared, err := repairer.ClearOrphanClusters(idx)
	require.NoError(t, err)
	require.Contains(t, cleared, orphan)
}

func TestBuildRepairReport_WriteCSV(t *testing.T) {
	synth, accessor, parser := newFixture(t, fat.Variant16)
	synth.SetFATEntry(1, 5, 999)

	detector := repair.NewDetector(accessor)
	idx, err := fat.NewIndexer(accessor, parser).Build()
	require.NoError(t, err)

	report, err := detector.Run(idx)
	require.NoError(t, err)
	require.True(t, report.HasMirrorDivergence())

	rows := repair.BuildRepairReport(report)
	require.NotEmpty(t, rows.Rows)
	require.Equal(t, "mirror_divergence", rows.Rows[0].Kind)

	var buf stringWriter
	require.NoError(t, repair.WriteReportCSV(&buf, rows))
	require.Contains(t, buf.String(), "mirror_divergence")
}

type stringWriter struct {
	data []byte
}

func (w *stringWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *stringWriter) String() string {
	return string(w.data)
}
