package repair_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkirienko/fatdefrag/fattesting"
	"github.com/mkirienko/fatdefrag/file_systems/fat"
	"github.com/mkirienko/fatdefrag/repair"
)

func newFixture(t *testing.T, variant fat.Variant) (*fattesting.Image, *fat.Accessor, *fat.Parser) {
	t.Helper()
	synth := fattesting.New(t, fattesting.DefaultConfig(variant))
	geometry, err := fat.ParseGeometry(synth.Image())
	require.NoError(t, err)
	accessor := fat.NewAccessor(synth.Image(), geometry)
	parser := fat.NewParser(accessor, synth.Image())
	return synth, accessor, parser
}

func TestDetector_CheckMirrorDivergence_Clean(t *testing.T) {
	_, accessor, _ := newFixture(t, fat.Variant16)
	detector := repair.NewDetector(accessor)

	divergent, err := detector.CheckMirrorDivergence()
	require.NoError(t, err)
	require.Empty(t, divergent)
}

func TestDetector_CheckMirrorDivergence_Detects(t *testing.T) {
	synth, accessor, _ := newFixture(t, fat.Variant16)
	detector := repair.NewDetector(accessor)

	synth.SetFATEntry(1, 5, 999)

	divergent, err := detector.CheckMirrorDivergence()
	require.NoError(t, err)
	require.Contains(t, divergent, fat.ClusterID(5))
}

func TestDetector_AnalyzeIndex_DetectsIntersection(t *testing.T) {
	synth, accessor, parser := newFixture(t, fat.Variant16)

	shared, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{shared}, nil)
	root := synth.RootDirectoryDataOffset()
	synth.WriteShortEntry(root, 0, "A       TXT", 0, shared)
	synth.WriteShortEntry(root, 1, "B       TXT", 0, shared)

	idx, err := fat.NewIndexer(accessor, parser).Build()
	require.NoError(t, err)

	detector := repair.NewDetector(accessor)
	looped, intersections := detector.AnalyzeIndex(idx)
	require.Empty(t, looped)
	require.Len(t, intersections, 1)
	require.Len(t, intersections[0], 2)
}

func TestDetector_FindOrphanClusters(t *testing.T) {
	synth, accessor, parser := newFixture(t, fat.Variant16)

	owned, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{owned}, nil)
	synth.WriteShortEntry(synth.RootDirectoryDataOffset(), 0, "A       TXT", 0, owned)

	orphan, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	require.NoError(t, accessor.WriteClusterValueAllFATs(accessor.Geometry.EndOfChainValue, orphan))

	idx, err := fat.NewIndexer(accessor, parser).Build()
	require.NoError(t, err)

	detector := repair.NewDetector(accessor)
	orphans, err := detector.FindOrphanClusters(idx)
	require.NoError(t, err)
	require.Contains(t, orphans, orphan)
	require.NotContains(t, orphans, owned)
}

func TestDetector_Run_FullReport(t *testing.T) {
	synth, accessor, parser := newFixture(t, fat.Variant16)

	owned, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{owned}, nil)
	synth.WriteShortEntry(synth.RootDirectoryDataOffset(), 0, "A       TXT", 0, owned)

	idx, err := fat.NewIndexer(accessor, parser).Build()
	require.NoError(t, err)

	detector := repair.NewDetector(accessor)
	report, err := detector.Run(idx)
	require.NoError(t, err)
	require.False(t, report.HasMirrorDivergence())
	require.False(t, report.HasLoopedFiles())
	require.False(t, report.HasIntersectingFiles())
	require.Nil(t, report.Errors())
}
