package fat_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkirienko/fatdefrag/fattesting"
	"github.com/mkirienko/fatdefrag/file_systems/fat"
)

func TestSwapper_Swap_SingleClusterFile(t *testing.T) {
	synth, accessor, parser := newParser(t, fat.Variant16)

	oldCluster, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{oldCluster}, [][]byte{[]byte("payload")})
	root := synth.RootDirectoryDataOffset()
	synth.WriteShortEntry(root, 0, "A       TXT", 0, oldCluster)

	newCluster, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	// target cluster must exist in the FAT as free/EOC before swapping into it
	require.NoError(t, accessor.WriteClusterValueAllFATs(accessor.Geometry.EndOfChainValue, newCluster))

	indexer := fat.NewIndexer(accessor, parser)
	idx, err := indexer.Build()
	require.NoError(t, err)

	swapper := fat.NewSwapper(accessor, parser, idx.Correct)
	require.NoError(t, swapper.Swap(oldCluster, newCluster))

	listing, err := parser.ReadRootDirectory()
	require.NoError(t, err)
	require.Len(t, listing.Entries, 1)
	require.Equal(t, newCluster, listing.Entries[0].FirstCluster)

	data, err := accessor.ReadClusterData(newCluster)
	require.NoError(t, err)
	require.Equal(t, byte('p'), data[0])

	value, err := accessor.ClusterValue(newCluster)
	require.NoError(t, err)
	require.True(t, accessor.IsEndOfChain(value))
}

func TestSwapper_Swap_MultiClusterChain(t *testing.T) {
	synth, accessor, parser := newParser(t, fat.Variant16)

	c1, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{c1}, [][]byte{[]byte("first")})
	c2, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{c2}, [][]byte{[]byte("second")})
	require.NoError(t, accessor.WriteClusterValueAllFATs(uint32(c2), c1))

	root := synth.RootDirectoryDataOffset()
	synth.WriteShortEntry(root, 0, "CHAIN   TXT", 0, c1)

	target, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	require.NoError(t, accessor.WriteClusterValueAllFATs(accessor.Geometry.EndOfChainValue, target))

	indexer := fat.NewIndexer(accessor, parser)
	idx, err := indexer.Build()
	require.NoError(t, err)

	swapper := fat.NewSwapper(accessor, parser, idx.Correct)
	require.NoError(t, swapper.Swap(c2, target))

	value, err := accessor.ClusterValue(c1)
	require.NoError(t, err)
	require.EqualValues(t, target, value, "c1 should now point forward at target")

	data, err := accessor.ReadClusterData(target)
	require.NoError(t, err)
	require.Equal(t, byte('s'), data[0])
}

func TestSwapper_Swap_NoOpWhenEqual(t *testing.T) {
	synth, accessor, parser := newParser(t, fat.Variant16)

	c1, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{c1}, [][]byte{[]byte("x")})
	synth.WriteShortEntry(synth.RootDirectoryDataOffset(), 0, "A       TXT", 0, c1)

	indexer := fat.NewIndexer(accessor, parser)
	idx, err := indexer.Build()
	require.NoError(t, err)

	swapper := fat.NewSwapper(accessor, parser, idx.Correct)
	require.NoError(t, swapper.Swap(c1, c1))

	value, err := accessor.ClusterValue(c1)
	require.NoError(t, err)
	require.True(t, accessor.IsEndOfChain(value))
}

func TestSwapper_Swap_MovesDirectoryUpdatesChildOffsets(t *testing.T) {
	synth, accessor, parser := newParser(t, fat.Variant32)

	subdirCluster, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{subdirCluster}, nil)
	synth.WriteShortEntry(synth.RootDirectoryDataOffset(), 0, "SUBDIR     ", fat.AttrDirectory, subdirCluster)

	childCluster, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{childCluster}, [][]byte{[]byte("child")})
	subdirOffset := synth.ClusterDataOffset(subdirCluster)
	synth.WriteShortEntry(subdirOffset, 0, ".          ", fat.AttrDirectory, subdirCluster)
	synth.WriteShortEntry(subdirOffset, 1, "..         ", fat.AttrDirectory, synth.RootCluster)
	synth.WriteShortEntry(subdirOffset, 2, "CHILD   TXT", 0, childCluster)

	target, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	require.NoError(t, accessor.WriteClusterValueAllFATs(accessor.Geometry.EndOfChainValue, target))

	indexer := fat.NewIndexer(accessor, parser)
	idx, err := indexer.Build()
	require.NoError(t, err)

	swapper := fat.NewSwapper(accessor, parser, idx.Correct)
	require.NoError(t, swapper.Swap(subdirCluster, target))

	childOwner, ok := idx.Correct[childCluster]
	require.True(t, ok)
	require.Equal(t, synth.ClusterDataOffset(target)+2*fat.DirentSize, childOwner.Entry.EntryOffset)
}
