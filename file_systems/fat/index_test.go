package fat_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkirienko/fatdefrag/fattesting"
	"github.com/mkirienko/fatdefrag/file_systems/fat"
)

func newIndexer(t *testing.T, variant fat.Variant) (*fattesting.Image, *fat.Accessor, *fat.Parser, *fat.Indexer) {
	t.Helper()
	synth, accessor, parser := newParser(t, variant)
	return synth, accessor, parser, fat.NewIndexer(accessor, parser)
}

func TestIndexer_Build_SimpleFile(t *testing.T) {
	synth, _, _, indexer := newIndexer(t, fat.Variant16)

	fileCluster, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{fileCluster}, [][]byte{[]byte("hi")})
	synth.WriteShortEntry(synth.RootDirectoryDataOffset(), 0, "A       TXT", 0, fileCluster)

	idx, err := indexer.Build()
	require.NoError(t, err)

	owner, ok := idx.Correct[fileCluster]
	require.True(t, ok)
	require.Equal(t, "A       TXT", owner.Entry.Name)
	require.False(t, owner.IsDirectory)
	require.False(t, owner.HasPrevious)
}

func TestIndexer_Build_NestedDirectory(t *testing.T) {
	synth, _, _, indexer := newIndexer(t, fat.Variant32)

	subdirCluster, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{subdirCluster}, nil)
	synth.WriteShortEntry(synth.RootDirectoryDataOffset(), 0, "SUBDIR     ", fat.AttrDirectory, subdirCluster)

	nestedFileCluster, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{nestedFileCluster}, [][]byte{[]byte("nested")})

	subdirOffset := synth.ClusterDataOffset(subdirCluster)
	synth.WriteShortEntry(subdirOffset, 0, ".          ", fat.AttrDirectory, subdirCluster)
	synth.WriteShortEntry(subdirOffset, 1, "..         ", fat.AttrDirectory, synth.RootCluster)
	synth.WriteShortEntry(subdirOffset, 2, "NESTED  TXT", 0, nestedFileCluster)

	idx, err := indexer.Build()
	require.NoError(t, err)

	rootOwner, ok := idx.Correct[synth.RootCluster]
	require.True(t, ok)
	require.Equal(t, fat.RootPseudoName, rootOwner.Entry.Name)
	require.True(t, rootOwner.IsDirectory)

	subdirOwner, ok := idx.Correct[subdirCluster]
	require.True(t, ok)
	require.Equal(t, "SUBDIR     ", subdirOwner.Entry.Name)
	require.True(t, subdirOwner.IsDirectory)

	nestedOwner, ok := idx.Correct[nestedFileCluster]
	require.True(t, ok)
	require.Equal(t, "NESTED  TXT", nestedOwner.Entry.Name)
	require.False(t, nestedOwner.IsDirectory)
}

func TestIndexer_Build_DetectsLoop(t *testing.T) {
	synth, accessor, _, indexer := newIndexer(t, fat.Variant16)

	c1, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{c1}, [][]byte{[]byte("a")})
	synth.WriteShortEntry(synth.RootDirectoryDataOffset(), 0, "LOOP    TXT", 0, c1)

	// Make the file's only cluster point back at itself instead of EOC.
	require.NoError(t, accessor.WriteClusterValueAllFATs(uint32(c1), c1))

	idx, err := indexer.Build()
	require.NoError(t, err)

	owners := idx.Full[c1]
	require.Len(t, owners, 2, "the looped cluster should be recorded twice for the same entry")
}

func TestIndexer_Build_DetectsIntersection(t *testing.T) {
	synth, _, _, indexer := newIndexer(t, fat.Variant16)

	shared, ok := synth.FirstFreeCluster()
	require.True(t, ok)
	synth.AllocateChain([]fat.ClusterID{shared}, [][]byte{[]byte("shared")})

	root := synth.RootDirectoryDataOffset()
	synth.WriteShortEntry(root, 0, "A       TXT", 0, shared)
	synth.WriteShortEntry(root, 1, "B       TXT", 0, shared)

	idx, err := indexer.Build()
	require.NoError(t, err)

	owners := idx.Full[shared]
	require.Len(t, owners, 2)
	require.NotEqual(t, owners[0].Entry.Name, owners[1].Entry.Name)
}
