package fat_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkirienko/fatdefrag/fattesting"
	"github.com/mkirienko/fatdefrag/file_systems/fat"
)

func newAccessor(t *testing.T, variant fat.Variant) (*fattesting.Image, *fat.Accessor) {
	t.Helper()
	synth := fattesting.New(t, fattesting.DefaultConfig(variant))
	geometry, err := fat.ParseGeometry(synth.Image())
	require.NoError(t, err)
	return synth, fat.NewAccessor(synth.Image(), geometry)
}

func TestAccessor_ClusterValueRoundTrip(t *testing.T) {
	_, accessor := newAccessor(t, fat.Variant16)

	require.NoError(t, accessor.WriteClusterValueAllFATs(42, 5))

	value, err := accessor.ClusterValue(5)
	require.NoError(t, err)
	require.EqualValues(t, 42, value)
}

func TestAccessor_WriteClusterValueAllFATs_SynchronizesMirrors(t *testing.T) {
	synth, accessor := newAccessor(t, fat.Variant16)

	require.NoError(t, accessor.WriteClusterValueAllFATs(99, 5))

	v0, err := accessor.ClusterValueInFAT(5, 0)
	require.NoError(t, err)
	v1, err := accessor.ClusterValueInFAT(5, 1)
	require.NoError(t, err)
	require.Equal(t, v0, v1)

	synth.SetFATEntry(1, 5, 100)
	v1, err = accessor.ClusterValueInFAT(5, 1)
	require.NoError(t, err)
	require.NotEqual(t, v0, v1)
}

func TestAccessor_IsEndOfChainAndBadCluster(t *testing.T) {
	_, accessor := newAccessor(t, fat.Variant16)

	require.True(t, accessor.IsEndOfChain(0xFFFF))
	require.True(t, accessor.IsEndOfChain(0xFFF8))
	require.False(t, accessor.IsEndOfChain(0xFFF6))
	require.True(t, accessor.IsBadCluster(0xFFF7))
	require.False(t, accessor.IsBadCluster(0xFFF8))
}

func TestAccessor_ClassifyEntry(t *testing.T) {
	_, accessor := newAccessor(t, fat.Variant16)

	require.Equal(t, fat.ClusterBad, accessor.ClassifyEntry(0xFFF7))
	require.Equal(t, fat.ClusterEndOfChain, accessor.ClassifyEntry(0xFFFF))
	require.Equal(t, fat.ClusterLive, accessor.ClassifyEntry(5))
}

func TestAccessor_ClusterDataRoundTrip(t *testing.T) {
	_, accessor := newAccessor(t, fat.Variant16)

	payload := make([]byte, accessor.Geometry.BytesPerCluster)
	copy(payload, []byte("hello cluster"))

	require.NoError(t, accessor.WriteClusterData(5, payload))

	data, err := accessor.ReadClusterData(5)
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestAccessor_OutOfRangeCluster(t *testing.T) {
	_, accessor := newAccessor(t, fat.Variant16)

	_, err := accessor.ClusterValue(fat.ClusterID(accessor.Geometry.TotalClusters) + 1000)
	require.Error(t, err)
}

func TestAccessor_InvalidFATIndex(t *testing.T) {
	_, accessor := newAccessor(t, fat.Variant16)

	_, err := accessor.ClusterValueInFAT(5, 99)
	require.Error(t, err)
}
