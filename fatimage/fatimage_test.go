package fatimage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkirienko/fatdefrag/fatimage"
	"github.com/mkirienko/fatdefrag/fattesting"
	"github.com/mkirienko/fatdefrag/file_systems/fat"
)

func writeTempImage(t *testing.T, variant fat.Variant, mutate func(*fattesting.Image)) string {
	t.Helper()
	synth := fattesting.New(t, fattesting.DefaultConfig(variant))
	if mutate != nil {
		mutate(synth)
	}

	path := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(path, synth.Bytes(), 0o600))
	return path
}

func TestOpen_CleanImage(t *testing.T) {
	path := writeTempImage(t, fat.Variant16, nil)

	fs, err := fatimage.Open(path, zap.NewNop())
	require.NoError(t, err)
	defer fs.Close()

	require.Equal(t, fat.Variant16, fs.Geometry.Variant)
	require.NotNil(t, fs.Index)
	require.False(t, fs.Detection.HasMirrorDivergence())
}

func TestOpen_DivergentMirrorSkipsIndexing(t *testing.T) {
	path := writeTempImage(t, fat.Variant16, func(img *fattesting.Image) {
		img.SetFATEntry(1, 5, 4242)
	})

	fs, err := fatimage.Open(path, zap.NewNop())
	require.NoError(t, err)
	defer fs.Close()

	require.True(t, fs.Detection.HasMirrorDivergence())
	require.Nil(t, fs.Index)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := fatimage.Open(filepath.Join(t.TempDir(), "missing.bin"), zap.NewNop())
	require.Error(t, err)
}
