package mediatable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkirienko/fatdefrag/mediatable"
)

func TestDescribe_KnownByte(t *testing.T) {
	require.Equal(t, "fixed disk", mediatable.Describe(0xF8))
}

func TestDescribe_UnknownByte(t *testing.T) {
	require.Equal(t, "unknown media type", mediatable.Describe(0x00))
}
