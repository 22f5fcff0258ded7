//go:build unix

package dma

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readout-dma-pages")

	m, err := NewMappedFile(path, 2*PageSize)
	require.NoError(t, err)

	assert.Equal(t, int64(2*PageSize), m.Size())
	assert.Equal(t, path, m.Path())

	m.Bytes()[0] = 0xAB
	require.NoError(t, m.Close())

	// Not asked to remove: the backing file survives
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), b[0])
}

func TestMappedFileRemoveOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readout-dma-pages")

	m, err := NewMappedFile(path, PageSize)
	require.NoError(t, err)

	m.RemoveOnClose(true)
	require.NoError(t, m.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
