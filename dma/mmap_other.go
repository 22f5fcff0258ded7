//go:build !unix

package dma

import (
	"errors"
	"fmt"
	"os"
)

// ErrUnsupported is returned on platforms without a shared mapping.
var ErrUnsupported = errors.New("shared DMA buffer files require a unix platform")

type MappedFile struct {
	f             *os.File
	b             []byte
	path          string
	removeOnClose bool
}

func NewMappedFile(path string, size int64) (*MappedFile, error) {
	return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
}

func (m *MappedFile) Bytes() []byte             { return m.b }
func (m *MappedFile) Size() int64               { return int64(len(m.b)) }
func (m *MappedFile) Path() string              { return m.path }
func (m *MappedFile) RemoveOnClose(remove bool) { m.removeOnClose = remove }
func (m *MappedFile) Close() error              { return nil }
