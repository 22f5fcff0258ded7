//go:build unix

package dma

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MappedFile is the shared backing file for the locked DMA buffer. Keeping
// the buffer file-backed lets an operator inspect a run post-mortem and
// lets the locking subsystem hand the same physical memory to the card.
type MappedFile struct {
	f             *os.File
	b             []byte
	path          string
	removeOnClose bool
}

// NewMappedFile creates (or reuses) the backing file at path, sizes it to
// size bytes and maps it shared. The mapping is locked into memory on a
// best-effort basis; DMA targets must not be paged out.
func NewMappedFile(path string, size int64) (*MappedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open buffer file: %w", err)
	}

	if err = f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("size buffer file: %w", err)
	}

	b, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map buffer file: %w", err)
	}

	// Locking can fail under RLIMIT_MEMLOCK; the run can still proceed
	// against the emulated card.
	_ = unix.Mlock(b)

	return &MappedFile{f: f, b: b, path: path}, nil
}

// Bytes returns the mapped buffer.
func (m *MappedFile) Bytes() []byte {
	return m.b
}

// Size returns the mapping length in bytes.
func (m *MappedFile) Size() int64 {
	return int64(len(m.b))
}

// Path returns the backing file path.
func (m *MappedFile) Path() string {
	return m.path
}

// RemoveOnClose arranges for the backing file to be unlinked by Close.
func (m *MappedFile) RemoveOnClose(remove bool) {
	m.removeOnClose = remove
}

// Close unmaps and closes the backing file, unlinking it if requested.
func (m *MappedFile) Close() error {
	_ = unix.Munlock(m.b)
	err := unix.Munmap(m.b)
	m.b = nil

	if cerr := m.f.Close(); err == nil {
		err = cerr
	}

	if m.removeOnClose {
		if rerr := os.Remove(m.path); err == nil {
			err = rerr
		}
	}
	return err
}
