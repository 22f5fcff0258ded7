package hwio

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Region is a window onto memory that the card reads and writes behind the
// CPU's back. All access goes through 32-bit atomic loads and stores so the
// compiler can neither cache nor reorder them; holding a plain []uint32 into
// device-shared memory is never safe.
type Region struct {
	b     []byte
	words []uint32
}

// NewRegion wraps b, which must be 4-byte aligned and a whole number of
// 32-bit words long. The region aliases b, it does not copy.
func NewRegion(b []byte) (*Region, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty region")
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("region length %d is not a multiple of 4", len(b))
	}
	if uintptr(unsafe.Pointer(&b[0]))%4 != 0 {
		return nil, fmt.Errorf("region base address is not 4-byte aligned")
	}

	return &Region{
		b:     b,
		words: unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4),
	}, nil
}

// Word returns the 32-bit word at index i.
func (r *Region) Word(i int) uint32 {
	return atomic.LoadUint32(&r.words[i])
}

// SetWord stores v at word index i.
func (r *Region) SetWord(i int, v uint32) {
	atomic.StoreUint32(&r.words[i], v)
}

// Words returns the length of the region in 32-bit words.
func (r *Region) Words() int {
	return len(r.words)
}

// Size returns the length of the region in bytes.
func (r *Region) Size() int {
	return len(r.b)
}

// Slice returns a sub-region of n bytes starting at byte offset off.
func (r *Region) Slice(off, n uint64) (*Region, error) {
	if off+n > uint64(len(r.b)) {
		return nil, fmt.Errorf("slice [%d:%d] outside region of %d bytes", off, off+n, len(r.b))
	}
	return NewRegion(r.b[off : off+n])
}

// Fill stores v into every word of the region.
func (r *Region) Fill(v uint32) {
	for i := range r.words {
		atomic.StoreUint32(&r.words[i], v)
	}
}

// ReadWords copies len(dst) words starting at word index off into dst. This
// is the only way to get page content out of device-shared memory into
// normal Go memory.
func (r *Region) ReadWords(off int, dst []uint32) {
	for i := range dst {
		dst[i] = atomic.LoadUint32(&r.words[off+i])
	}
}
