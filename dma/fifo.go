package dma

import (
	"fmt"

	"github.com/daqline/readout/hwio"
)

const (
	// NumBuffers is the size of the card's internal buffer pool. The DMA
	// engine addresses it cyclically.
	NumBuffers = 32

	// FifoEntries is the ring depth per internal buffer.
	FifoEntries = 4

	// RingCapacity is the descriptor table slot count.
	RingCapacity = FifoEntries * NumBuffers

	// One descriptor is 8 words: source lo/hi, destination lo/hi, control,
	// three reserved.
	descriptorWords = 8

	descSrcLow  = 0
	descSrcHigh = 1
	descDstLow  = 2
	descDstHigh = 3
	descControl = 4

	statusBase = RingCapacity * descriptorWords

	// TableBytes is the hardware-visible table footprint: the descriptor
	// array followed by one status word per slot.
	TableBytes = (statusBase + RingCapacity) * 4
)

// FifoTable is the hardware-visible descriptor/status table. Software
// writes descriptors and clears status entries; the card reads descriptors
// and sets status entries. It lives inside device-shared memory, so all
// access goes through an hwio.Region.
type FifoTable struct {
	r *hwio.Region
}

// NewFifoTable places the table at the start of r.
func NewFifoTable(r *hwio.Region) (*FifoTable, error) {
	if r.Size() < TableBytes {
		return nil, fmt.Errorf("fifo table needs %d bytes, region has %d", TableBytes, r.Size())
	}
	return &FifoTable{r: r}, nil
}

// SetDescriptor binds ring slot i: srcBus is the card-internal source
// address, dstBus the bus address of the destination page, lenWords the
// transfer length. The store of the control word is last so the card never
// sees a half-written descriptor.
func (t *FifoTable) SetDescriptor(i, lenWords int, srcBus, dstBus uint64) {
	base := i * descriptorWords
	t.r.SetWord(base+descSrcLow, uint32(srcBus))
	t.r.SetWord(base+descSrcHigh, uint32(srcBus>>32))
	t.r.SetWord(base+descDstLow, uint32(dstBus))
	t.r.SetWord(base+descDstHigh, uint32(dstBus>>32))
	t.r.SetWord(base+descControl, uint32(lenWords))
}

// ResetStatusEntries marks the whole ring not-arrived. Done once before
// arming the card.
func (t *FifoTable) ResetStatusEntries() {
	for i := 0; i < RingCapacity; i++ {
		t.Clear(i)
	}
}

// IsArrived reports whether the card has flagged slot i.
func (t *FifoTable) IsArrived(i int) bool {
	return t.r.Word(statusBase+i)&0x1 != 0
}

// Clear resets the status entry for slot i. Must happen strictly after the
// page content has been consumed and before the slot is pushed again.
func (t *FifoTable) Clear(i int) {
	t.r.SetWord(statusBase+i, 0)
}

// Capacity returns the ring slot count.
func (t *FifoTable) Capacity() int {
	return RingCapacity
}

// Descriptor returns the destination bus address and transfer length of
// slot i. This is the card-side read.
func (t *FifoTable) Descriptor(i int) (uint64, int) {
	base := i * descriptorWords
	dst := uint64(t.r.Word(base+descDstLow)) | uint64(t.r.Word(base+descDstHigh))<<32
	return dst, int(t.r.Word(base + descControl))
}

// Arrived is the card-side alias of IsArrived.
func (t *FifoTable) Arrived(i int) bool {
	return t.IsArrived(i)
}

// MarkArrived sets the status entry for slot i. This is the card-side
// write; software never calls it.
func (t *FifoTable) MarkArrived(i int) {
	t.r.SetWord(statusBase+i, 0x1)
}
