// Package dma carves the locked DMA buffer into the descriptor/status
// table and the page pool, and owns the layout of both.
package dma

// Node is one physically contiguous chunk of the locked buffer as reported
// by the buffer-locking subsystem: an offset into the user mapping, the
// matching bus address and the chunk length in bytes.
type Node struct {
	UserOffset uint64
	BusAddr    uint64
	Length     uint64
}

// ScatterGatherList describes the full locked buffer. Chunks appear in
// user-mapping order; the bus addresses need not be contiguous between
// chunks.
type ScatterGatherList []Node

// ResolveBus maps a bus address range back to its user-mapping offset.
// The range must fall entirely inside a single chunk.
func (l ScatterGatherList) ResolveBus(bus, length uint64) (uint64, bool) {
	for _, n := range l {
		if bus >= n.BusAddr && bus+length <= n.BusAddr+n.Length {
			return n.UserOffset + (bus - n.BusAddr), true
		}
	}
	return 0, false
}

// Simulated builds the scatter-gather list the locking subsystem would
// report for an in-process buffer: chunkSize-long nodes covering [0, size)
// with bus addresses at busBase. Used when driving the emulated card.
func Simulated(size, chunkSize, busBase uint64) ScatterGatherList {
	var l ScatterGatherList
	for off := uint64(0); off < size; off += chunkSize {
		n := chunkSize
		if off+n > size {
			n = size - off
		}
		l = append(l, Node{UserOffset: off, BusAddr: busBase + off, Length: n})
	}
	return l
}
