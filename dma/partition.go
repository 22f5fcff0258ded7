package dma

import (
	"errors"
	"fmt"
)

const (
	// PageSize is the fixed DMA page length in bytes.
	PageSize = 8 * 1024

	// PageWords is the page length in 32-bit words.
	PageWords = PageSize / 4

	// Alignment is the card's DMA address alignment requirement.
	Alignment = 32
)

var (
	// ErrInsufficientPages means the buffer cannot hold enough pages to
	// keep the ring ahead of hardware reuse.
	ErrInsufficientPages = errors.New("insufficient amount of pages fit in DMA buffer")

	// ErrMisalignedAddress means a bus address violates Alignment.
	ErrMisalignedAddress = errors.New("bus address is not DMA aligned")
)

// PageAddress locates one page (or the table) in both address spaces.
type PageAddress struct {
	UserOffset uint64
	Bus        uint64
}

// Partition is the result of carving the locked buffer.
type Partition struct {
	Table PageAddress
	Pages []PageAddress
}

// Carve splits the scatter-gather list into a reserved table region
// followed by as many aligned pages as fit. The table reservation is
// rounded up to whole pages and must land on an aligned bus address. A
// candidate page is dropped when it spills over its chunk boundary or its
// bus address is misaligned. minPages is the lowest acceptable page count,
// exclusive: the ring needs more pages than slots to stay ahead of reuse.
//
// Carve touches no hardware and is deterministic for a given list.
func Carve(list ScatterGatherList, tableSize uint64, minPages int) (Partition, error) {
	tableSize = (tableSize/PageSize + 1) * PageSize

	var p Partition
	haveTable := false

	for _, n := range list {
		off := uint64(0)

		if !haveTable {
			if n.Length < tableSize {
				continue
			}
			if n.BusAddr%Alignment != 0 {
				return Partition{}, fmt.Errorf("table at bus 0x%x: %w", n.BusAddr, ErrMisalignedAddress)
			}
			p.Table = PageAddress{UserOffset: n.UserOffset, Bus: n.BusAddr}
			haveTable = true
			off = tableSize
		}

		for off+PageSize <= n.Length {
			bus := n.BusAddr + off
			if bus%Alignment == 0 {
				p.Pages = append(p.Pages, PageAddress{
					UserOffset: n.UserOffset + off,
					Bus:        bus,
				})
			}
			off += PageSize
		}
	}

	if !haveTable || len(p.Pages) <= minPages {
		return Partition{}, ErrInsufficientPages
	}

	return p, nil
}
