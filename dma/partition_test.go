package dma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCarve(t *testing.T) {
	// 4 MiB in two chunks, like two locked hugepages
	list := Simulated(4*1024*1024, 2*1024*1024, 0x10000000)

	p, err := Carve(list, TableBytes, RingCapacity)
	require.NoError(t, err)

	// Table reservation is rounded up to a whole page
	assert.Equal(t, uint64(0), p.Table.UserOffset)
	assert.Equal(t, uint64(0x10000000), p.Table.Bus)

	wantPages := 4*1024*1024/PageSize - 1
	assert.Len(t, p.Pages, wantPages)
	assert.Equal(t, uint64(PageSize), p.Pages[0].UserOffset)

	for _, pg := range p.Pages {
		assert.Zero(t, pg.Bus%Alignment)
		assert.Equal(t, pg.Bus-0x10000000, pg.UserOffset)
	}
}

func TestCarveDeterministic(t *testing.T) {
	list := Simulated(4*1024*1024, 1024*1024, 0x2000)

	a, err := Carve(list, TableBytes, RingCapacity)
	require.NoError(t, err)
	b, err := Carve(list, TableBytes, RingCapacity)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCarveInsufficientPages(t *testing.T) {
	// Ring capacity plus the table needs more than 129 pages; 1 MiB has 128
	list := Simulated(1024*1024, 1024*1024, 0)
	_, err := Carve(list, TableBytes, RingCapacity)
	assert.ErrorIs(t, err, ErrInsufficientPages)

	// One page over the minimum is accepted
	list = Simulated(uint64((RingCapacity+2)*PageSize), 64*1024*1024, 0)
	p, err := Carve(list, TableBytes, RingCapacity)
	require.NoError(t, err)
	assert.Len(t, p.Pages, RingCapacity+1)
}

func TestCarveRejectsMisalignedPages(t *testing.T) {
	// A chunk whose bus addresses are offset by 16 bytes: no page in it is
	// 32-byte aligned, so only the first chunk contributes
	list := ScatterGatherList{
		{UserOffset: 0, BusAddr: 0, Length: uint64((RingCapacity + 5) * PageSize)},
		{UserOffset: uint64((RingCapacity + 5) * PageSize), BusAddr: 0x90000010, Length: 4 * PageSize},
	}

	p, err := Carve(list, TableBytes, RingCapacity)
	require.NoError(t, err)
	assert.Len(t, p.Pages, RingCapacity+4)

	_, err = Carve(ScatterGatherList{{UserOffset: 0, BusAddr: 0x8, Length: 64 * 1024 * 1024}}, TableBytes, RingCapacity)
	assert.ErrorIs(t, err, ErrMisalignedAddress)
}

func TestCarveSkipsChunkStraddlers(t *testing.T) {
	// Chunks that are not a whole number of pages long: the tail of each
	// chunk cannot hold a full page and is dropped
	list := ScatterGatherList{
		{UserOffset: 0, BusAddr: 0, Length: uint64((RingCapacity+2)*PageSize + 100)},
		{UserOffset: uint64((RingCapacity+2)*PageSize + 100), BusAddr: 0x40000000, Length: PageSize + 100},
	}

	p, err := Carve(list, TableBytes, RingCapacity)
	require.NoError(t, err)
	assert.Len(t, p.Pages, RingCapacity+2)
}

func TestResolveBus(t *testing.T) {
	list := Simulated(4*PageSize, 2*PageSize, 0x1000)

	off, ok := list.ResolveBus(0x1000+PageSize, PageSize)
	assert.True(t, ok)
	assert.Equal(t, uint64(PageSize), off)

	// Straddles the chunk boundary
	_, ok = list.ResolveBus(0x1000+PageSize+16, PageSize)
	assert.False(t, ok)

	_, ok = list.ResolveBus(0xdead0000, 4)
	assert.False(t, ok)
}
