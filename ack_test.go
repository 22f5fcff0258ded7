package readout

import (
	"bytes"
	"testing"
	"time"

	"github.com/daqline/readout/hwio"
	"github.com/stretchr/testify/assert"
)

type regWrite struct {
	index uint32
	value uint32
}

// fakeBar is a plain register file with a write log.
type fakeBar struct {
	regs   map[uint32]uint32
	writes []regWrite
}

func newFakeBar() *fakeBar {
	return &fakeBar{regs: make(map[uint32]uint32)}
}

func (b *fakeBar) ReadRegister(index uint32) uint32 {
	return b.regs[index]
}

func (b *fakeBar) WriteRegister(index uint32, v uint32) {
	b.regs[index] = v
	b.writes = append(b.writes, regWrite{index: index, value: v})
}

func (b *fakeBar) writesTo(index uint32) []uint32 {
	var vals []uint32
	for _, w := range b.writes {
		if w.index == index {
			vals = append(vals, w.value)
		}
	}
	return vals
}

func TestAckerPerPage(t *testing.T) {
	bar := newFakeBar()
	a := NewAcker(bar, false, false, nil)
	a.Start(time.Now())

	for i := int64(1); i <= 5; i++ {
		a.PageRead(i)
	}
	assert.Equal(t, []uint32{1, 1, 1, 1, 1}, bar.writesTo(hwio.RegAcknowledge))
}

func TestAckerLegacyBatches(t *testing.T) {
	bar := newFakeBar()
	a := NewAcker(bar, true, false, nil)
	a.Start(time.Now())

	for i := int64(1); i <= 8; i++ {
		a.PageRead(i)
	}

	// Only every fourth page sends the signal, and each signal frees the
	// full consumed group: total credits equal pages read.
	assert.Equal(t, []uint32{4, 4}, bar.writesTo(hwio.RegAcknowledge))
}

func TestAckerCumulativeIdle(t *testing.T) {
	bar := newFakeBar()
	bar.regs[hwio.RegIdleCounter] = 5

	a := NewAcker(bar, false, true, nil)
	a.Start(time.Now())

	a.PageRead(1)
	a.PageRead(2)
	assert.Equal(t, uint64(10), a.CumulativeIdle())
}

func TestAckerIdleLog(t *testing.T) {
	bar := newFakeBar()
	bar.regs[hwio.RegIdleCounter] = 7

	log := &bytes.Buffer{}
	a := NewAcker(bar, false, false, log)
	a.Start(time.Now())

	a.PageRead(1)
	assert.Regexp(t, `^\d+ 7\n$`, log.String())
}
