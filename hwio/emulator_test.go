package hwio

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTable is a 4-slot ring over the first pages of a region, every slot
// bound to its own page.
type stubTable struct {
	r        *Region
	words    int
	arrived  [4]atomic.Bool
	capacity int
}

func newStubTable(r *Region, pageWords int) *stubTable {
	return &stubTable{r: r, words: pageWords, capacity: 4}
}

func (s *stubTable) Capacity() int { return s.capacity }

func (s *stubTable) Descriptor(i int) (uint64, int) {
	return uint64(i * s.words * 4), s.words
}

func (s *stubTable) Arrived(i int) bool { return s.arrived[i].Load() }
func (s *stubTable) MarkArrived(i int)  { s.arrived[i].Store(true) }
func (s *stubTable) clear(i int)        { s.arrived[i].Store(false) }

func newTestEmulator(t *testing.T) (*CardEmulator, *stubTable, *Region) {
	const pageWords = 64

	r, err := NewRegion(make([]byte, 4*pageWords*4))
	require.NoError(t, err)

	table := newStubTable(r, pageWords)
	resolve := func(bus uint64) (int, bool) {
		if bus%4 != 0 || bus >= uint64(r.Size()) {
			return 0, false
		}
		return int(bus / 4), true
	}

	l := logrus.New()
	e := NewCardEmulator(l, table, r, resolve, 2, 8)
	return e, table, r
}

func TestEmulatorRegisterFile(t *testing.T) {
	e, _, _ := newTestEmulator(t)
	a := CardAccessor{Bar: e}

	e.WriteRegister(RegDebugReadWrite, 0xab)
	assert.Equal(t, uint32(0xab), e.ReadRegister(RegDebugReadWrite))

	temp, ok := a.Temperature()
	assert.True(t, ok)
	assert.InDelta(t, 45.0, temp, 1.0)

	e.SetTemperatureRaw(0)
	_, ok = a.Temperature()
	assert.False(t, ok)

	assert.NotZero(t, a.FirmwareCompileInfo())
}

func TestEmulatorProducesWithCredit(t *testing.T) {
	e, table, r := newTestEmulator(t)
	a := CardAccessor{Bar: e}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	// Not armed yet: nothing may arrive
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, e.Produced())

	a.SetDataEmulatorEnabled(true)

	// Two internal buffers means exactly two pages before an ack
	waitFor(t, func() bool { return e.Produced() == 2 })
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, uint64(2), e.Produced())
	assert.True(t, table.Arrived(0))
	assert.True(t, table.Arrived(1))
	assert.False(t, table.Arrived(2))

	// Incremental pattern: page 0 counts from 0, page 1 continues at 8
	assert.Equal(t, uint32(0), r.Word(0))
	assert.Equal(t, uint32(1), r.Word(8))
	assert.Equal(t, uint32(8), r.Word(64))

	// Consuming page 0 releases a credit and slot 2 fills
	table.clear(0)
	a.SendAcknowledge(1)
	waitFor(t, func() bool { return table.Arrived(2) })

	// The engine idled while starved; the counters saw it
	assert.NotZero(t, a.IdleCounterLower())
}

func TestEmulatorPause(t *testing.T) {
	e, _, _ := newTestEmulator(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	e.WriteRegister(RegDataEmulatorControl, EmulatorRun)
	waitFor(t, func() bool { return e.Produced() > 0 })

	// Clearing the run bit pauses production in place
	e.WriteRegister(RegDataEmulatorControl, EmulatorEnabled)
	time.Sleep(5 * time.Millisecond)
	n := e.Produced()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, e.Produced())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
