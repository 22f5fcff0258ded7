package readout

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/daqline/readout/dma"
	"github.com/daqline/readout/hwio"
	"github.com/daqline/readout/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRig wires an Engine to an in-memory buffer and the card emulator,
// the same way Main does against a real mapping.
type testRig struct {
	e    *Engine
	emu  *hwio.CardEmulator
	temp *TemperatureMonitor
	part dma.Partition
	out  *bytes.Buffer

	cancel context.CancelFunc
	emuRun chan struct{}
}

func testOptions(t *testing.T) *Options {
	return &Options{
		MaxPages:        50,
		CheckErrors:     true,
		Pattern:         PatternIncremental,
		ErrorsPath:      t.TempDir() + "/errors.txt",
		DrainTimeout:    time.Second,
		DisplayInterval: time.Hour,
		TempLimit:       80,
		TempInterval:    time.Millisecond,
	}
}

func newTestRig(t *testing.T, o *Options) *testRig {
	l := util.NewTestLogger()

	const size = 4 * 1024 * 1024
	buffer, err := hwio.NewRegion(make([]byte, size))
	require.NoError(t, err)

	sgl := dma.Simulated(size, 2*1024*1024, 0x10000000)
	part, err := dma.Carve(sgl, dma.TableBytes, dma.RingCapacity)
	require.NoError(t, err)

	tableRegion, err := buffer.Slice(part.Table.UserOffset, dma.TableBytes)
	require.NoError(t, err)
	fifo, err := dma.NewFifoTable(tableRegion)
	require.NoError(t, err)

	resolve := func(bus uint64) (int, bool) {
		off, ok := sgl.ResolveBus(bus, dma.PageSize)
		if !ok || off%4 != 0 {
			return 0, false
		}
		return int(off / 4), true
	}
	emu := hwio.NewCardEmulator(l, fifo, buffer, resolve, dma.NumBuffers, patternStride)
	temp := NewTemperatureMonitor(l, emu, o.TempLimit, o.TempInterval)

	out := &bytes.Buffer{}
	e, err := NewEngine(l, o, emu, buffer, part, fifo, temp, out)
	require.NoError(t, err)

	r := &testRig{e: e, emu: emu, temp: temp, part: part, out: out}
	t.Cleanup(func() {
		r.stop()
		require.NoError(t, e.Close())
	})
	return r
}

// start runs the emulator in the background, as Control does.
func (r *testRig) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.emuRun = make(chan struct{})
	go func() {
		r.emu.Run(ctx)
		close(r.emuRun)
	}()
}

func (r *testRig) stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.emuRun
	r.cancel = nil
}

func TestEngineReadsConfiguredPages(t *testing.T) {
	o := testOptions(t)
	// More than one full lap of the ring and the page pool.
	o.MaxPages = 3 * dma.RingCapacity

	r := newTestRig(t, o)
	r.start()

	require.NoError(t, r.e.Run())

	assert.Equal(t, o.MaxPages, r.e.ReadoutCount())
	assert.Equal(t, 0, r.e.QueueLength())
	assert.Equal(t, int64(0), r.e.Errors())
	assert.Equal(t, StopPageLimit, r.e.sup.Reason())
	assert.LessOrEqual(t, r.e.MaxQueueLength(), dma.RingCapacity)

	// The full ring was in flight at some point.
	assert.Equal(t, dma.RingCapacity, r.e.MaxQueueLength())
}

// captureWriter records what the export sink would have written.
type captureWriter struct {
	events []int64
	pages  []int
	firsts []uint32
}

func (c *captureWriter) WritePage(eventNumber int64, pageIndex int, words []uint32) error {
	c.events = append(c.events, eventNumber)
	c.pages = append(c.pages, pageIndex)
	c.firsts = append(c.firsts, words[0])
	return nil
}

func (c *captureWriter) Close() error { return nil }

func TestEngineReadsOutInRingOrder(t *testing.T) {
	o := testOptions(t)
	o.MaxPages = 2*dma.RingCapacity + 7

	r := newTestRig(t, o)
	cw := &captureWriter{}
	r.e.writer = cw
	r.start()

	require.NoError(t, r.e.Run())
	require.Len(t, cw.events, int(o.MaxPages))

	// Pages come back in push order and the generator counter runs
	// through them without a gap, so no page was read early, late or
	// twice.
	for i := range cw.events {
		assert.Equal(t, int64(i), cw.events[i])
		assert.Equal(t, i%len(r.part.Pages), cw.pages[i])
		assert.Equal(t, uint32(i*(dma.PageWords/patternStride)), cw.firsts[i])
	}
}

func TestEngineLegacyAckReadsToLimit(t *testing.T) {
	o := testOptions(t)
	o.LegacyAck = true
	o.MaxPages = 2 * dma.RingCapacity

	r := newTestRig(t, o)
	r.start()

	// Batched acknowledgment must return the same total credit as
	// per-page mode or production stalls once the card's buffer pool is
	// exhausted and the run never reaches its limit.
	require.NoError(t, r.e.Run())

	assert.Equal(t, o.MaxPages, r.e.ReadoutCount())
	assert.Equal(t, 0, r.e.QueueLength())
	assert.Equal(t, int64(0), r.e.Errors())
	assert.Equal(t, StopPageLimit, r.e.sup.Reason())
}

func TestEngineDrainsOnInterrupt(t *testing.T) {
	o := testOptions(t)
	o.MaxPages = 0 // run until interrupted

	r := newTestRig(t, o)
	r.start()

	done := make(chan error)
	go func() { done <- r.e.Run() }()

	time.Sleep(50 * time.Millisecond)
	r.e.Interrupt()
	require.NoError(t, <-done)

	assert.Equal(t, StopInterrupted, r.e.sup.Reason())
	assert.Equal(t, 0, r.e.QueueLength())
	assert.Greater(t, r.e.ReadoutCount(), int64(0))
	assert.Equal(t, int64(0), r.e.Errors())
}

func TestEngineThermalAbort(t *testing.T) {
	o := testOptions(t)
	o.MaxPages = 0

	r := newTestRig(t, o)
	// Raw ADC value well above the 80 degree limit.
	r.emu.SetTemperatureRaw(800)
	r.start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tempDone := make(chan struct{})
	go func() {
		r.temp.Run(ctx)
		close(tempDone)
	}()

	require.NoError(t, r.e.Run())
	<-tempDone

	assert.Equal(t, StopThermal, r.e.sup.Reason())
	assert.True(t, r.temp.MaxExceeded())

	// The summary is still emitted for an aborted run.
	assert.Contains(t, r.out.String(), "max temperature exceeded")
}

func TestEngineRunWithoutChecking(t *testing.T) {
	o := testOptions(t)
	o.CheckErrors = false
	o.MaxPages = 5

	r := newTestRig(t, o)
	r.start()

	require.NoError(t, r.e.Run())
	assert.Equal(t, int64(5), r.e.ReadoutCount())
	assert.Equal(t, int64(0), r.e.Errors())

	// The summary still made it to the output.
	assert.Contains(t, r.out.String(), "page limit reached")
	assert.Contains(t, r.out.String(), "Pages")
}

func TestEngineRejectsMisalignedTable(t *testing.T) {
	o := testOptions(t)
	l := util.NewTestLogger()

	buffer, err := hwio.NewRegion(make([]byte, 1024*1024))
	require.NoError(t, err)

	part := dma.Partition{Table: dma.PageAddress{Bus: 0x10000004}}
	_, err = NewEngine(l, o, nil, buffer, part, nil, nil, &bytes.Buffer{})
	require.ErrorIs(t, err, dma.ErrMisalignedAddress)
}
