package hwio

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DescriptorTable is the card's view of the hardware-visible ring:
// descriptors are read, status entries are written.
type DescriptorTable interface {
	Capacity() int
	Descriptor(i int) (destBus uint64, lenWords int)
	Arrived(i int) bool
	MarkArrived(i int)
}

// CardEmulator stands in for the card: it implements the Bar register file
// and, while armed, walks the descriptor ring in order, DMA-writes
// generator pattern pages to the registered bus addresses and flags their
// status entries. It models the card's internal buffer pool: a page is only
// produced when a free buffer credit exists, and an acknowledge write
// returns one credit. Everything the engine observes through the Bar and
// the ring behaves as it would against silicon.
type CardEmulator struct {
	// Throttle paces page production. Zero runs flat out.
	Throttle time.Duration

	table      DescriptorTable
	buffer     *Region
	resolve    func(bus uint64) (wordIndex int, ok bool)
	numBuffers int
	stride     int

	regs [RegisterCount]uint32

	produced atomic.Uint64
	acked    atomic.Uint64

	idleSinceRead atomic.Uint32
	idleTotal     atomic.Uint64
	idleMax       atomic.Uint32

	counter uint32

	l *logrus.Logger
}

// NewCardEmulator builds an emulator over the shared buffer. resolve maps a
// bus address registered in a descriptor to a word index in buffer;
// numBuffers is the size of the modeled internal buffer pool, stride the
// word interval the generator writes at.
func NewCardEmulator(l *logrus.Logger, table DescriptorTable, buffer *Region, resolve func(uint64) (int, bool), numBuffers, stride int) *CardEmulator {
	e := &CardEmulator{
		table:      table,
		buffer:     buffer,
		resolve:    resolve,
		numBuffers: numBuffers,
		stride:     stride,
		l:          l,
	}

	e.storeReg(RegDataGeneratorPattern, GeneratorIncremental)
	e.storeReg(RegFirmwareCompileInfo, 0x20240611)
	// Roughly 45 degrees on the 10-bit sensor scale
	e.storeReg(RegTemperature, 648)
	return e
}

func (e *CardEmulator) loadReg(index uint32) uint32 {
	return atomic.LoadUint32(&e.regs[index])
}

func (e *CardEmulator) storeReg(index uint32, v uint32) {
	atomic.StoreUint32(&e.regs[index], v)
}

func (e *CardEmulator) ReadRegister(index uint32) uint32 {
	switch index {
	case RegIdleCounter:
		return e.idleSinceRead.Swap(0)
	case RegIdleCounterLow:
		return uint32(e.idleTotal.Load())
	case RegIdleCounterHigh:
		return uint32(e.idleTotal.Load() >> 32)
	case RegIdleMaxValue:
		return e.idleMax.Load()
	default:
		return e.loadReg(index)
	}
}

func (e *CardEmulator) WriteRegister(index uint32, v uint32) {
	switch index {
	case RegAcknowledge:
		// The write value is the consumed page count, so batched ack
		// modes return a full group of credits at once.
		e.acked.Add(uint64(v))
	case RegResetDataGenerator:
		// Takes effect before the next armed production cycle
		e.storeReg(RegResetDataGenerator, 1)
	default:
		e.storeReg(index, v)
	}
}

// SetTemperatureRaw overrides the sensor reading, for fault injection.
func (e *CardEmulator) SetTemperatureRaw(v uint32) {
	e.storeReg(RegTemperature, v)
}

// Produced reports how many pages the emulator has pushed so far.
func (e *CardEmulator) Produced() uint64 {
	return e.produced.Load()
}

// Run drives the DMA engine until ctx is cancelled. It must be the only
// writer of page memory and status entries.
func (e *CardEmulator) Run(ctx context.Context) error {
	idleStretch := uint32(0)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if e.loadReg(RegDataEmulatorControl) != EmulatorRun {
			runtime.Gosched()
			continue
		}

		if e.loadReg(RegResetDataGenerator) == 1 {
			e.counter = 0
			e.storeReg(RegResetDataGenerator, 0)
		}

		produced := e.produced.Load()
		inFlight := produced - e.acked.Load()
		slot := int(produced % uint64(e.table.Capacity()))

		// No free internal buffer, or software has not cleared the slot
		// from the previous lap yet: the DMA engine idles.
		if inFlight >= uint64(e.numBuffers) || e.table.Arrived(slot) {
			idleStretch++
			e.idleSinceRead.Add(1)
			e.idleTotal.Add(1)
			if idleStretch > e.idleMax.Load() {
				e.idleMax.Store(idleStretch)
			}
			runtime.Gosched()
			continue
		}
		idleStretch = 0

		e.fillPage(slot)
		e.table.MarkArrived(slot)
		e.produced.Add(1)

		if e.Throttle > 0 {
			time.Sleep(e.Throttle)
		}
	}
}

func (e *CardEmulator) fillPage(slot int) {
	destBus, lenWords := e.table.Descriptor(slot)
	base, ok := e.resolve(destBus)
	if !ok {
		e.l.WithField("bus", destBus).Error("Descriptor points outside the DMA buffer")
		return
	}

	pattern := e.loadReg(RegDataGeneratorPattern)
	for i := 0; i < lenWords; i += e.stride {
		var v uint32
		switch pattern {
		case GeneratorAlternating:
			v = 0xa5a5a5a5
		case GeneratorConstant:
			v = 0x12345678
		default:
			v = e.counter + uint32(i/e.stride)
		}
		e.buffer.SetWord(base+i, v)
	}

	if pattern == GeneratorIncremental {
		e.counter += uint32(lenWords / e.stride)
	}
}
