package readout

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/daqline/readout/dma"
	"github.com/daqline/readout/header"
	"github.com/daqline/readout/hwio"
	"github.com/daqline/readout/util"
	"github.com/eapache/queue"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

const (
	// bufferDefaultValue is the sentinel every page is reset to before it
	// is handed back to the ring. A page still full of it was never
	// written by the card.
	bufferDefaultValue uint32 = 0xCcccCccc

	// patternStride is the word spacing of generator pattern words inside
	// a page. Words in between carry payload and are not checked.
	patternStride = 8

	// maxRecordedErrors caps the diagnostic lines kept for the error
	// file, so sustained failure cannot grow memory without bound.
	maxRecordedErrors = 1000

	// lowPriorityInterval is how many loop iterations pass between
	// supervisor/display/pause housekeeping. Keeps the hot path free of
	// clock reads.
	lowPriorityInterval = 10000
)

// Handle pairs a ring slot with the buffer page that was pushed into it.
// It is the unit tracked by the readout queue.
type Handle struct {
	DescriptorIndex int
	PageIndex       int
}

// Engine owns the DMA readout loop: it pushes pages into the descriptor
// ring, waits for the card to mark them arrived, and reads them out in
// ring order. Everything except Interrupt runs on the loop goroutine.
type Engine struct {
	l   *logrus.Logger
	o   *Options
	out io.Writer

	acc    hwio.CardAccessor
	fifo   *dma.FifoTable
	part   dma.Partition
	pages  []*hwio.Region
	temp   *TemperatureMonitor
	sup    *Supervisor
	acker  *Acker
	val    *Validator
	writer pageWriter
	disp   *statusDisplay
	soft   *softPauses
	firm   *firmPauses
	rlog   *runLog

	idleLog *os.File

	queue *queue.Queue

	pushCounter        int64
	readoutCounter     int64
	descriptorCounter  int
	pageIndexCounter   int
	lowPriorityCounter int
	lastFillSize       int
	maxQueueLen        int
	stopLoop           bool

	scratch []uint32
	hdr     []byte

	metricPages  metrics.Counter
	metricErrors metrics.Counter
	metricFill   metrics.Gauge
}

// NewEngine carves nothing itself: the caller hands it the locked buffer,
// the carved partition and the fifo table placed at the partition's table
// region. out receives the status line and the final summary.
func NewEngine(l *logrus.Logger, o *Options, bar hwio.Bar, buffer *hwio.Region, part dma.Partition, fifo *dma.FifoTable, temp *TemperatureMonitor, out io.Writer) (*Engine, error) {
	if part.Table.Bus%dma.Alignment != 0 {
		return nil, util.NewContextualError("Fifo table bus address is not aligned", map[string]interface{}{"bus": part.Table.Bus}, dma.ErrMisalignedAddress)
	}

	e := &Engine{
		l:       l,
		o:       o,
		out:     out,
		acc:     hwio.CardAccessor{Bar: bar},
		fifo:    fifo,
		part:    part,
		temp:    temp,
		sup:     NewSupervisor(l, temp, o.DrainTimeout),
		queue:   queue.New(),
		scratch: make([]uint32, dma.PageWords),
		hdr:     make([]byte, header.Len),

		metricPages:  metrics.GetOrRegisterCounter("readout.pages", nil),
		metricErrors: metrics.GetOrRegisterCounter("readout.errors", nil),
		metricFill:   metrics.GetOrRegisterGauge("readout.fill", nil),
	}

	for i, p := range part.Pages {
		r, err := buffer.Slice(p.UserOffset, dma.PageSize)
		if err != nil {
			return nil, util.NewContextualError("Page does not fit the buffer", map[string]interface{}{"page": i, "offset": p.UserOffset}, err)
		}
		e.pages = append(e.pages, r)
	}

	var err error
	if e.writer, err = newPageWriter(o); err != nil {
		return nil, err
	}

	if o.CheckErrors {
		if e.val, err = NewValidator(o.Pattern, o.ResyncCounter); err != nil {
			return nil, err
		}
	}

	if o.LogIdle {
		if e.idleLog, err = os.Create(o.IdleLogPath); err != nil {
			return nil, util.NewContextualError("Failed to open idle log", map[string]interface{}{"path": o.IdleLogPath}, err)
		}
	}

	var idleLog io.Writer
	if e.idleLog != nil {
		idleLog = e.idleLog
	}
	e.acker = NewAcker(bar, o.LegacyAck, o.CumulativeIdle, idleLog)

	if o.RunLog {
		if e.rlog, err = newRunLog(time.Now().Unix()); err != nil {
			return nil, util.NewContextualError("Failed to open run log", nil, err)
		}
	}
	e.disp = newStatusDisplay(out, e.rlog, fifo, o.DisplayInterval, o.FifoDisplay)

	if o.RandomPauseSoft {
		e.soft = &softPauses{pauseSchedule: newPauseSchedule(o.Pauses), l: l}
	}
	if o.RandomPauseFirm {
		e.firm = &firmPauses{pauseSchedule: newPauseSchedule(o.Pauses), l: l, bar: bar}
	}

	e.resetBuffer()
	e.initFifo()
	e.initCard()

	e.rlog.Printf("# Firmware %d\n# Pages %d\n", e.acc.FirmwareCompileInfo(), len(e.pages))

	return e, nil
}

// resetBuffer writes the sentinel over every page so stale content can
// never pass for card data.
func (e *Engine) resetBuffer() {
	for _, p := range e.pages {
		p.Fill(bufferDefaultValue)
	}
}

// initFifo clears the status entries and binds every ring slot to a real
// page up front, so the card never chases a descriptor pointing into
// memory the run does not own.
func (e *Engine) initFifo() {
	e.fifo.ResetStatusEntries()
	for i := 0; i < dma.RingCapacity; i++ {
		e.setDescriptor(i%len(e.pages), i)
	}
}

func (e *Engine) initCard() {
	if e.o.ResetCard {
		e.l.Info("Resetting card")
		e.acc.ResetCard()
	}

	fw := e.acc.FirmwareCompileInfo()
	e.l.WithField("compileInfo", fw).Info("Firmware")

	if e.part.Table.Bus>>32 != 0 {
		e.l.WithField("bus", e.part.Table.Bus).Warn("Fifo table sits above 4 GiB bus space, card must support 64 bit addressing")
	}

	e.acc.SetFifoBusAddress(e.part.Table.Bus)
	e.acc.SetFifoCardAddress()
	e.acc.SetDescriptorTableSize(dma.RingCapacity)
	e.acc.SetDoneControl()
	e.acc.SetDataGeneratorPattern(e.o.Pattern.GeneratorCode())
	e.acc.ResetDataGeneratorCounter()
}

// setDescriptor binds ring slot descriptorIndex to the given page. The
// card-side source cycles through its internal buffer pool.
func (e *Engine) setDescriptor(pageIndex, descriptorIndex int) {
	src := uint64(descriptorIndex%dma.NumBuffers) * dma.PageSize
	e.fifo.SetDescriptor(descriptorIndex, dma.PageWords, src, e.part.Pages[pageIndex].Bus)
}

func (e *Engine) shouldPush() bool {
	if e.queue.Length() >= dma.RingCapacity {
		return false
	}
	if !e.sup.PushAllowed() {
		return false
	}
	if !e.o.InfinitePages() && e.pushCounter >= e.o.MaxPages {
		return false
	}
	return true
}

func (e *Engine) pushPage() {
	e.setDescriptor(e.pageIndexCounter, e.descriptorCounter)
	e.queue.Add(Handle{DescriptorIndex: e.descriptorCounter, PageIndex: e.pageIndexCounter})

	e.pushCounter++
	e.descriptorCounter = (e.descriptorCounter + 1) % dma.RingCapacity
	e.pageIndexCounter = (e.pageIndexCounter + 1) % len(e.pages)
}

// fillQueue tops the ring up to capacity (or the page limit).
func (e *Engine) fillQueue() {
	pushed := 0
	for e.shouldPush() {
		e.pushPage()
		pushed++
	}
	if pushed > 0 {
		e.lastFillSize = pushed
	}
	if l := e.queue.Length(); l > e.maxQueueLen {
		e.maxQueueLen = l
	}
	e.metricFill.Update(int64(e.queue.Length()))
}

// hasPageAvailable reports whether the front of the queue has arrived.
// Only the front is ever inspected: the card fills slots in ring order,
// so arrival of a later slot implies the front arrived too.
func (e *Engine) hasPageAvailable() bool {
	if e.queue.Length() == 0 {
		return false
	}
	return e.fifo.IsArrived(e.queue.Peek().(Handle).DescriptorIndex)
}

// readoutPage exports and validates the page, then recycles it: the page
// is reset to the sentinel and the status entry cleared before the slot is
// acknowledged, so the card can never overwrite data that has not been
// consumed.
func (e *Engine) readoutPage(h Handle) error {
	page := e.pages[h.PageIndex]
	page.ReadWords(0, e.scratch)

	if e.writer != nil {
		if err := e.writer.WritePage(e.readoutCounter, h.PageIndex, e.scratch); err != nil {
			return util.NewContextualError("Failed to write page to file", map[string]interface{}{"page": h.PageIndex}, err)
		}
	}

	if e.o.DecodeHeaders && e.l.IsLevelEnabled(logrus.DebugLevel) {
		e.logHeader(h)
	}

	if e.val != nil {
		if e.val.Check(e.scratch, e.readoutCounter, h.PageIndex) {
			e.metricErrors.Inc(1)
		}
	}

	page.Fill(bufferDefaultValue)
	e.fifo.Clear(h.DescriptorIndex)

	e.readoutCounter++
	e.metricPages.Inc(1)
	e.disp.countPage()
	return nil
}

func (e *Engine) logHeader(h Handle) {
	for i := 0; i < header.Len/4; i++ {
		binary.LittleEndian.PutUint32(e.hdr[i*4:], e.scratch[i])
	}

	var hd header.H
	if err := hd.Parse(e.hdr); err != nil {
		return
	}
	e.l.WithFields(logrus.Fields{
		"event":         e.readoutCounter,
		"page":          h.PageIndex,
		"link":          hd.LinkID,
		"eventSize":     hd.EventSize,
		"packetCounter": hd.PacketCounter,
	}).Debug("Page header")
}

// lowPriorityTasks runs the supervisor check, display refresh and random
// pauses once per lowPriorityInterval iterations.
func (e *Engine) lowPriorityTasks() {
	e.lowPriorityCounter++
	if e.lowPriorityCounter < lowPriorityInterval {
		return
	}
	e.lowPriorityCounter = 0

	if e.sup.Check(e.queue.Length()) {
		e.stopLoop = true
		return
	}

	now := time.Now()
	if e.disp.due(now) {
		e.disp.update(now, e.snapshot())
	}
	if e.soft != nil {
		e.soft.tick(now)
	}
	if e.firm != nil {
		e.firm.tick(now)
	}
}

func (e *Engine) snapshot() statusSnapshot {
	s := statusSnapshot{
		Pages:       e.readoutCounter,
		CheckErrors: e.val != nil,
		Fill:        e.lastFillSize,
	}
	if e.val != nil {
		s.Errors = e.val.ErrorCount()
	}
	if e.temp != nil {
		s.Temperature, s.TempValid = e.temp.Temperature()
	}
	if e.queue.Length() > 0 {
		s.FrontSlot = e.queue.Peek().(Handle).DescriptorIndex
		s.HasFront = true
	}
	return s
}

// Interrupt requests a graceful drain. Safe from any goroutine.
func (e *Engine) Interrupt() {
	e.sup.Interrupt()
}

// Run drives the readout until the page limit, an interrupt or a thermal
// abort ends it. The emulator is disarmed on every exit path.
func (e *Engine) Run() error {
	start := time.Now()
	e.acker.Start(start)
	e.disp.begin(start)

	// Prime the ring before arming, so the card never sees an empty one.
	e.fillQueue()

	e.acc.SetDataEmulatorEnabled(true)
	defer e.acc.SetDataEmulatorEnabled(false)

	var runErr error
	for {
		if !e.o.InfinitePages() && e.readoutCounter >= e.o.MaxPages {
			e.sup.PageLimitReached()
			break
		}

		e.lowPriorityTasks()
		if e.stopLoop {
			break
		}

		e.fillQueue()

		if !e.hasPageAvailable() {
			e.disp.countPoll()
			continue
		}

		h := e.queue.Peek().(Handle)
		if err := e.readoutPage(h); err != nil {
			runErr = err
			break
		}
		e.acker.PageRead(e.readoutCounter)
		e.queue.Remove()
	}

	e.finish(start)
	return runErr
}

func (e *Engine) finish(start time.Time) {
	fmt.Fprintln(e.out)

	s := RunSummary{
		Seconds:        time.Since(start).Seconds(),
		Pages:          e.readoutCounter,
		Reason:         e.sup.Reason(),
		CumulativeIdle: e.o.CumulativeIdle,
		IdleCumulated:  e.acker.CumulativeIdle(),
		IdleLower:      e.acc.IdleCounterLower(),
		IdleUpper:      e.acc.IdleCounterUpper(),
		IdleMax:        e.acc.IdleMaxValue(),
	}

	if e.val != nil {
		s.Errors = e.val.ErrorCount()
		if rec := e.val.RecordedErrors(); len(rec) > 0 {
			if err := writeErrorFile(e.o.ErrorsPath, rec); err != nil {
				e.l.WithError(err).WithField("path", e.o.ErrorsPath).Error("Failed to write error file")
			} else {
				e.l.WithField("path", e.o.ErrorsPath).WithField("errors", s.Errors).Info("Wrote pattern errors")
			}
		}
	}

	s.WriteTo(e.out)
	s.WriteTo(e.rlog)
}

// Close flushes and closes the file sinks. Call after Run has returned.
func (e *Engine) Close() error {
	var first error
	if e.writer != nil {
		if err := e.writer.Close(); err != nil && first == nil {
			first = err
		}
	}
	if e.idleLog != nil {
		if err := e.idleLog.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := e.rlog.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// ReadoutCount returns how many pages were read out.
func (e *Engine) ReadoutCount() int64 {
	return e.readoutCounter
}

// QueueLength returns the current in-flight count.
func (e *Engine) QueueLength() int {
	return e.queue.Length()
}

// MaxQueueLength returns the high-water mark of the in-flight count.
func (e *Engine) MaxQueueLength() int {
	return e.maxQueueLen
}

// Errors returns the pattern error count, zero when checking is off.
func (e *Engine) Errors() int64 {
	if e.val == nil {
		return 0
	}
	return e.val.ErrorCount()
}
