package readout

import (
	"fmt"
	"io"
	"time"

	"github.com/daqline/readout/hwio"
)

// legacyAckInterval batches acknowledgments for old firmware that expects
// a free signal per internal buffer group rather than per page.
const legacyAckInterval = 4

// Acker tells the card a page has been consumed. Batching only changes how
// often the free signal reaches hardware, never the ring-capacity
// semantics; it trades responsiveness for register-access overhead.
type Acker struct {
	acc            hwio.CardAccessor
	legacy         bool
	cumulativeIdle bool

	idleLog   io.Writer
	runStart  time.Time
	cumulated uint64
}

func NewAcker(bar hwio.Bar, legacy, cumulativeIdle bool, idleLog io.Writer) *Acker {
	return &Acker{
		acc:            hwio.CardAccessor{Bar: bar},
		legacy:         legacy,
		cumulativeIdle: cumulativeIdle,
		idleLog:        idleLog,
	}
}

// Start stamps the run start time used for idle log timestamps.
func (a *Acker) Start(t time.Time) {
	a.runStart = t
}

// PageRead is called once per read-out page with the running readout
// count. In legacy mode only every fourth page sends the signal, and that
// signal frees the whole consumed group so the credit flow matches the
// per-page mode exactly.
func (a *Acker) PageRead(readoutCount int64) {
	if a.legacy {
		if readoutCount%legacyAckInterval != 0 {
			return
		}
		a.acknowledge(legacyAckInterval)
		return
	}
	a.acknowledge(1)
}

func (a *Acker) acknowledge(pages uint32) {
	a.acc.SendAcknowledge(pages)

	if !a.cumulativeIdle && a.idleLog == nil {
		return
	}

	idle := a.acc.IdleCounter()
	if a.cumulativeIdle {
		a.cumulated += idle
	}
	if a.idleLog != nil {
		fmt.Fprintf(a.idleLog, "%d %d\n", time.Since(a.runStart).Nanoseconds(), idle)
	}
}

// CumulativeIdle returns the summed idle counter readings.
func (a *Acker) CumulativeIdle() uint64 {
	return a.cumulated
}
