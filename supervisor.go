package readout

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// StopReason records why a run ended.
type StopReason int

const (
	StopNone StopReason = iota
	// StopPageLimit: the configured page count was read out.
	StopPageLimit
	// StopInterrupted: an interrupt arrived and the in-flight queue
	// drained cleanly.
	StopInterrupted
	// StopDrainTimeout: an interrupt arrived but the queue did not drain
	// within the timeout.
	StopDrainTimeout
	// StopThermal: the temperature limit was exceeded; draining is
	// bypassed.
	StopThermal
)

func (r StopReason) String() string {
	switch r {
	case StopPageLimit:
		return "page limit reached"
	case StopInterrupted:
		return "interrupted"
	case StopDrainTimeout:
		return "interrupted (did not finish readout queue)"
	case StopThermal:
		return "max temperature exceeded"
	}
	return "running"
}

type runPhase int

const (
	phaseRunning runPhase = iota
	phaseDraining
	phaseStopped
)

// Supervisor drives the Running -> Draining -> Stopped lifecycle of the
// readout loop. Interrupt may come from any goroutine; everything else is
// called by the loop thread only, at the low-priority check interval, so
// drain timing is only as precise as that interval.
type Supervisor struct {
	l            *logrus.Logger
	temp         *TemperatureMonitor
	drainTimeout time.Duration

	interrupted atomic.Bool

	phase      runPhase
	drainStart time.Time
	reason     StopReason
}

func NewSupervisor(l *logrus.Logger, temp *TemperatureMonitor, drainTimeout time.Duration) *Supervisor {
	return &Supervisor{
		l:            l,
		temp:         temp,
		drainTimeout: drainTimeout,
	}
}

// Interrupt requests a graceful drain. Safe from any goroutine; observed
// by the loop at its next low-priority check.
func (s *Supervisor) Interrupt() {
	s.interrupted.Store(true)
}

// Check advances the state machine and reports whether the loop must stop.
// queueLen is the current in-flight count.
func (s *Supervisor) Check(queueLen int) bool {
	if s.phase == phaseStopped {
		return true
	}

	if s.temp != nil && s.temp.MaxExceeded() {
		s.l.Error("Aborting: max temperature exceeded")
		s.stop(StopThermal)
		return true
	}

	if !s.interrupted.Load() {
		return false
	}

	if s.phase == phaseRunning {
		// Finish the readout cleanly if possible: stop pushing and give
		// the queue a bounded amount of time to empty.
		s.phase = phaseDraining
		s.drainStart = time.Now()
		s.l.Info("Interrupted, draining readout queue")
	}

	if queueLen == 0 {
		s.l.Info("Interrupted")
		s.stop(StopInterrupted)
		return true
	}

	if time.Since(s.drainStart) > s.drainTimeout {
		s.l.WithField("remaining", queueLen).Warn("Interrupted, readout queue did not drain")
		s.stop(StopDrainTimeout)
		return true
	}

	return false
}

// PageLimitReached moves straight to Stopped.
func (s *Supervisor) PageLimitReached() {
	s.l.Info("Maximum amount of pages reached")
	s.stop(StopPageLimit)
}

// PushAllowed reports whether new pages may still be pushed.
func (s *Supervisor) PushAllowed() bool {
	return s.phase == phaseRunning
}

// Reason returns why the run stopped, or StopNone while it is live.
func (s *Supervisor) Reason() StopReason {
	return s.reason
}

func (s *Supervisor) stop(reason StopReason) {
	if s.phase != phaseStopped {
		s.phase = phaseStopped
		s.reason = reason
	}
}
