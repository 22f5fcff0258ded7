package readout

import (
	"math/rand"
	"time"

	"github.com/daqline/readout/config"
	"github.com/daqline/readout/hwio"
	"github.com/sirupsen/logrus"
)

// PauseConfig bounds the uniform ranges the random pause schedules draw
// from. Pauses exist to exercise backpressure and recovery under irregular
// load; they must never break the ring-capacity invariant.
type PauseConfig struct {
	NextMin   time.Duration
	NextMax   time.Duration
	LengthMin time.Duration
	LengthMax time.Duration

	// Register values toggling the on-card emulator pause. The exact bit
	// encoding is firmware configuration, not protocol.
	FwPauseValue  uint32
	FwResumeValue uint32
}

func pauseConfigFromConfig(c *config.C) PauseConfig {
	return PauseConfig{
		NextMin:       c.GetDuration("pause.next_min", 10*time.Millisecond),
		NextMax:       c.GetDuration("pause.next_max", 2000*time.Millisecond),
		LengthMin:     c.GetDuration("pause.length_min", 1*time.Millisecond),
		LengthMax:     c.GetDuration("pause.length_max", 500*time.Millisecond),
		FwPauseValue:  c.GetUint32("pause.fw_pause_value", hwio.EmulatorEnabled),
		FwResumeValue: c.GetUint32("pause.fw_resume_value", hwio.EmulatorRun),
	}
}

// pauseSchedule is one re-arming random pause: fire at next, hold for
// length, then draw the following pause from the configured ranges.
type pauseSchedule struct {
	next   time.Time
	length time.Duration
	paused bool

	cfg PauseConfig
	rng *rand.Rand
}

func newPauseSchedule(cfg PauseConfig) *pauseSchedule {
	p := &pauseSchedule{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	p.rearm(time.Now())
	return p
}

func (p *pauseSchedule) rearm(now time.Time) {
	p.next = now.Add(p.randRange(p.cfg.NextMin, p.cfg.NextMax))
	p.length = p.randRange(p.cfg.LengthMin, p.cfg.LengthMax)
}

func (p *pauseSchedule) randRange(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(p.rng.Int63n(int64(hi-lo)))
}

// softPauses sleeps the polling thread in place.
type softPauses struct {
	*pauseSchedule
	l *logrus.Logger
}

func (p *softPauses) tick(now time.Time) {
	if now.Before(p.next) {
		return
	}

	p.l.WithField("length", p.length).Info("sw pause")
	time.Sleep(p.length)
	p.rearm(time.Now())
}

// firmPauses toggles the card's emulator pause register instead of
// stalling software.
type firmPauses struct {
	*pauseSchedule
	l   *logrus.Logger
	bar hwio.Bar
}

func (p *firmPauses) tick(now time.Time) {
	if !p.paused && !now.Before(p.next) {
		p.l.WithField("length", p.length).Info("fw pause")
		p.bar.WriteRegister(hwio.RegDataEmulatorControl, p.cfg.FwPauseValue)
		p.paused = true
	}

	if p.paused && !now.Before(p.next.Add(p.length)) {
		p.bar.WriteRegister(hwio.RegDataEmulatorControl, p.cfg.FwResumeValue)
		p.paused = false
		p.rearm(time.Now())
	}
}
