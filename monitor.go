package readout

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/daqline/readout/hwio"
	"github.com/shirou/gopsutil/host"
	"github.com/sirupsen/logrus"
)

// TemperatureMonitor samples the card's temperature sensor in the
// background. It is the only writer of its flags; the readout loop only
// reads them. When the card reading is invalid it falls back to the host's
// own sensors so an overheating chassis still aborts the run.
type TemperatureMonitor struct {
	l        *logrus.Logger
	acc      hwio.CardAccessor
	interval time.Duration
	limit    float64

	milliDegrees atomic.Int64
	valid        atomic.Bool
	maxExceeded  atomic.Bool
}

func NewTemperatureMonitor(l *logrus.Logger, bar hwio.Bar, limit float64, interval time.Duration) *TemperatureMonitor {
	return &TemperatureMonitor{
		l:        l,
		acc:      hwio.CardAccessor{Bar: bar},
		interval: interval,
		limit:    limit,
	}
}

// Temperature returns the last sample in degrees Celsius and whether it is
// valid.
func (m *TemperatureMonitor) Temperature() (float64, bool) {
	return float64(m.milliDegrees.Load()) / 1000, m.valid.Load()
}

// MaxExceeded reports whether the temperature limit was hit. Sticky.
func (m *TemperatureMonitor) MaxExceeded() bool {
	return m.maxExceeded.Load()
}

// Run samples until ctx is cancelled or the limit is exceeded.
func (m *TemperatureMonitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.interval)
	defer t.Stop()

	for {
		temp, ok := m.acc.Temperature()
		if !ok {
			temp, ok = hostTemperature()
		}

		m.valid.Store(ok)
		if ok {
			m.milliDegrees.Store(int64(temp * 1000))
			if temp > m.limit {
				m.l.WithField("temperature", temp).Error("Maximum temperature was exceeded")
				m.maxExceeded.Store(true)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func hostTemperature() (float64, bool) {
	sensors, err := host.SensorsTemperatures()
	if err != nil {
		return 0, false
	}
	for _, s := range sensors {
		if s.Temperature > 0 {
			return s.Temperature, true
		}
	}
	return 0, false
}

// RegisterHammer stress-tests the debug register with back to back
// writes and reads, validating that posted writes land in order.
type RegisterHammer struct {
	l   *logrus.Logger
	bar hwio.Bar
}

func NewRegisterHammer(l *logrus.Logger, bar hwio.Bar) *RegisterHammer {
	return &RegisterHammer{l: l, bar: bar}
}

func (h *RegisterHammer) Run(ctx context.Context) error {
	for {
		for hostCounter := uint32(0); hostCounter < 256; hostCounter++ {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			h.bar.WriteRegister(hwio.RegDebugReadWrite, hostCounter)
			regValue := h.bar.ReadRegister(hwio.RegDebugReadWrite)
			if pciCounter := regValue & 0xff; pciCounter != hostCounter {
				h.l.WithFields(logrus.Fields{
					"value":    pciCounter,
					"expected": hostCounter,
					"raw":      regValue,
				}).Warn("Register hammer mismatch")
			}
		}
		runtime.Gosched()
	}
}
