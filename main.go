package readout

import (
	"os"

	"github.com/daqline/readout/config"
	"github.com/daqline/readout/dma"
	"github.com/daqline/readout/hwio"
	"github.com/daqline/readout/util"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

// chunkSize is the hugepage granularity the simulated scatter-gather list
// is built with. Pages never straddle a chunk.
const chunkSize = 2 * 1024 * 1024

// Main builds everything the run needs and returns a Control to drive it.
// When configTest is true the config is resolved and printed but no buffer
// is mapped and no card is touched.
func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger) (*Control, error) {
	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	// Print the config if in test, the exit comes later
	if configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			return nil, err
		}

		l.Println(string(b))
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.NewContextualError("Failed to configure the logger", nil, err)
	}

	c.RegisterReloadCallback(func(c *config.C) {
		err := configLogger(l, c)
		if err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	o, err := NewOptions(c)
	if err != nil {
		return nil, err
	}

	if err := startStats(l, c, buildVersion, configTest); err != nil {
		return nil, util.NewContextualError("Failed to start stats emission", nil, err)
	}

	if configTest {
		return nil, nil
	}

	mapped, err := dma.NewMappedFile(o.BufferPath, o.BufferSize)
	if err != nil {
		return nil, util.NewContextualError("Failed to map DMA buffer", map[string]interface{}{"path": o.BufferPath, "size": o.BufferSize}, err)
	}
	mapped.RemoveOnClose(o.RemoveSharedMemory)

	buffer, err := hwio.NewRegion(mapped.Bytes())
	if err != nil {
		mapped.Close()
		return nil, util.NewContextualError("DMA buffer is not word addressable", nil, err)
	}

	sgl := dma.Simulated(uint64(o.BufferSize), chunkSize, o.BusBase)

	part, err := dma.Carve(sgl, dma.TableBytes, dma.RingCapacity)
	if err != nil {
		mapped.Close()
		return nil, util.NewContextualError("Failed to carve DMA buffer", map[string]interface{}{"size": o.BufferSize}, err)
	}
	l.WithFields(logrus.Fields{
		"pages":    len(part.Pages),
		"tableBus": part.Table.Bus,
	}).Info("Carved DMA buffer")

	tableRegion, err := buffer.Slice(part.Table.UserOffset, dma.TableBytes)
	if err != nil {
		mapped.Close()
		return nil, util.NewContextualError("Fifo table does not fit the buffer", nil, err)
	}
	fifo, err := dma.NewFifoTable(tableRegion)
	if err != nil {
		mapped.Close()
		return nil, err
	}

	resolve := func(bus uint64) (int, bool) {
		off, ok := sgl.ResolveBus(bus, dma.PageSize)
		if !ok || off%4 != 0 {
			return 0, false
		}
		return int(off / 4), true
	}
	emu := hwio.NewCardEmulator(l, fifo, buffer, resolve, dma.NumBuffers, patternStride)
	emu.Throttle = o.EmulatorThrottle

	temp := NewTemperatureMonitor(l, emu, o.TempLimit, o.TempInterval)

	var hammer *RegisterHammer
	if o.RegisterHammer {
		hammer = NewRegisterHammer(l, emu)
	}

	engine, err := NewEngine(l, o, emu, buffer, part, fifo, temp, os.Stdout)
	if err != nil {
		mapped.Close()
		return nil, err
	}

	return &Control{
		l:      l,
		cfg:    c,
		e:      engine,
		emu:    emu,
		temp:   temp,
		hammer: hammer,
		mapped: mapped,
	}, nil
}
