package readout

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/daqline/readout/config"
	"github.com/daqline/readout/dma"
	"github.com/daqline/readout/hwio"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Control ties the readout loop and its helper goroutines together.
type Control struct {
	l      *logrus.Logger
	cfg    *config.C
	e      *Engine
	emu    *hwio.CardEmulator
	temp   *TemperatureMonitor
	hammer *RegisterHammer
	mapped *dma.MappedFile

	cancel   context.CancelFunc
	eg       *errgroup.Group
	done     chan struct{}
	runErr   error
	stopOnce sync.Once
}

// Start launches the emulator, the monitors and the readout loop. This is
// a nonblocking call, use ShutdownBlock or Stop to wait for the end.
func (c *Control) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.cfg.CatchHUP(ctx)

	c.eg, ctx = errgroup.WithContext(ctx)
	c.eg.Go(func() error { return c.emu.Run(ctx) })
	c.eg.Go(func() error { return c.temp.Run(ctx) })
	if c.hammer != nil {
		c.eg.Go(func() error { return c.hammer.Run(ctx) })
	}

	go func() {
		c.runErr = c.e.Run()
		close(c.done)
	}()
}

// Stop interrupts the loop, waits for the drain to finish and tears
// everything down. Safe to call more than once.
func (c *Control) Stop() {
	c.stopOnce.Do(func() {
		c.e.Interrupt()
		<-c.done

		c.cancel()
		if err := c.eg.Wait(); err != nil {
			c.l.WithError(err).Error("Helper goroutine failed")
		}

		if c.runErr != nil {
			c.l.WithError(c.runErr).Error("Readout failed")
		}
		if err := c.e.Close(); err != nil {
			c.l.WithError(err).Error("Failed to close output files")
		}
		if err := c.mapped.Close(); err != nil {
			c.l.WithError(err).Error("Failed to unmap DMA buffer")
		}
		c.l.Info("Goodbye")
	})
}

// ShutdownBlock waits for a term or interrupt signal, or for the loop to
// end on its own, then calls Stop.
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	select {
	case rawSig := <-sigChan:
		c.l.WithField("signal", rawSig.String()).Info("Caught signal, shutting down")
	case <-c.done:
	}
	c.Stop()
}
