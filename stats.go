package readout

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"runtime"
	"time"

	graphite "github.com/cyberdelia/go-metrics-graphite"
	"github.com/daqline/readout/config"
	"github.com/daqline/readout/dma"
	mp "github.com/nbrownus/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

func startStats(l *logrus.Logger, c *config.C, buildVersion string, configTest bool) error {
	mType := c.GetString("stats.type", "")
	if mType == "" || mType == "none" {
		return nil
	}

	interval := c.GetDuration("stats.interval", 0)
	if interval == 0 {
		return fmt.Errorf("stats.interval was an invalid duration: %s", c.GetString("stats.interval", ""))
	}

	switch mType {
	case "graphite":
		if err := startGraphiteStats(l, interval, c, configTest); err != nil {
			return err
		}
	case "prometheus":
		if err := startPrometheusStats(l, interval, c, buildVersion, configTest); err != nil {
			return err
		}
	default:
		return fmt.Errorf("stats.type was not understood: %s", mType)
	}

	metrics.RegisterDebugGCStats(metrics.DefaultRegistry)
	metrics.RegisterRuntimeMemStats(metrics.DefaultRegistry)

	go metrics.CaptureDebugGCStats(metrics.DefaultRegistry, interval)
	go metrics.CaptureRuntimeMemStats(metrics.DefaultRegistry, interval)

	return nil
}

func startGraphiteStats(l *logrus.Logger, i time.Duration, c *config.C, configTest bool) error {
	proto := c.GetString("stats.protocol", "tcp")
	host := c.GetString("stats.host", "")
	if host == "" {
		return errors.New("stats.host can not be empty")
	}

	prefix := c.GetString("stats.prefix", "readout")
	addr, err := net.ResolveTCPAddr(proto, host)
	if err != nil {
		return fmt.Errorf("error while setting up graphite sink: %s", err)
	}

	l.Infof("Starting graphite. Interval: %s, prefix: %s, addr: %s", i, prefix, addr)
	if !configTest {
		go graphite.Graphite(metrics.DefaultRegistry, i, prefix, addr)
	}
	return nil
}

func startPrometheusStats(l *logrus.Logger, i time.Duration, c *config.C, buildVersion string, configTest bool) error {
	namespace := c.GetString("stats.namespace", "")
	subsystem := c.GetString("stats.subsystem", "")

	listen := c.GetString("stats.listen", "")
	if listen == "" {
		return fmt.Errorf("stats.listen should not be empty")
	}

	path := c.GetString("stats.path", "")
	if path == "" {
		return fmt.Errorf("stats.path should not be empty")
	}

	pr := prometheus.NewRegistry()
	pClient := mp.NewPrometheusProvider(metrics.DefaultRegistry, namespace, subsystem, pr, i)
	go pClient.UpdatePrometheusMetrics()

	// Export our version information as labels on a static gauge
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "info",
		Help:      "Version information for the readout binary",
		ConstLabels: prometheus.Labels{
			"version":   buildVersion,
			"goversion": runtime.Version(),
		},
	})
	pr.MustRegister(g)
	g.Set(1)

	if !configTest {
		go func() {
			l.Infof("Prometheus stats listening on %s at %s", listen, path)
			http.Handle(path, promhttp.HandlerFor(pr, promhttp.HandlerOpts{ErrorLog: l}))
			log.Fatal(http.ListenAndServe(listen, nil))
		}()
	}

	return nil
}

// RunSummary is the end-of-run statistics block.
type RunSummary struct {
	Seconds        float64
	Pages          int64
	Errors         int64
	Reason         StopReason
	CumulativeIdle bool
	IdleCumulated  uint64
	IdleLower      uint32
	IdleUpper      uint32
	IdleMax        uint32
}

// WriteTo prints the summary table.
func (s *RunSummary) WriteTo(w io.Writer) (int64, error) {
	var n int64
	p := func(format string, args ...any) {
		c, _ := fmt.Fprintf(w, format, args...)
		n += int64(c)
	}

	bytes := float64(s.Pages) * dma.PageSize
	gb := bytes / 1e9
	gib := bytes / (1 << 30)

	p("\n")
	p("  %-10s  %v\n", "Stopped", s.Reason)
	p("  %-10s  %.3f\n", "Seconds", s.Seconds)
	p("  %-10s  %d\n", "Pages", s.Pages)
	if s.Pages > 0 && s.Seconds > 0 {
		p("  %-10s  %.0f\n", "Bytes", bytes)
		p("  %-10s  %.3f\n", "GB", gb)
		p("  %-10s  %.3f\n", "GB/s", gb/s.Seconds)
		p("  %-10s  %.3f\n", "Gb/s", gb/s.Seconds*8)
		p("  %-10s  %.3f\n", "GiB", gib)
		p("  %-10s  %.3f\n", "GiB/s", gib/s.Seconds)
		p("  %-10s  %.3f\n", "Gibit/s", gib/s.Seconds*8)
		p("  %-10s  %d\n", "Errors", s.Errors)
	}
	if s.CumulativeIdle {
		p("  %-10s  %d\n", "Idle", s.IdleCumulated)
	}
	p("  %-10s  0x%-10x\n", "idle_cnt lower", s.IdleLower)
	p("  %-10s  0x%-10x\n", "idle_cnt upper", s.IdleUpper)
	p("  %-10s  0x%-10x\n", "max_idle_value", s.IdleMax)
	p("\n")
	return n, nil
}
