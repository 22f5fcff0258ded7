package readout

import (
	"fmt"
	"io"
	"time"

	"github.com/daqline/readout/dma"
)

// statusSnapshot is what the hot loop hands the display per refresh.
type statusSnapshot struct {
	Pages       int64
	Errors      int64
	CheckErrors bool
	Fill        int
	Temperature float64
	TempValid   bool
	FrontSlot   int
	HasFront    bool
}

// statusDisplay renders the in-place status line during a run, and every
// minute commits a row to stdout and the run log. Interval throughput is
// measured between committed rows.
type statusDisplay struct {
	out  io.Writer
	log  io.Writer
	fifo *dma.FifoTable

	interval    time.Duration
	fifoDisplay bool

	start          time.Time
	lastUpdate     time.Time
	newlinePending bool

	intervalStart time.Time
	intervalPages int64
	intervalPolls int64
}

func newStatusDisplay(out, log io.Writer, fifo *dma.FifoTable, interval time.Duration, fifoDisplay bool) *statusDisplay {
	return &statusDisplay{
		out:         out,
		log:         log,
		fifo:        fifo,
		interval:    interval,
		fifoDisplay: fifoDisplay,
	}
}

func (d *statusDisplay) begin(start time.Time) {
	d.start = start
	d.intervalStart = start
	header := fmt.Sprintf("  %-8s   %-12s  %-12s  %-10s  %-8s %-8s %-8s", "Time", "Pages", "Errors", "Fill", "degC", "GB/s", "AvgPolls")
	fmt.Fprintf(d.out, "\n%s\n", header)
	fmt.Fprintf(d.log, "%s\n", header)
}

// countPoll records one empty poll of the status table.
func (d *statusDisplay) countPoll() {
	d.intervalPolls++
}

// countPage records one read-out page.
func (d *statusDisplay) countPage() {
	d.intervalPages++
}

// due reports whether the line should refresh, at most once per interval.
func (d *statusDisplay) due(now time.Time) bool {
	if now.Sub(d.lastUpdate) < d.interval {
		return false
	}
	d.lastUpdate = now
	return true
}

func (d *statusDisplay) update(now time.Time, s statusSnapshot) {
	diff := now.Sub(d.start)
	line := fmt.Sprintf("  %02d:%02d:%02d   %-12d  %-12s  %-10d  %-8s %-8s %-8s",
		int(diff.Hours()), int(diff.Minutes())%60, int(diff.Seconds())%60,
		s.Pages, d.errorsField(s), s.Fill, d.tempField(s), d.rateField(now), d.pollsField(now))

	fmt.Fprintf(d.out, "\r%s", line)

	if d.fifoDisplay {
		d.renderFifo(s)
	}

	// Commit a row to the log table once a minute
	second := int(diff.Seconds()) % 60
	if d.newlinePending && second == 0 {
		fmt.Fprint(d.out, "\n")
		fmt.Fprintf(d.log, "%s\n", line)
		d.newlinePending = false
		d.intervalStart = now
		d.intervalPages = 0
		d.intervalPolls = 0
	}
	if second >= 1 {
		d.newlinePending = true
	}
}

func (d *statusDisplay) errorsField(s statusSnapshot) string {
	if !s.CheckErrors {
		return "n/a"
	}
	return fmt.Sprintf("%d", s.Errors)
}

func (d *statusDisplay) tempField(s statusSnapshot) string {
	if !s.TempValid {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", s.Temperature)
}

func (d *statusDisplay) rateField(now time.Time) string {
	seconds := now.Sub(d.intervalStart).Seconds()
	if seconds <= 0.1 {
		return "-"
	}
	gb := float64(d.intervalPages) * dma.PageSize / 1e9
	return fmt.Sprintf("%.2f", gb/seconds)
}

func (d *statusDisplay) pollsField(now time.Time) string {
	seconds := now.Sub(d.intervalStart).Seconds()
	if seconds <= 0.1 {
		return "-"
	}
	return fmt.Sprintf("%.0f", float64(d.intervalPolls)/seconds)
}

// renderFifo draws ring occupancy: O marks the slot being waited on, X an
// arrived slot, space a clear one.
func (d *statusDisplay) renderFifo(s statusSnapshot) {
	const separator = '|'

	buf := make([]byte, 0, d.fifo.Capacity()+d.fifo.Capacity()/8+1)
	for i := 0; i < d.fifo.Capacity(); i++ {
		if i%8 == 0 {
			buf = append(buf, separator)
		}
		switch {
		case s.HasFront && i == s.FrontSlot:
			buf = append(buf, 'O')
		case d.fifo.IsArrived(i):
			buf = append(buf, 'X')
		default:
			buf = append(buf, ' ')
		}
	}
	buf = append(buf, separator)
	fmt.Fprintf(d.out, " %s", buf)
}
