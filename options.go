package readout

import (
	"time"

	"github.com/daqline/readout/config"
	"github.com/daqline/readout/util"
)

// Options are the per-run settings, pulled out of the config tree before
// any hardware is touched.
type Options struct {
	// MaxPages limits how many pages are pushed and read. Zero or
	// negative means no limit.
	MaxPages int64

	FileOutputASCII bool
	FileOutputBin   bool
	ASCIIPath       string
	BinPath         string
	ErrorsPath      string
	IdleLogPath     string
	RunLog          bool

	CheckErrors   bool
	Pattern       Pattern
	ResyncCounter bool
	DecodeHeaders bool

	RandomPauseSoft bool
	RandomPauseFirm bool
	Pauses          PauseConfig

	LegacyAck      bool
	CumulativeIdle bool
	LogIdle        bool

	ResetCard      bool
	RegisterHammer bool
	FifoDisplay    bool

	BufferPath         string
	BufferSize         int64
	BusBase            uint64
	RemoveSharedMemory bool

	DrainTimeout     time.Duration
	DisplayInterval  time.Duration
	TempLimit        float64
	TempInterval     time.Duration
	EmulatorThrottle time.Duration
}

// NewOptions validates and extracts all run settings from c.
func NewOptions(c *config.C) (*Options, error) {
	o := &Options{
		MaxPages:        c.GetInt64("readout.pages", 1500),
		FileOutputASCII: c.GetBool("readout.to_file_ascii", false),
		FileOutputBin:   c.GetBool("readout.to_file_bin", false),
		ASCIIPath:       c.GetString("readout.ascii_path", asciiPathDefault),
		BinPath:         c.GetString("readout.bin_path", binPathDefault),
		ErrorsPath:      c.GetString("readout.errors_path", errorsPathDefault),
		IdleLogPath:     c.GetString("readout.idle_log_path", idleLogPathDefault),
		RunLog:          c.GetBool("readout.run_log", true),

		ResyncCounter: c.GetBool("readout.resync_counter", false),
		DecodeHeaders: c.GetBool("readout.decode_headers", false),

		RandomPauseSoft: c.GetBool("pause.software", false),
		RandomPauseFirm: c.GetBool("pause.firmware", false),
		Pauses:          pauseConfigFromConfig(c),

		LegacyAck:      c.GetBool("readout.legacy_ack", false),
		CumulativeIdle: c.GetBool("readout.cumulative_idle", false),
		LogIdle:        c.GetBool("readout.log_idle", false),

		ResetCard:      c.GetBool("card.reset", false),
		RegisterHammer: c.GetBool("card.register_hammer", false),
		FifoDisplay:    c.GetBool("readout.show_fifo", false),

		BufferPath:         c.GetString("buffer.path", "/var/run/readout-dma-pages"),
		BufferSize:         c.GetInt64("buffer.size", 4*1024*1024),
		BusBase:            uint64(c.GetInt64("buffer.bus_base", 0x10000000)),
		RemoveSharedMemory: c.GetBool("buffer.remove_at_end", false),

		DrainTimeout:     c.GetDuration("readout.drain_timeout", 10*time.Millisecond),
		DisplayInterval:  c.GetDuration("readout.display_interval", 10*time.Millisecond),
		TempLimit:        float64(c.GetInt("card.temperature_limit", 80)),
		TempInterval:     c.GetDuration("card.temperature_interval", 50*time.Millisecond),
		EmulatorThrottle: c.GetDuration("card.emulator_throttle", 0),
	}

	if o.FileOutputASCII && o.FileOutputBin {
		return nil, util.NewContextualError("File output can't be both ASCII and binary", nil, nil)
	}

	if s := c.GetString("readout.check_pattern", ""); s != "" {
		p, err := ParsePattern(s)
		if err != nil {
			return nil, util.NewContextualError("Failed to parse check pattern", map[string]interface{}{"pattern": s}, err)
		}
		o.CheckErrors = true
		o.Pattern = p
	}

	return o, nil
}

// InfinitePages reports whether the run has no page limit.
func (o *Options) InfinitePages() bool {
	return o.MaxPages <= 0
}
