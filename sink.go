package readout

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/daqline/readout/util"
)

// Default output paths, overridable through config.
const (
	errorsPathDefault  = "readout_errors.txt"
	asciiPathDefault   = "readout_data.txt"
	binPathDefault     = "readout_data.bin"
	idleLogPathDefault = "readout_idle_log.txt"
	runLogFormat       = "readout_log_%d.txt"
)

// pageWriter receives the content of every read-out page.
type pageWriter interface {
	WritePage(eventNumber int64, pageIndex int, words []uint32) error
	Close() error
}

// asciiPageWriter emits one line per eight 32-bit words, each page
// prefixed with its event and buffer number and followed by a blank line.
type asciiPageWriter struct {
	f *os.File
	w *bufio.Writer
}

func newASCIIPageWriter(path string) (*asciiPageWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &asciiPageWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (a *asciiPageWriter) WritePage(eventNumber int64, pageIndex int, words []uint32) error {
	const perLine = 8

	fmt.Fprintf(a.w, "Event #%d Buffer #%d\n", eventNumber, pageIndex)
	for i := 0; i < len(words); i += perLine {
		var sb strings.Builder
		for j := 0; j < perLine && i+j < len(words); j++ {
			fmt.Fprintf(&sb, "%d ", words[i+j])
		}
		sb.WriteByte('\n')
		if _, err := a.w.WriteString(sb.String()); err != nil {
			return err
		}
	}
	return a.w.WriteByte('\n')
}

func (a *asciiPageWriter) Close() error {
	if err := a.w.Flush(); err != nil {
		a.f.Close()
		return err
	}
	return a.f.Close()
}

// binPageWriter emits the exact page bytes with no framing.
type binPageWriter struct {
	f   *os.File
	w   *bufio.Writer
	buf []byte
}

func newBinPageWriter(path string) (*binPageWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &binPageWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (b *binPageWriter) WritePage(_ int64, _ int, words []uint32) error {
	if len(b.buf) < len(words)*4 {
		b.buf = make([]byte, len(words)*4)
	}
	for i, w := range words {
		binary.LittleEndian.PutUint32(b.buf[4*i:], w)
	}
	_, err := b.w.Write(b.buf[:len(words)*4])
	return err
}

func (b *binPageWriter) Close() error {
	if err := b.w.Flush(); err != nil {
		b.f.Close()
		return err
	}
	return b.f.Close()
}

// newPageWriter builds the configured export sink, or nil when export is
// off. Selecting both formats is a configuration error.
func newPageWriter(o *Options) (pageWriter, error) {
	if o.FileOutputASCII && o.FileOutputBin {
		return nil, util.NewContextualError("File output can't be both ASCII and binary", nil, nil)
	}

	switch {
	case o.FileOutputASCII:
		return newASCIIPageWriter(o.ASCIIPath)
	case o.FileOutputBin:
		return newBinPageWriter(o.BinPath)
	default:
		return nil, nil
	}
}

// writeErrorFile overwrites path with the recorded mismatch lines.
func writeErrorFile(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, err = fmt.Fprintln(f, line); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// runLog is the timestamped per-run log file mirroring the status table
// and the final summary.
type runLog struct {
	f *os.File
	w *bufio.Writer
}

func newRunLog(startUnix int64) (*runLog, error) {
	f, err := os.Create(fmt.Sprintf(runLogFormat, startUnix))
	if err != nil {
		return nil, err
	}
	r := &runLog{f: f, w: bufio.NewWriter(f)}
	fmt.Fprintf(r.w, "# Time %d\n", startUnix)
	return r, nil
}

func (r *runLog) Printf(format string, args ...any) {
	if r == nil {
		return
	}
	fmt.Fprintf(r.w, format, args...)
}

func (r *runLog) Write(p []byte) (int, error) {
	if r == nil {
		return len(p), nil
	}
	return r.w.Write(p)
}

func (r *runLog) Close() error {
	if r == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return err
	}
	return r.f.Close()
}
