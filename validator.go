package readout

import (
	"fmt"
	"strings"

	"github.com/daqline/readout/hwio"
)

// Pattern identifies what the card's data generator writes at every
// patternStride-th word of a page.
type Pattern uint8

const (
	PatternIncremental Pattern = iota + 1
	PatternAlternating
	PatternConstant
)

const (
	alternatingValue uint32 = 0xa5a5a5a5
	constantValue    uint32 = 0x12345678
)

// ParsePattern maps a config string to a Pattern. An unknown name is a
// configuration inconsistency and fatal, never a data error.
func ParsePattern(s string) (Pattern, error) {
	switch strings.ToUpper(s) {
	case "INCREMENTAL":
		return PatternIncremental, nil
	case "ALTERNATING":
		return PatternAlternating, nil
	case "CONSTANT":
		return PatternConstant, nil
	}
	return 0, fmt.Errorf("unrecognized generator pattern %q", s)
}

func (p Pattern) String() string {
	switch p {
	case PatternIncremental:
		return "incremental"
	case PatternAlternating:
		return "alternating"
	case PatternConstant:
		return "constant"
	}
	return "unknown"
}

// GeneratorCode returns the register value selecting p on the card.
func (p Pattern) GeneratorCode() uint32 {
	switch p {
	case PatternAlternating:
		return hwio.GeneratorAlternating
	case PatternConstant:
		return hwio.GeneratorConstant
	default:
		return hwio.GeneratorIncremental
	}
}

// Validator checks page content against the generator pattern. The
// generator's absolute start value is unknown, so the counter seeds itself
// from the first word of the first page and advances by the per-page
// pattern count from there.
type Validator struct {
	pattern Pattern
	resync  bool

	counter int64
	seeded  bool

	errorCount int64
	recorded   []string
	maxRecords int
}

// NewValidator builds a validator for pattern. resync makes a mismatch
// re-seed the counter from observed data so monitoring stays useful after
// a desync, at the cost of masking repeats of the same error.
func NewValidator(pattern Pattern, resync bool) (*Validator, error) {
	switch pattern {
	case PatternIncremental, PatternAlternating, PatternConstant:
	default:
		return nil, fmt.Errorf("unrecognized generator pattern %d", pattern)
	}

	return &Validator{
		pattern:    pattern,
		resync:     resync,
		maxRecords: maxRecordedErrors,
	}, nil
}

// Check verifies one page and advances the counter. It reports whether the
// page held a mismatch.
func (v *Validator) Check(words []uint32, eventNumber int64, pageIndex int) bool {
	if !v.seeded {
		v.counter = int64(words[0])
		v.seeded = true
	}

	hasError := false
	for i := 0; i < len(words); i += patternStride {
		expected := v.expected(i)
		actual := words[i]
		if actual == expected {
			continue
		}

		v.errorCount++
		if len(v.recorded) < v.maxRecords {
			v.recorded = append(v.recorded,
				fmt.Sprintf("Error @ event:%d page:%d i:%d exp:0x%x val:0x%x", eventNumber, pageIndex, i, expected, actual))
		}
		hasError = true
		break
	}

	if hasError && v.resync {
		v.counter = int64(words[0])
	}

	if v.pattern == PatternIncremental {
		v.counter += int64(len(words) / patternStride)
	}
	return hasError
}

func (v *Validator) expected(wordIndex int) uint32 {
	switch v.pattern {
	case PatternAlternating:
		return alternatingValue
	case PatternConstant:
		return constantValue
	default:
		return uint32(v.counter) + uint32(wordIndex/patternStride)
	}
}

// ErrorCount returns the number of mismatching pages seen so far.
func (v *Validator) ErrorCount() int64 {
	return v.errorCount
}

// RecordedErrors returns the bounded diagnostic lines, one per recorded
// mismatch.
func (v *Validator) RecordedErrors() []string {
	return v.recorded
}
