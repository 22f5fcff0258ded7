package readout

import (
	"testing"
	"time"

	"github.com/daqline/readout/config"
	"github.com/daqline/readout/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptionsDefaults(t *testing.T) {
	c := config.NewC(util.NewTestLogger())
	require.NoError(t, c.LoadString("{}"))

	o, err := NewOptions(c)
	require.NoError(t, err)

	assert.Equal(t, int64(1500), o.MaxPages)
	assert.False(t, o.InfinitePages())
	assert.False(t, o.CheckErrors)
	assert.Equal(t, 10*time.Millisecond, o.DrainTimeout)
	assert.Equal(t, int64(4*1024*1024), o.BufferSize)
	assert.True(t, o.RunLog)
}

func TestNewOptionsPattern(t *testing.T) {
	c := config.NewC(util.NewTestLogger())
	require.NoError(t, c.LoadString("readout:\n  check_pattern: alternating\n"))

	o, err := NewOptions(c)
	require.NoError(t, err)
	assert.True(t, o.CheckErrors)
	assert.Equal(t, PatternAlternating, o.Pattern)

	require.NoError(t, c.LoadString("readout:\n  check_pattern: bogus\n"))
	_, err = NewOptions(c)
	assert.Error(t, err)
}

func TestNewOptionsRejectsDoubleSink(t *testing.T) {
	c := config.NewC(util.NewTestLogger())
	require.NoError(t, c.LoadString("readout:\n  to_file_ascii: true\n  to_file_bin: true\n"))

	_, err := NewOptions(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ASCII")
}

func TestNewOptionsInfinitePages(t *testing.T) {
	c := config.NewC(util.NewTestLogger())
	require.NoError(t, c.LoadString("readout:\n  pages: 0\n"))

	o, err := NewOptions(c)
	require.NoError(t, err)
	assert.True(t, o.InfinitePages())
}
