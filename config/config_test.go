package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/daqline/readout/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Load(t *testing.T) {
	l := util.NewTestLogger()
	dir := t.TempDir()

	// invalid yaml
	c := NewC(l)
	os.WriteFile(filepath.Join(dir, "01.yaml"), []byte(" invalid yaml"), 0644)
	assert.ErrorContains(t, c.Load(dir), "yaml")

	// simple multi config merge, later files win
	c = NewC(l)
	os.RemoveAll(dir)
	os.Mkdir(dir, 0755)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.yaml"), []byte("outer1: hi\nouter2: hi"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02.yml"), []byte("outer2: override\nouter3: hi"), 0644))
	require.NoError(t, c.Load(dir))

	expected := map[string]any{
		"outer1": "hi",
		"outer2": "override",
		"outer3": "hi",
	}
	assert.Equal(t, expected, c.Settings)
}

func TestConfig_Get(t *testing.T) {
	l := util.NewTestLogger()

	c := NewC(l)
	c.Settings["outer"] = map[string]any{"inner": "value"}
	c.Settings["err"] = "notamap"
	assert.Equal(t, "value", c.Get("outer.inner"))
	assert.Nil(t, c.Get("outer.nope"))
	assert.Nil(t, c.Get("err.nope"))
	assert.True(t, c.IsSet("outer.inner"))
	assert.False(t, c.IsSet("outer.nope"))
}

func TestConfig_GetScalars(t *testing.T) {
	l := util.NewTestLogger()

	c := NewC(l)
	require.NoError(t, c.LoadString(`
readout:
  pages: 1500
  check_pattern: incremental
  legacy_ack: yes
  drain_timeout: 10ms
buffer:
  size: 4194304
`))

	assert.Equal(t, int64(1500), c.GetInt64("readout.pages", 0))
	assert.Equal(t, "incremental", c.GetString("readout.check_pattern", ""))
	assert.True(t, c.GetBool("readout.legacy_ack", false))
	assert.False(t, c.GetBool("readout.missing", false))
	assert.Equal(t, 10*time.Millisecond, c.GetDuration("readout.drain_timeout", 0))
	assert.Equal(t, int64(4194304), c.GetInt64("buffer.size", 0))
	assert.Equal(t, 42, c.GetInt("readout.missing", 42))
	assert.Equal(t, uint32(1500), c.GetUint32("readout.pages", 0))
}

func TestConfig_HasChanged(t *testing.T) {
	l := util.NewTestLogger()

	// No reload has occurred, return false
	c := NewC(l)
	c.Settings["test"] = "hi"
	assert.False(t, c.HasChanged(""))

	// Test key change
	c = NewC(l)
	c.Settings["test"] = "hi"
	c.oldSettings = map[string]any{"test": "no"}
	assert.True(t, c.HasChanged("test"))
	assert.True(t, c.HasChanged(""))

	// No key change
	c = NewC(l)
	c.Settings["test"] = "hi"
	c.oldSettings = map[string]any{"test": "hi"}
	assert.False(t, c.HasChanged("test"))
	assert.False(t, c.HasChanged(""))
}

func TestConfig_ReloadConfig(t *testing.T) {
	l := util.NewTestLogger()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.yaml"), []byte("outer:\n  inner: hi"), 0644))

	c := NewC(l)
	require.NoError(t, c.Load(dir))
	assert.False(t, c.HasChanged("outer"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.yaml"), []byte("outer:\n  inner: ho"), 0644))

	done := make(chan bool, 1)
	c.RegisterReloadCallback(func(c *C) {
		done <- true
	})

	c.ReloadConfig()
	assert.True(t, c.HasChanged("outer"))
	assert.False(t, c.HasChanged("missing.key"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for reload callback")
	}
}
