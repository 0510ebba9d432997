package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	cfg, err := Decode(strings.NewReader(`
log:
  level: debug
  format: JSON
trace:
  exporter: stdout
session:
  read_timeout: 750ms
  handshake_attempts: 6
  exchange_attempts: 2
`))
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "stdout", cfg.Trace.Exporter)
	assert.Equal(t, 750*time.Millisecond, cfg.Session.ReadTimeout)
	assert.Equal(t, 1, cfg.Session.Parallel)
	assert.Len(t, cfg.Options(), 3)
}

func TestDecodeEmpty(t *testing.T) {
	cfg, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Equal(t, "noop", cfg.Trace.Exporter)
	assert.Empty(t, cfg.Options())
}

func TestValidate(t *testing.T) {
	for _, c := range []struct {
		name string
		yaml string
		want string
	}{
		{"level", "log: {level: loud}", "log.level"},
		{"format", "log: {format: xml}", "log.format"},
		{"exporter", "trace: {exporter: jaeger}", "trace.exporter"},
		{"timeout", "session: {read_timeout: -1s}", "durations"},
		{"attempts", "session: {exchange_attempts: -2}", "attempts"},
		{"parallel", "session: {parallel: -1}", "session.parallel"},
		{"unknown field", "colour: blue", "colour"},
	} {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(c.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.want)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.yaml"), true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(dir, "missing.yaml"), false)
	assert.Error(t, err)
}

func TestRegistryOverlay(t *testing.T) {
	dir := t.TempDir()
	devices := filepath.Join(dir, "devices.yaml")
	require.NoError(t, os.WriteFile(devices, []byte(`
devices:
  - base: generic/stream-s1
    vendor: Acme
    product: Reef
    model_id: "53440901"
`), 0o644))

	path := filepath.Join(dir, "divedl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("devices: "+devices+"\n"), 0o644))

	cfg, err := Load(path, false)
	require.NoError(t, err)
	reg, err := cfg.Registry()
	require.NoError(t, err)

	d, err := reg.Lookup("acme/reef")
	require.NoError(t, err)
	assert.Equal(t, []byte{'S', 'D', 0x09, 0x01}, d.ModelID)
	_, err = reg.Lookup("generic/memory-m2")
	assert.NoError(t, err)
}
