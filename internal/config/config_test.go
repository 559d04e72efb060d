package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_toml(t *testing.T) {
	path := writeFile(t, "reactord.toml", `
backend = "poll"
log_level = "debug"
listen = "127.0.0.1:9000"
metrics_addr = ":9100"
pid_file = "/tmp/reactord.pid"
heartbeat = "2s"
max_wait = "250ms"
loopback_waker = true

[thread_pool]
min = 1
max = 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Backend = "poll"
	want.LogLevel = "debug"
	want.Listen = "127.0.0.1:9000"
	want.MetricsAddr = ":9100"
	want.PIDFile = "/tmp/reactord.pid"
	want.Heartbeat = Duration{2 * time.Second}
	want.MaxWait = Duration{250 * time.Millisecond}
	want.LoopbackWaker = true
	want.ThreadPool = ThreadPool{Min: 1, Max: 4}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("unexpected config (-want +got):\n%s", diff)
	}
}

func TestLoad_yaml(t *testing.T) {
	path := writeFile(t, "reactord.yml", `
backend: select
heartbeat: 1m
thread_pool:
  min: 2
  max: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "select", cfg.Backend)
	assert.Equal(t, time.Minute, cfg.Heartbeat.Duration)
	assert.Equal(t, ThreadPool{Min: 2, Max: 2}, cfg.ThreadPool)
	// untouched fields keep their defaults
	assert.Equal(t, Default().Listen, cfg.Listen)
	assert.Equal(t, Default().ShutdownTimeout, cfg.ShutdownTimeout)
}

func TestLoad_emptyYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_errors(t *testing.T) {
	for _, tc := range []struct {
		name, file, content, contains string
	}{
		{"unknown toml key", "a.toml", `nope = 1`, "unknown keys"},
		{"unknown yaml key", "a.yaml", `nope: 1`, "decode"},
		{"bad duration", "a.toml", `heartbeat = "soon"`, "decode"},
		{"bad extension", "a.ini", ``, "unsupported file extension"},
		{"bad backend", "a.toml", `backend = "io_uring"`, "unknown backend"},
		{"bad level", "a.yaml", `log_level: loud`, "unknown log level"},
		{"bad pool", "a.toml", "[thread_pool]\nmin = 3\nmax = 2", "invalid thread pool size"},
		{"negative duration", "a.toml", `max_wait = "-1s"`, "max_wait must not be negative"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.contains)
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate_joinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Backend = "bogus"
	cfg.LogLevel = "bogus"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
	assert.Contains(t, err.Error(), "unknown log level")
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel(" Warning ")
	require.NoError(t, err)
	assert.Equal(t, logiface.LevelWarning, l)

	l, err = ParseLevel("info")
	require.NoError(t, err)
	assert.Equal(t, logiface.LevelInformational, l)
}

func TestConfig_ReactorOptions(t *testing.T) {
	opts, err := Default().ReactorOptions(nil)
	require.NoError(t, err)
	assert.Len(t, opts, 6)

	cfg := Default()
	cfg.Backend = "nope"
	_, err = cfg.ReactorOptions(nil)
	assert.Error(t, err)
}

func TestDuration_text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1h2m")))
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1h2m0s", string(b))
}
