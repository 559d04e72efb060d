// Package config loads reactord configuration from TOML or YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
	"gopkg.in/yaml.v3"
)

// Config is the reactord configuration.
type Config struct {
	// Backend is a reactor.Backend name. Empty selects the platform default.
	Backend string `toml:"backend" yaml:"backend"`
	// LogLevel is a logiface level name, e.g. "info" or "debug".
	LogLevel string `toml:"log_level" yaml:"log_level"`
	// Listen is the echo service address. Empty disables it.
	Listen string `toml:"listen" yaml:"listen"`
	// MetricsAddr is the Prometheus HTTP address. Empty disables it.
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`
	// PIDFile, if set, is written atomically at startup and removed on exit.
	PIDFile string `toml:"pid_file" yaml:"pid_file"`

	ThreadPool ThreadPool `toml:"thread_pool" yaml:"thread_pool"`

	// Heartbeat is the interval of the heartbeat log line. Zero disables it.
	Heartbeat Duration `toml:"heartbeat" yaml:"heartbeat"`
	// MaxWait caps a single OS wait. Zero means no cap.
	MaxWait Duration `toml:"max_wait" yaml:"max_wait"`
	// ShutdownTimeout bounds the metrics server's graceful shutdown.
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`

	LoopbackWaker bool `toml:"loopback_waker" yaml:"loopback_waker"`
}

// ThreadPool bounds the reactor's thread pool.
type ThreadPool struct {
	Min int `toml:"min" yaml:"min"`
	Max int `toml:"max" yaml:"max"`
}

// Duration is a time.Duration written as a string, e.g. "1.5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler, which toml uses.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel:        "info",
		Listen:          "127.0.0.1:7007",
		ThreadPool:      ThreadPool{Min: 0, Max: 10},
		Heartbeat:       Duration{30 * time.Second},
		ShutdownTimeout: Duration{5 * time.Second},
	}
}

// Load reads path over the defaults. The format is chosen by extension:
// ".toml", or ".yaml" / ".yml".
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return Config{}, fmt.Errorf("config: unknown keys in %s: %v", path, undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// an empty document leaves the defaults
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("config: unsupported file extension %q", ext)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field, reporting all problems at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := reactor.ParseBackend(c.Backend); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.ThreadPool.Min < 0 || c.ThreadPool.Max < 1 || c.ThreadPool.Max < c.ThreadPool.Min {
		errs = append(errs, fmt.Errorf("config: invalid thread pool size: min=%d max=%d", c.ThreadPool.Min, c.ThreadPool.Max))
	}
	for name, d := range map[string]Duration{
		"heartbeat":        c.Heartbeat,
		"max_wait":         c.MaxWait,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		if d.Duration < 0 {
			errs = append(errs, fmt.Errorf("config: %s must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// ReactorOptions translates the configuration into reactor options. The
// logger is supplied by the caller.
func (c Config) ReactorOptions(logger *reactor.Logger) ([]reactor.Option, error) {
	backend, err := reactor.ParseBackend(c.Backend)
	if err != nil {
		return nil, err
	}
	return []reactor.Option{
		reactor.WithBackend(backend),
		reactor.WithLogger(logger),
		reactor.WithThreadPoolSize(c.ThreadPool.Min, c.ThreadPool.Max),
		reactor.WithMaxWait(c.MaxWait.Duration),
		reactor.WithLoopbackWaker(c.LoopbackWaker),
		reactor.WithMetrics(c.MetricsAddr != ""),
	}, nil
}

var levels = map[string]logiface.Level{
	"disabled":  logiface.LevelDisabled,
	"emergency": logiface.LevelEmergency,
	"alert":     logiface.LevelAlert,
	"critical":  logiface.LevelCritical,
	"error":     logiface.LevelError,
	"warning":   logiface.LevelWarning,
	"notice":    logiface.LevelNotice,
	"info":      logiface.LevelInformational,
	"debug":     logiface.LevelDebug,
	"trace":     logiface.LevelTrace,
}

// ParseLevel converts a level name to a logiface.Level.
func ParseLevel(s string) (logiface.Level, error) {
	if l, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", s)
}
