//go:build unix

// Command reactord runs a reactor hosting a TCP echo service, with an
// optional Prometheus endpoint and a periodic heartbeat log line.
//
// Usage:
//
//	reactord [-config reactord.toml] [-backend epoll] [-listen 127.0.0.1:7007]
//	         [-metrics :9100] [-log-level info] [-pidfile /run/reactord.pid]
//
// Flags override values from the config file. SIGINT or SIGTERM stops the
// reactor, which closes every connection before exiting. The command
// builds on unix systems only.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/google/renameio/v2"
	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/go-reactor/internal/config"
	"github.com/joeycumines/stumpy"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "reactord: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(stderr)),
		stumpy.L.WithLevel(level),
	).Logger()

	opts, err := cfg.ReactorOptions(logger)
	if err != nil {
		return err
	}
	r, err := reactor.New(opts...)
	if err != nil {
		return err
	}

	if cfg.PIDFile != "" {
		if err := renameio.WriteFile(cfg.PIDFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
			_ = r.Close()
			return fmt.Errorf("write pid file: %w", err)
		}
		defer os.Remove(cfg.PIDFile)
	}

	g, ctx := errgroup.WithContext(ctx)

	closeMetrics := func() {}
	if cfg.MetricsAddr != "" {
		if closeMetrics, err = serveMetrics(g, r, cfg, logger); err != nil {
			_ = r.Close()
			return err
		}
	}

	if cfg.Listen != "" {
		r.CallWhenRunning(func() {
			if err := startEcho(r, cfg.Listen, logger); err != nil {
				logger.Err().
					Str("addr", cfg.Listen).
					Err(err).
					Log(`echo service failed to start`)
				_ = r.Stop()
			}
		})
	}

	if cfg.Heartbeat.Duration > 0 {
		hb := reactor.NewLoopingCall(r, func() error {
			heartbeat(r, logger)
			return nil
		})
		r.CallWhenRunning(func() {
			if _, err := hb.Start(cfg.Heartbeat.Duration, false); err != nil {
				logger.Warning().Err(err).Log(`heartbeat not started`)
			}
		})
		if _, err := r.AddSystemEventTrigger(reactor.PhaseBefore, reactor.EventShutdown, func() { _ = hb.Stop() }); err != nil {
			_ = r.Close()
			return err
		}
	}

	g.Go(func() error {
		defer closeMetrics()
		return r.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func parseFlags(args []string, stderr io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("reactord", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		path     = fs.String("config", "", "path to a .toml or .yaml config file")
		backend  = fs.String("backend", "", "demultiplexer: select, poll, epoll, kqueue or iocp")
		listen   = fs.String("listen", "", "echo service address")
		metrics  = fs.String("metrics", "", "Prometheus listen address")
		logLevel = fs.String("log-level", "", "log level")
		pidFile  = fs.String("pidfile", "", "pid file path")
	)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *path != "" {
		var err error
		if cfg, err = config.Load(*path); err != nil {
			return config.Config{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backend
		case "listen":
			cfg.Listen = *listen
		case "metrics":
			cfg.MetricsAddr = *metrics
		case "log-level":
			cfg.LogLevel = *logLevel
		case "pidfile":
			cfg.PIDFile = *pidFile
		}
	})

	return cfg, cfg.Validate()
}

func heartbeat(r *reactor.Reactor, logger *reactor.Logger) {
	m := r.Metrics()
	logger.Info().
		Str("reactor", r.ID()).
		Uint64("iterations", m.Iterations).
		Int("readers", m.Readers).
		Int("writers", m.Writers).
		Int("pending_timers", m.PendingTimers).
		Dur("wait_p99", m.Wait.P99).
		Log(`heartbeat`)

	// ReadMemStats stops the world
	err := r.CallInThreadWithCallback(func() (any, error) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return ms.HeapAlloc, nil
	}, func(v any, err error) {
		if err != nil {
			return
		}
		logger.Debug().
			Uint64("heap_alloc", v.(uint64)).
			Int("goroutines", runtime.NumGoroutine()).
			Log(`memory`)
	})
	if err != nil {
		logger.Debug().Err(err).Log(`memory stats skipped`)
	}
}
