// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package reactor

import (
	"fmt"
	"os"
	"time"
)

// reactorOptions holds configuration options for Reactor creation.
type reactorOptions struct {
	logger         *Logger
	clock          Clock
	onSigchld      func(os.Signal)
	backend        Backend
	maxWait        time.Duration
	poolMin        int
	poolMax        int
	signalHandlers bool
	loopbackWaker  bool
	metricsEnabled bool
	debugCalls     bool
}

// --- Reactor Options ---

// Option configures a Reactor instance.
type Option interface {
	applyReactor(*reactorOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyReactorFunc func(*reactorOptions) error
}

func (o *optionImpl) applyReactor(opts *reactorOptions) error {
	return o.applyReactorFunc(opts)
}

// WithBackend selects the demultiplexer. BackendDefault (the default) picks
// the best facility for the platform. New fails with ErrBackendUnsupported
// if the backend is unavailable.
func WithBackend(b Backend) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		if b < BackendDefault || b > BackendIOCP {
			return fmt.Errorf("%w: %s", ErrBackendUnsupported, b)
		}
		opts.backend = b
		return nil
	}}
}

// WithLogger sets the structured logger. A nil logger (the default)
// disables logging.
func WithLogger(logger *Logger) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithClock sets the time source for delayed calls. Defaults to
// MonotonicClock. A ManualClock does not advance on its own, so the loop
// still blocks in the OS wait for the computed timeout.
func WithClock(clock Clock) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		if clock == nil {
			clock = MonotonicClock{}
		}
		opts.clock = clock
		return nil
	}}
}

// WithSignalHandlers sets whether Run installs handlers that stop the
// reactor on SIGINT and SIGTERM (and SIGBREAK on Windows). Enabled by
// default. Interleave never installs handlers.
func WithSignalHandlers(enabled bool) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		opts.signalHandlers = enabled
		return nil
	}}
}

// WithSigchldHandler sets a function called on the I/O goroutine whenever
// SIGCHLD is received during Run. Ignored on Windows, or when signal
// handlers are disabled.
func WithSigchldHandler(fn func(os.Signal)) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		opts.onSigchld = fn
		return nil
	}}
}

// WithLoopbackWaker wakes the loop using a connected pair of loopback TCP
// sockets rather than a pipe. Not supported on Windows.
func WithLoopbackWaker(enabled bool) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		opts.loopbackWaker = enabled
		return nil
	}}
}

// WithMetrics enables runtime metrics collection.
// When enabled, metrics can be accessed via Reactor.Metrics().
func WithMetrics(enabled bool) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithThreadPoolSize sets the bounds of the pool created by GetThreadPool.
// Defaults to 0 and 10.
func WithThreadPoolSize(min, max int) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		if err := validatePoolSize(min, max); err != nil {
			return err
		}
		opts.poolMin, opts.poolMax = min, max
		return nil
	}}
}

// WithMaxWait caps how long a single OS wait may block, below the
// backend's own limit. Zero (the default) means no additional cap.
func WithMaxWait(d time.Duration) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		if d < 0 {
			return fmt.Errorf("reactor: negative max wait: %v", d)
		}
		opts.maxWait = d
		return nil
	}}
}

// WithDebugCalls records the scheduling stack of every delayed call, for
// DelayedCall.String. This is expensive.
func WithDebugCalls(enabled bool) Option {
	return &optionImpl{func(opts *reactorOptions) error {
		opts.debugCalls = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to reactorOptions.
func resolveOptions(opts []Option) (*reactorOptions, error) {
	cfg := &reactorOptions{
		clock:          MonotonicClock{},
		poolMin:        0,
		poolMax:        10,
		signalHandlers: true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyReactor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
