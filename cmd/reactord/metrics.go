//go:build unix

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/go-reactor/internal/config"
	"github.com/joeycumines/go-reactor/reactorprom"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// serveMetrics starts the Prometheus endpoint on g. The server is shut
// down gracefully before the reactor's shutdown proceeds. The returned
// func closes it outright, for when the reactor exits some other way.
func serveMetrics(g *errgroup.Group, r *reactor.Reactor, cfg config.Config, logger *reactor.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		reactorprom.NewCollector(r, "reactor"),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ln, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           reactorprom.Handler(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	_, err = r.AddAsyncSystemEventTrigger(reactor.PhaseBefore, reactor.EventShutdown, func() <-chan error {
		ch := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
			defer cancel()
			ch <- srv.Shutdown(ctx)
		}()
		return ch
	})
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	logger.Info().
		Str("addr", ln.Addr().String()).
		Log(`serving metrics`)

	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			_ = r.Stop()
			return err
		}
		return nil
	})

	return func() { _ = srv.Close() }, nil
}
