package reactor

import (
	"os"
	"os/signal"
	"slices"
	"sync"
)

// installSignals routes shutdown signals (and SIGCHLD, given a handler) to
// the I/O goroutine until the returned function is called.
func (r *Reactor) installSignals() (uninstall func()) {
	sigs := slices.Clone(shutdownSignals)
	if r.opts.onSigchld != nil {
		sigs = append(sigs, childSignals...)
	}

	ch := make(chan os.Signal, 8)
	signal.Notify(ch, sigs...)

	var (
		done = make(chan struct{})
		wg   sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				r.handleSignal(sig)
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
		wg.Wait()
	}
}

func (r *Reactor) handleSignal(sig os.Signal) {
	if slices.Contains(childSignals, sig) {
		if fn := r.opts.onSigchld; fn != nil {
			r.CallFromThread(func() { fn(sig) })
		}
		return
	}
	r.logger.Notice().
		Str("reactor", r.id).
		Stringer("signal", sig).
		Log(`received signal, shutting down`)
	r.CallFromThread(func() {
		if err := r.Stop(); err != nil {
			r.logger.Debug().
				Str("reactor", r.id).
				Err(err).
				Log(`signal ignored`)
		}
	})
}
