// Package driver runs the outer schedule loop that turns IdleWatcher
// results into TimeoutTable executions, the way original_source's
// src/main.c drives idle.c and timeouts.c together.
package driver

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"xs-timeout/internal/idlewatcher"
	"xs-timeout/internal/timeouttable"
)

// Waiter is the subset of *idlewatcher.Watcher the driver depends on,
// narrowed so tests can supply a fake without an X connection. It is
// exported so callers can write a rebuild factory for New without
// needing to name an unexported type.
type Waiter interface {
	Wait(ctx context.Context, timeoutMs uint32) (idlewatcher.Result, error)
	Reset() error
	Close()
}

// Driver owns one TimeoutTable and one watcher and runs the schedule
// loop that keeps them in sync.
type Driver struct {
	table    *timeouttable.Table
	newWatch func() (Waiter, error)

	restart atomic.Bool
	suspend atomic.Bool

	mu            sync.Mutex
	watch         Waiter
	cancelCurrent context.CancelFunc
}

// New builds a Driver over an already-built watcher. newWatch re-opens
// the watcher after a SIGTSTP/SIGCONT suspend cycle, matching spec
// §5's "drop the display connection ... upon resume re-create the
// watcher".
func New(table *timeouttable.Table, watch Waiter, newWatch func() (Waiter, error)) *Driver {
	return &Driver{table: table, watch: watch, newWatch: newWatch}
}

// RequestRestart marks the driver for a reset-and-recompute on its next
// loop iteration. Safe to call from any goroutine, including a signal
// handler.
func (d *Driver) RequestRestart() {
	d.restart.Store(true)
}

func (d *Driver) currentWatch() Waiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watch
}

func (d *Driver) setWatch(w Waiter) {
	d.mu.Lock()
	d.watch = w
	d.mu.Unlock()
}

// Run drives the schedule loop until ctx is cancelled or the watcher
// reports an unrecoverable error. It installs its own signal watcher
// for SIGTSTP/SIGCONT/SIGALRM and closes the watcher on return.
//
// All watcher lifecycle changes (Close, rebuild, Reset) happen on this
// single goroutine; watchSignals only flags what's needed and cancels
// whatever Wait call is currently in flight, so there is never a
// second goroutine touching the watcher concurrently with this loop.
func (d *Driver) Run(ctx context.Context) error {
	sigCtx, stopSignals := context.WithCancel(ctx)
	defer stopSignals()
	go d.watchSignals(sigCtx)
	defer func() {
		if w := d.currentWatch(); w != nil {
			w.Close()
		}
	}()

	prevThreshold := timeouttable.ResetThreshold

	for {
		if ctx.Err() != nil {
			return nil
		}

		if d.suspend.Swap(false) {
			if w := d.currentWatch(); w != nil {
				w.Close()
			}
			syscall.Kill(syscall.Getpid(), syscall.SIGSTOP)
			// Execution resumes here once SIGCONT is delivered and
			// the kernel actually continues the process.
			newWatch, err := d.newWatch()
			if err != nil {
				return err
			}
			d.setWatch(newWatch)
			d.restart.Store(true)
		}

		if d.restart.Swap(false) {
			if err := d.currentWatch().Reset(); err != nil {
				return err
			}
			d.table.ExecReset()
			prevThreshold = timeouttable.ResetThreshold
		}

		threshold, ok := d.table.Next(prevThreshold)
		if !ok {
			threshold = 0
		}

		waitCtx, cancel := context.WithCancel(ctx)
		d.mu.Lock()
		d.cancelCurrent = cancel
		watch := d.watch
		d.mu.Unlock()

		result, err := watch.Wait(waitCtx, threshold)
		cancel()

		if err != nil {
			if result == idlewatcher.ResultInterrupted {
				// Either ctx was cancelled (picked up at the top of
				// the loop) or a signal handler requested a restart;
				// either way, loop back around.
				continue
			}
			return err
		}

		switch result {
		case idlewatcher.ResultTimeout:
			d.table.ExecRange(prevThreshold, threshold)
			prevThreshold = threshold
		case idlewatcher.ResultUnidle:
			d.table.ExecReset()
			prevThreshold = timeouttable.ResetThreshold
		}
	}
}

// watchSignals translates SIGTSTP/SIGCONT/SIGALRM into restart
// requests and cancels whatever Wait call is currently in flight, so a
// restart is observed immediately instead of after the next X alarm
// (possibly never, for an activity-only wait). SIGTSTP requests a
// suspend instead of an immediate restart: Run itself closes the
// watcher, stops the process and rebuilds the watcher before resuming
// the schedule loop.
func (d *Driver) watchSignals(ctx context.Context) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTSTP, syscall.SIGCONT, syscall.SIGALRM)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			d.mu.Lock()
			cancel := d.cancelCurrent
			d.mu.Unlock()
			if cancel != nil {
				cancel()
			}

			if sig == syscall.SIGTSTP {
				d.suspend.Store(true)
			} else {
				d.restart.Store(true)
			}
		}
	}
}
