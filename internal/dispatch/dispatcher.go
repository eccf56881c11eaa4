package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency = 16
	DefaultTimeout     = 15 * time.Second
)

type Config struct {
	// Concurrency caps how many dispatched tasks run at once.
	Concurrency int64
	// Timeout bounds each task, including the time spent waiting for a slot.
	Timeout time.Duration
}

// Dispatcher runs fire-and-forget side effects outside of the request
// that triggered them. Tasks are not retried; their errors are logged.
type Dispatcher struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

func New(cfg Config, log *slog.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		timeout: cfg.Timeout,
		log:     log,
	}
}

// Go starts fn in its own goroutine. The task keeps the values of ctx but
// not its cancellation, so it outlives the request that scheduled it.
func (d *Dispatcher) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.sem.Acquire(runCtx, 1); err != nil {
			d.log.Warn("dispatch dropped", slog.String("task", name), slog.Any("err", err))
			return
		}
		defer d.sem.Release(1)

		start := time.Now()
		if err := d.run(runCtx, fn); err != nil {
			d.log.Warn("dispatch failed",
				slog.String("task", name),
				slog.Any("err", err),
				slog.Duration("took", time.Since(start)),
			)
			return
		}

		d.log.Debug("dispatch done", slog.String("task", name), slog.Duration("took", time.Since(start)))
	}()
}

func (d *Dispatcher) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return fn(ctx)
}

// Wait blocks until every dispatched task has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
