package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pesio-ai/be-docflow/internal/logger"
)

// DispatcherConfig sizes the side-effect queue.
type DispatcherConfig struct {
	QueueSize int
	Workers   int
	// Timeout bounds each job. Jobs never inherit the request context.
	Timeout time.Duration
}

type job struct {
	name string
	run  func(context.Context) error
}

// Dispatcher runs post-commit side effects (notifications, realtime events)
// on background workers. Enqueue never blocks; a full queue drops the job
// with a warning. Job errors are logged and never reach the caller.
type Dispatcher struct {
	cfg   DispatcherConfig
	queue chan job
	log   *logger.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher and starts its workers.
func NewDispatcher(cfg DispatcherConfig, log *logger.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	d := &Dispatcher{cfg: cfg, queue: make(chan job, cfg.QueueSize), log: log}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue schedules fn. It reports false when the job was dropped.
func (d *Dispatcher) Enqueue(name string, fn func(context.Context) error) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.log.Warn().Str("job", name).Msg("dispatcher: closed, dropping job")
		return false
	}
	select {
	case d.queue <- job{name: name, run: fn}:
		return true
	default:
		d.log.Warn().Str("job", name).Int("queue_size", d.cfg.QueueSize).Msg("dispatcher: queue full, dropping job")
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

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

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.runJob(j)
	}
}

func (d *Dispatcher) runJob(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Str("job", j.name).Str("panic", fmt.Sprint(r)).Msg("dispatcher: job panicked")
		}
	}()

	if err := j.run(ctx); err != nil {
		d.log.Warn().Err(err).Str("job", j.name).Msg("dispatcher: job failed (non-fatal)")
	}
}
