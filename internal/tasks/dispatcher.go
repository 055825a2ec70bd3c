package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Default dispatcher settings.
const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultMaxAttempts = 2
)

// ErrQueueFull is returned by Schedule when the queue has no room left.
// The caller has already committed its mutation at that point, so this
// is logged as a delivery gap rather than rolled back.
var ErrQueueFull = errors.New("task queue full")

// ErrUnknownKind is returned when a task kind has no registered handler.
var ErrUnknownKind = errors.New("no handler registered for task kind")

// DispatcherConfig configures the task dispatcher.
type DispatcherConfig struct {
	// Workers is the number of concurrent task executors.
	Workers int
	// QueueSize is the buffered queue capacity.
	QueueSize int
	// MaxAttempts is the total number of times a failing task runs.
	MaxAttempts int
	// Logger for task activity.
	Logger *slog.Logger
	// Metrics for execution tracking; may be nil.
	Metrics *Metrics
	// Clock drives delayed scheduling; defaults to the real clock.
	Clock clock.Clock
}

// Dispatcher runs scheduled tasks on a pool of workers. Execution is
// at-least-once: a task that errors is re-run until its attempt budget
// is spent, and one task's failure never affects another's.
type Dispatcher struct {
	config DispatcherConfig

	handlersMu sync.RWMutex
	handlers   map[Kind]Handler

	queue chan Task

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given config, applying
// defaults for zero values.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &Dispatcher{
		config:   config,
		handlers: make(map[Kind]Handler),
		queue:    make(chan Task, config.QueueSize),
	}
}

// Register binds a handler to a task kind, replacing any previous one.
// Handlers must be registered before the first task of that kind runs.
func (d *Dispatcher) Register(kind Kind, handler Handler) {
	d.handlersMu.Lock()
	d.handlers[kind] = handler
	d.handlersMu.Unlock()
}

// Schedule enqueues a task to run after delay. A zero delay means "as
// soon as a worker is free".
func (d *Dispatcher) Schedule(delay time.Duration, kind Kind, payload any) error {
	task := Task{
		ID:         uuid.New().String(),
		Kind:       kind,
		Payload:    payload,
		Attempt:    1,
		EnqueuedAt: d.config.Clock.Now(),
	}

	if delay > 0 {
		d.config.Clock.AfterFunc(delay, func() {
			if err := d.enqueue(task); err != nil {
				d.config.Logger.Error("delayed task dropped", "task_id", task.ID, "kind", task.Kind, "error", err)
			}
		})
		return nil
	}
	return d.enqueue(task)
}

func (d *Dispatcher) enqueue(task Task) error {
	select {
	case d.queue <- task:
		if d.config.Metrics != nil {
			d.config.Metrics.SetQueueDepth(len(d.queue))
		}
		return nil
	default:
		if d.config.Metrics != nil {
			d.config.Metrics.IncTaskErrors(task.Kind, "queue_full")
		}
		return fmt.Errorf("%w: dropping %s task %s", ErrQueueFull, task.Kind, task.ID)
	}
}

// Start launches the worker pool. Returns immediately; workers run in
// background goroutines until Stop or context cancellation.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	return nil
}

// Stop signals the workers to stop and waits for in-flight tasks to
// finish. Queued tasks that never ran are dropped; handlers are
// idempotent and superseded state is re-checked on the next run anyway.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	stopCh := d.stopCh
	d.mu.Unlock()

	close(stopCh)
	d.wg.Wait()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// IsRunning returns whether the worker pool is active.
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case task := <-d.queue:
			if d.config.Metrics != nil {
				d.config.Metrics.SetQueueDepth(len(d.queue))
			}
			d.execute(ctx, task)
		}
	}
}

// execute runs a single task, isolating failures: errors and panics are
// logged and counted, never propagated to other tasks or the caller
// that scheduled the work.
func (d *Dispatcher) execute(ctx context.Context, task Task) {
	d.handlersMu.RLock()
	handler, ok := d.handlers[task.Kind]
	d.handlersMu.RUnlock()

	if !ok {
		d.config.Logger.Error("task has no handler", "task_id", task.ID, "kind", task.Kind)
		if d.config.Metrics != nil {
			d.config.Metrics.IncTaskErrors(task.Kind, "unknown_kind")
			d.config.Metrics.IncTasksTotal(task.Kind, StatusFailure)
		}
		return
	}

	start := d.config.Clock.Now()
	err := d.runHandler(ctx, handler, task)
	duration := d.config.Clock.Now().Sub(start).Seconds()

	if d.config.Metrics != nil {
		d.config.Metrics.ObserveTaskDuration(task.Kind, duration)
	}

	if err == nil {
		if d.config.Metrics != nil {
			d.config.Metrics.IncTasksTotal(task.Kind, StatusSuccess)
		}
		return
	}

	d.config.Logger.Error("task failed",
		"task_id", task.ID,
		"kind", task.Kind,
		"attempt", task.Attempt,
		"error", err)
	if d.config.Metrics != nil {
		d.config.Metrics.IncTaskErrors(task.Kind, "handler_error")
	}

	if task.Attempt < d.config.MaxAttempts {
		task.Attempt++
		if enqErr := d.enqueue(task); enqErr != nil {
			d.config.Logger.Error("task retry dropped", "task_id", task.ID, "kind", task.Kind, "error", enqErr)
			if d.config.Metrics != nil {
				d.config.Metrics.IncTasksTotal(task.Kind, StatusFailure)
			}
		}
		return
	}

	if d.config.Metrics != nil {
		d.config.Metrics.IncTasksTotal(task.Kind, StatusFailure)
	}
}

// runHandler invokes the handler, converting panics into errors so a
// misbehaving task cannot take down a worker.
func (d *Dispatcher) runHandler(ctx context.Context, handler Handler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
			if d.config.Metrics != nil {
				d.config.Metrics.IncTaskErrors(task.Kind, "panic")
			}
		}
	}()
	return handler(ctx, task)
}
