package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// TaskKind names the work a trigger asks for.
type TaskKind string

const (
	TaskSyncListing        TaskKind = "sync_listing"
	TaskSyncPOI            TaskKind = "sync_poi"
	TaskRecomputeValuation TaskKind = "recompute_valuation"
)

// Task is a fire-and-forget trigger. ID is a listing ID, or a POI ID for
// TaskSyncPOI.
type Task struct {
	Kind       TaskKind  `json:"kind"`
	ID         uint      `json:"id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// TaskError is reported on the error channel when a handler fails.
type TaskError struct {
	Task Task
	Err  error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("%s %d: %v", e.Task.Kind, e.Task.ID, e.Err)
}

func (e TaskError) Unwrap() error {
	return e.Err
}

// Handler executes a task.
type Handler func(ctx context.Context, task Task) error

type Option func(*TriggerQueue)

// WithWorkers sets the number of goroutines executing tasks.
func WithWorkers(n int) Option {
	return func(q *TriggerQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithRateLimit bounds how many tasks start per second. A non-positive rate
// disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(q *TriggerQueue) {
		if perSecond <= 0 {
			q.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// TriggerQueue is an in-memory queue of trigger tasks executed by a pool of
// workers. Handler failures are published on Errors.
type TriggerQueue struct {
	items    chan Task
	errs     chan TaskError
	maxSize  int
	workers  int
	limiter  *rate.Limiter
	closed   bool
	started  bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *logrus.Logger
	handlers []Handler
}

// NewTriggerQueue creates a new trigger queue with the specified buffer size
func NewTriggerQueue(bufferSize int, logger *logrus.Logger, opts ...Option) *TriggerQueue {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &TriggerQueue{
		items:    make(chan Task, bufferSize),
		errs:     make(chan TaskError, bufferSize),
		maxSize:  bufferSize,
		workers:  1,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		handlers: make([]Handler, 0),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push adds a task to the queue without blocking.
func (q *TriggerQueue) Push(task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	select {
	case q.items <- task:
		q.logger.WithFields(logrus.Fields{
			"kind": task.Kind,
			"id":   task.ID,
		}).Debug("Pushed task to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe adds a handler function that will be called for each task
func (q *TriggerQueue) Subscribe(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start launches the workers. Calling it more than once has no effect.
func (q *TriggerQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.process()
	}
}

// Errors returns the channel handler failures are published on. It is closed
// once the queue is closed and its workers have exited. Failures are dropped
// when nobody drains the channel.
func (q *TriggerQueue) Errors() <-chan TaskError {
	return q.errs
}

// process runs tasks until the queue is closed and drained
func (q *TriggerQueue) process() {
	defer q.wg.Done()

	for task := range q.items {
		if err := q.limiter.Wait(q.ctx); err != nil {
			q.logger.WithError(err).WithField("kind", task.Kind).Warn("Dropping task, queue stopped")
			continue
		}
		q.processTask(task)
	}
}

// processTask sends the task to all subscribed handlers
func (q *TriggerQueue) processTask(task Task) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(q.ctx, task); err != nil {
			q.logger.WithError(err).WithFields(logrus.Fields{
				"kind": task.Kind,
				"id":   task.ID,
			}).Error("Handler failed to process task")
			q.report(TaskError{Task: task, Err: err})
		}
	}
}

func (q *TriggerQueue) report(taskErr TaskError) {
	select {
	case q.errs <- taskErr:
	default:
		q.logger.WithField("kind", taskErr.Task.Kind).Warn("Error channel full, dropping task error")
	}
}

// Close stops accepting tasks, lets the workers finish the pending ones and
// closes the error channel.
func (q *TriggerQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.items)
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
	close(q.errs)
	return nil
}

// Shutdown is Close bounded by ctx. When ctx ends first, pending tasks are
// dropped, in-flight handlers see their context cancelled and Shutdown
// returns without waiting for them. The error channel is closed once the
// last handler returns.
func (q *TriggerQueue) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = q.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}

// Len returns the current number of tasks in the queue
func (q *TriggerQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *TriggerQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
