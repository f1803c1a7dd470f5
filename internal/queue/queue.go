// Package queue runs tasks one at a time in submission order. Each Queue is
// the single driver for whatever state its tasks mutate.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/google/uuid"
)

// Task is one unit of work. It runs with a context that is detached from the
// submitter's cancellation, so a started task always runs to completion.
type Task[T any] func(ctx context.Context) (T, error)

// Meta describes a task for status reporting.
type Meta struct {
	ID         string      `json:"id"`
	Instrument string      `json:"instrument"`
	Side       domain.Side `json:"side,omitempty"`
	Quantity   float64     `json:"quantity,omitempty"`
	Kind       string      `json:"kind,omitempty"`
}

// Handle is a one-shot completion handle created at enqueue time and settled
// exactly once by the worker loop.
type Handle[T any] struct {
	meta   Meta
	done   chan struct{}
	once   sync.Once
	result T
	err    error
}

func newHandle[T any](meta Meta) *Handle[T] {
	return &Handle[T]{meta: meta, done: make(chan struct{})}
}

// Meta returns the metadata the task was enqueued with.
func (h *Handle[T]) Meta() Meta { return h.meta }

// Done is closed once the task has settled.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Wait blocks until the task settles or ctx is done. Abandoning the wait does
// not cancel the task.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (h *Handle[T]) settle(v T, err error) {
	h.once.Do(func() {
		h.result = v
		h.err = err
		close(h.done)
	})
}

type item[T any] struct {
	ctx    context.Context
	task   Task[T]
	handle *Handle[T]
}

// Status is a point-in-time view of a queue.
type Status struct {
	Pending  int    `json:"pending"`
	Active   bool   `json:"active"`
	InFlight []Meta `json:"in_flight"`
}

// Observer receives queue lifecycle callbacks. Used for metrics.
type Observer interface {
	TaskSettled(queue string, d time.Duration, err error)
	QueueDepth(queue string, pending int)
}

// Queue is a FIFO executor with at most one task in flight.
type Queue[T any] struct {
	name     string
	logger   *slog.Logger
	observer Observer

	mu       sync.Mutex
	pending  []item[T]
	active   bool
	inFlight *Meta
	idle     chan struct{}
}

// New creates an idle queue.
func New[T any](name string, observer Observer, logger *slog.Logger) *Queue[T] {
	idle := make(chan struct{})
	close(idle)
	return &Queue[T]{
		name:     name,
		logger:   logger.With(slog.String("component", "queue"), slog.String("queue", name)),
		observer: observer,
		idle:     idle,
	}
}

// Name returns the queue name.
func (q *Queue[T]) Name() string { return q.name }

// Enqueue appends task and starts the worker loop if the queue is idle.
func (q *Queue[T]) Enqueue(ctx context.Context, task Task[T], meta Meta) *Handle[T] {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	h := newHandle[T](meta)

	q.mu.Lock()
	q.pending = append(q.pending, item[T]{ctx: context.WithoutCancel(ctx), task: task, handle: h})
	depth := len(q.pending)
	start := !q.active
	if start {
		q.active = true
		q.idle = make(chan struct{})
	}
	q.mu.Unlock()

	q.reportDepth(depth)
	q.logger.DebugContext(ctx, "queue: task enqueued",
		slog.String("task_id", meta.ID),
		slog.String("instrument", meta.Instrument),
		slog.Int("pending", depth),
	)

	if start {
		go q.loop()
	}
	return h
}

// loop drains the queue. Exactly one loop goroutine exists while active.
func (q *Queue[T]) loop() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.active = false
			q.inFlight = nil
			close(q.idle)
			q.mu.Unlock()
			return
		}
		it := q.pending[0]
		q.pending[0] = item[T]{}
		q.pending = q.pending[1:]
		meta := it.handle.meta
		q.inFlight = &meta
		depth := len(q.pending)
		q.mu.Unlock()

		q.reportDepth(depth)
		q.run(it)

		q.mu.Lock()
		q.inFlight = nil
		q.mu.Unlock()
	}
}

func (q *Queue[T]) run(it item[T]) {
	start := time.Now()
	v, err := q.invoke(it)
	elapsed := time.Since(start)

	if err != nil {
		q.logger.WarnContext(it.ctx, "queue: task failed",
			slog.String("task_id", it.handle.meta.ID),
			slog.String("instrument", it.handle.meta.Instrument),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
	}
	if q.observer != nil {
		q.observer.TaskSettled(q.name, elapsed, err)
	}
	it.handle.settle(v, err)
}

// invoke runs the task and turns a panic into an error on its handle.
func (q *Queue[T]) invoke(it item[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.ErrorContext(it.ctx, "queue: task panicked",
				slog.String("task_id", it.handle.meta.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			var zero T
			v, err = zero, fmt.Errorf("queue: %w: %v", domain.ErrTaskPanicked, r)
		}
	}()
	return it.task(it.ctx)
}

// Status reports pending count, loop activity and the in-flight task.
func (q *Queue[T]) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Status{Pending: len(q.pending), Active: q.active, InFlight: []Meta{}}
	if q.inFlight != nil {
		st.InFlight = append(st.InFlight, *q.inFlight)
	}
	return st
}

// Clear drops every pending task. Dropped handles settle with
// domain.ErrQueueCleared. The in-flight task is unaffected.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	var zero T
	for _, it := range dropped {
		it.handle.settle(zero, domain.ErrQueueCleared)
	}
	q.reportDepth(0)
	if len(dropped) > 0 {
		q.logger.Warn("queue: cleared pending tasks", slog.Int("dropped", len(dropped)))
	}
	return len(dropped)
}

// Drain blocks until the queue is idle or ctx is done.
func (q *Queue[T]) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: drain %s: %w", q.name, ctx.Err())
	}
}

func (q *Queue[T]) reportDepth(n int) {
	if q.observer != nil {
		q.observer.QueueDepth(q.name, n)
	}
}
