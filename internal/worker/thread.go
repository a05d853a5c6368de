// Package worker runs the engine thread: the single goroutine that owns an engine context
// and executes requests against it strictly in submission order.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dontdude/qdoas/internal/domain"
)

// State is the coarse state of the engine thread.
type State int

const (
	Idle State = iota
	Draining
	Terminating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	default:
		return "terminating"
	}
}

// ErrStopped is returned when the thread is used after Stop.
var ErrStopped = errors.New("engine thread stopped")

// Poster is notified once per Respond call that responses are waiting.
// The host reacts by calling TakeResponses on its own event goroutine.
// PostResponses is called on the engine thread and must not block.
type Poster interface {
	PostResponses()
}

// PosterFunc adapts a function to the Poster interface.
type PosterFunc func()

func (f PosterFunc) PostResponses() { f() }

// Option configures a Thread.
type Option func(*Thread)

// WithRunner sets the container runner used by batch analysis requests.
func WithRunner(r domain.ContainerRunner) Option {
	return func(t *Thread) { t.runner = r }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Thread) { t.logger = l }
}

// Thread is the engine thread.
//
// Requests go through an unbounded FIFO guarded by mu; wake carries at most one pending
// signal, and the worker re-checks the queue and the termination flag after every wake.
// Responses go the other way through their own FIFO guarded by respMu. No lock is ever held
// while waiting on the other direction.
type Thread struct {
	engine domain.Engine
	runner domain.ContainerRunner
	poster Poster
	logger *slog.Logger

	// mu protects queue, terminating, busy and started.
	mu          sync.Mutex
	queue       []domain.Request
	terminating bool
	busy        bool
	started     bool
	wake        chan struct{}
	done        chan struct{}

	// engineCtx is only touched by the worker goroutine.
	engineCtx domain.EngineContext

	respMu    sync.Mutex
	responses []domain.Response
}

var _ domain.Executor = (*Thread)(nil)

// NewThread creates an engine thread. It does nothing until Start.
func NewThread(engine domain.Engine, poster Poster, opts ...Option) *Thread {
	t := &Thread{
		engine: engine,
		poster: poster,
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start spawns the worker goroutine and waits until it has created its engine context.
func (t *Thread) Start() error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("engine thread already started")
	}
	t.started = true
	t.mu.Unlock()

	ready := make(chan error, 1)
	go t.run(ready)
	if err := <-ready; err != nil {
		return fmt.Errorf("failed to create engine context: %w", err)
	}
	t.logger.Info("Engine thread started")
	return nil
}

// Submit queues req behind every request submitted before it. It never blocks on the worker.
func (t *Thread) Submit(req domain.Request) error {
	t.mu.Lock()
	if t.terminating {
		t.mu.Unlock()
		return ErrStopped
	}
	t.queue = append(t.queue, req)
	t.mu.Unlock()

	t.signal()
	return nil
}

// Stop requests termination and blocks until the worker has exited.
// The request in flight completes; requests still queued are discarded.
func (t *Thread) Stop() {
	t.mu.Lock()
	started := t.started
	t.terminating = true
	t.mu.Unlock()

	if !started {
		return
	}
	t.logger.Info("Stopping engine thread, waiting for current request...")
	t.signal()
	<-t.done
	t.logger.Info("Engine thread stopped")
}

// State reports what the worker is doing.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.terminating:
		return Terminating
	case t.busy || len(t.queue) > 0:
		return Draining
	default:
		return Idle
	}
}

// Pending returns the number of queued requests not yet started.
func (t *Thread) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Done is closed once the worker has exited and destroyed its engine context.
func (t *Thread) Done() <-chan struct{} { return t.done }

// EngineContext implements domain.Executor. Only requests running on the worker may call it.
func (t *Thread) EngineContext() domain.EngineContext { return t.engineCtx }

// Runner implements domain.Executor.
func (t *Thread) Runner() domain.ContainerRunner { return t.runner }

// Respond implements domain.Executor: it queues resp and posts one notification.
func (t *Thread) Respond(resp domain.Response) {
	t.respMu.Lock()
	t.responses = append(t.responses, resp)
	t.respMu.Unlock()

	if t.poster != nil {
		t.poster.PostResponses()
	}
}

// TakeResponses swaps out every response queued since the previous call, in the order they were queued.
func (t *Thread) TakeResponses() []domain.Response {
	t.respMu.Lock()
	defer t.respMu.Unlock()
	batch := t.responses
	t.responses = nil
	return batch
}

func (t *Thread) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// next blocks until a request is available or termination is requested.
func (t *Thread) next() (domain.Request, bool) {
	for {
		t.mu.Lock()
		t.busy = false
		if t.terminating {
			dropped := len(t.queue)
			t.queue = nil
			t.mu.Unlock()
			if dropped > 0 {
				t.logger.Warn("Discarding queued requests on shutdown", "count", dropped)
			}
			return nil, false
		}
		if len(t.queue) > 0 {
			req := t.queue[0]
			t.queue[0] = nil
			t.queue = t.queue[1:]
			t.busy = true
			t.mu.Unlock()
			return req, true
		}
		t.mu.Unlock()
		<-t.wake
	}
}

// run is the worker goroutine. It owns the engine context for its whole life.
func (t *Thread) run(ready chan<- error) {
	defer close(t.done)

	engineCtx, err := t.engine.CreateContext()
	if err != nil {
		t.mu.Lock()
		t.terminating = true
		t.queue = nil
		t.mu.Unlock()
		ready <- err
		return
	}
	t.engineCtx = engineCtx
	ready <- nil

	// Requests are never cancelled mid-flight, so they get a context that outlives Stop.
	ctx := context.Background()
	for {
		req, ok := t.next()
		if !ok {
			break
		}
		t.logger.Debug("Processing request", "type", fmt.Sprintf("%T", req))
		if !req.Process(ctx, t) {
			t.logger.Debug("Request failed", "type", fmt.Sprintf("%T", req))
		}
	}

	if err := engineCtx.Destroy(); err != nil {
		t.logger.Error("Failed to destroy engine context", "error", err)
	}
	t.engineCtx = nil
}
