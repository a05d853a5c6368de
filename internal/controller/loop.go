package controller

import (
	"context"
	"sync"

	"github.com/dontdude/qdoas/internal/domain"
)

// EventLoop serialises work onto one goroutine, the way a GUI toolkit delivers posted events.
// Post never blocks, so the engine thread can call it from Respond.
type EventLoop struct {
	mu     sync.Mutex
	events []func()
	wake   chan struct{}
}

func NewEventLoop() *EventLoop {
	return &EventLoop{wake: make(chan struct{}, 1)}
}

// Post queues fn to run on the loop goroutine after every previously posted event.
func (l *EventLoop) Post(fn func()) {
	l.mu.Lock()
	l.events = append(l.events, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes posted events until ctx is done.
func (l *EventLoop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		events := l.events
		l.events = nil
		l.mu.Unlock()

		for _, fn := range events {
			fn()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// ResponseSource is the drain side of an engine thread's response queue.
type ResponseSource interface {
	TakeResponses() []domain.Response
}

// Binding connects an engine thread's response queue to a controller through the loop.
// It is the thread's poster: every notification becomes one posted event that drains the
// queue and hands the batch to the controller on the loop goroutine.
type Binding struct {
	loop *EventLoop
	ctrl *Controller
	src  ResponseSource
}

// Binding returns an unattached binding. Attach it before the engine thread starts.
func (l *EventLoop) Binding() *Binding { return &Binding{loop: l} }

func (b *Binding) Attach(c *Controller, src ResponseSource) {
	b.ctrl, b.src = c, src
}

// PostResponses implements worker.Poster.
func (b *Binding) PostResponses() {
	b.loop.Post(func() {
		if b.ctrl == nil || b.src == nil {
			return
		}
		if batch := b.src.TakeResponses(); len(batch) > 0 {
			b.ctrl.HandleResponses(batch)
		}
	})
}
