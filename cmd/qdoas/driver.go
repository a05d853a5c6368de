package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dontdude/qdoas/internal/controller"
	"github.com/dontdude/qdoas/internal/domain"
)

// errSessionFailed is returned when the engine reported a fatal error during a session.
var errSessionFailed = errors.New("session stopped after a fatal engine error")

// stopGrace bounds how long a cancelled session may take to close its file.
const stopGrace = 10 * time.Second

// driver runs a controller on an event loop until its session ends. A fatal engine error
// stops the session instead of leaving it paused, since nobody is there to resume it.
type driver struct {
	controller.NopObserver

	loop   *controller.EventLoop
	ctrl   *controller.Controller
	logger *slog.Logger

	// Only touched on the loop goroutine.
	cancel   context.CancelFunc
	stopping bool
	failed   bool
	lost     error
}

func newDriver(loop *controller.EventLoop, ctrl *controller.Controller, logger *slog.Logger) *driver {
	d := &driver{loop: loop, ctrl: ctrl, logger: logger}
	ctrl.Subscribe(d)
	return d
}

func (d *driver) ModeChanged(m domain.Mode) {
	if m == domain.ModeNone && d.cancel != nil {
		d.cancel()
	}
}

func (d *driver) ErrorsReported(r controller.ErrorReport) {
	if r.Level == domain.Fatal {
		d.failed = true
		d.loop.Post(d.stop)
	}
}

func (d *driver) stop() {
	if d.stopping {
		return
	}
	d.stopping = true
	if err := d.ctrl.Stop(); err != nil {
		if !errors.Is(err, controller.ErrNoSession) {
			d.logger.Error("Failed to stop session", "error", err)
		}
		d.cancel()
	}
}

// abort ends the session at once with err, for failures that leave nothing to stop
// cooperatively, such as a broken transport. It may be called from any goroutine.
func (d *driver) abort(err error) {
	d.loop.Post(func() {
		if d.lost == nil {
			d.lost = err
		}
		if d.cancel != nil {
			d.cancel()
		}
	})
}

// run starts s in mode and blocks until the session ends. Cancelling ctx stops the session
// cooperatively: the current record finishes and the file is closed.
func (d *driver) run(ctx context.Context, mode domain.Mode, s *controller.Session) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.cancel = cancel

	var startErr error
	d.loop.Post(func() {
		if err := d.ctrl.RunSession(mode, s); err != nil {
			startErr = err
			cancel()
		}
	})

	go func() {
		select {
		case <-loopCtx.Done():
			return
		case <-ctx.Done():
		}
		d.logger.Info("Stopping session")
		d.loop.Post(d.stop)
		select {
		case <-loopCtx.Done():
		case <-time.After(stopGrace):
			d.logger.Warn("Session did not stop in time")
			cancel()
		}
	}()

	_ = d.loop.Run(loopCtx)
	switch {
	case startErr != nil:
		return startErr
	case d.lost != nil:
		return d.lost
	case d.failed:
		return errSessionFailed
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return nil
}
