package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/wire"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("session manager closed")

// Broadcaster publishes response batches to remote hosts.
type Broadcaster interface {
	Broadcast(ctx context.Context, batch domain.ResponseBatch) error
}

// Sessions runs one engine thread per remote session. Each thread's responses are relayed as
// numbered batches, one per drain, by a goroutine dedicated to the session.
type Sessions struct {
	engine      domain.Engine
	runner      domain.ContainerRunner
	broadcaster Broadcaster
	idle        time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

type session struct {
	id       string
	thread   *Thread
	notify   chan struct{}
	relayed  chan struct{}
	seq      uint64
	lastUsed time.Time
}

// NewSessions returns a manager that stops threads idle for longer than idle. runner may be
// nil, in which case batch analysis requests fail.
func NewSessions(engine domain.Engine, b Broadcaster, idle time.Duration, runner domain.ContainerRunner, logger *slog.Logger) *Sessions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sessions{
		engine:      engine,
		runner:      runner,
		broadcaster: b,
		idle:        idle,
		logger:      logger,
		now:         time.Now,
		sessions:    make(map[string]*session),
	}
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Dispatch decodes env and submits it to the engine thread of its session, starting the
// thread on first use.
func (s *Sessions) Dispatch(env domain.RequestEnvelope) error {
	req, err := wire.DecodeRequest(env)
	if err != nil {
		return fmt.Errorf("session %s: %w", env.SessionID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	sess, ok := s.sessions[env.SessionID]
	if !ok {
		if sess, err = s.start(env.SessionID); err != nil {
			return err
		}
		s.sessions[env.SessionID] = sess
	}
	sess.lastUsed = s.now()
	return sess.thread.Submit(req)
}

// start must be called with mu held.
func (s *Sessions) start(id string) (*session, error) {
	sess := &session{id: id, notify: make(chan struct{}, 1), relayed: make(chan struct{})}
	poster := PosterFunc(func() {
		select {
		case sess.notify <- struct{}{}:
		default:
		}
	})
	sess.thread = NewThread(s.engine, poster, WithRunner(s.runner), WithLogger(s.logger.With("session", id)))
	if err := sess.thread.Start(); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	go s.relay(sess)
	s.logger.Info("Session started", "session", id)
	return sess, nil
}

// relay broadcasts drained batches until the thread exits, then flushes what is left.
func (s *Sessions) relay(sess *session) {
	defer close(sess.relayed)
	for {
		select {
		case <-sess.notify:
			s.flush(sess)
		case <-sess.thread.Done():
			s.flush(sess)
			return
		}
	}
}

func (s *Sessions) flush(sess *session) {
	responses := sess.thread.TakeResponses()
	if len(responses) == 0 {
		return
	}
	sess.seq++
	batch, err := wire.EncodeBatch(sess.id, sess.seq, responses)
	if err != nil {
		s.logger.Error("Failed to encode response batch", "session", sess.id, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.broadcaster.Broadcast(ctx, batch); err != nil {
		s.logger.Error("Failed to broadcast response batch", "session", sess.id, "seq", sess.seq, "error", err)
	}
}

// Run stops idle sessions every interval until ctx is done, then closes the manager.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return nil
		case <-ticker.C:
			s.Reap()
		}
	}
}

// Reap stops the sessions that received no request for the idle period.
func (s *Sessions) Reap() {
	cutoff := s.now().Add(-s.idle)
	var stale []*session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.lastUsed.Before(cutoff) {
			stale = append(stale, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range stale {
		s.logger.Info("Stopping idle session", "session", sess.id)
		s.stop(sess)
	}
}

// Close stops every session and rejects further requests.
func (s *Sessions) Close() {
	s.mu.Lock()
	s.closed = true
	all := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	clear(s.sessions)
	s.mu.Unlock()

	for _, sess := range all {
		s.stop(sess)
	}
}

func (s *Sessions) stop(sess *session) {
	sess.thread.Stop()
	<-sess.relayed
}
