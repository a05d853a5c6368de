package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dontdude/qdoas/internal/config"
	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/logger"
	"github.com/dontdude/qdoas/internal/platform/docker"
	"github.com/dontdude/qdoas/internal/platform/queue"
	"github.com/dontdude/qdoas/internal/spectra"
	"github.com/dontdude/qdoas/internal/worker"
)

func main() {
	cfg, err := config.Load(nil, os.Getenv("QDOAS_CONFIG"))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.NewLogger(cfg.Log, nil)
	slog.SetDefault(log)
	log.Info("Starting qdoas worker...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Worker failed", "error", err)
		os.Exit(1)
	}
	log.Info("Worker stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	redisQ, err := queue.NewRedisQueue(queue.Options{
		Addr:     cfg.Redis.Addr,
		Stream:   cfg.Redis.Stream,
		Group:    cfg.Redis.Group,
		Channel:  cfg.Redis.Channel,
		Consumer: cfg.Worker.Consumer,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer redisQ.Close()

	// Batch analysis is optional: without a Docker daemon those requests fail with a message.
	var runner domain.ContainerRunner
	if dockerClient, err := docker.NewClient(ctx, log); err != nil {
		log.Warn("Docker unavailable, batch analysis disabled", "error", err)
	} else {
		runner, err = newBatchRunner(dockerClient, cfg.Worker)
		if err != nil {
			return err
		}
	}

	engine := spectra.NewEngine(spectra.WithLogger(log))
	sessions := worker.NewSessions(engine, redisQ, cfg.Worker.SessionIdle, runner, log)

	envs, err := redisQ.Subscribe(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for env := range envs {
			deliver(ctx, redisQ, sessions, env, log)
		}
		return nil
	})
	g.Go(func() error {
		redisQ.StartRecoveryRoutine(ctx, cfg.Worker.RecoveryInterval, cfg.Worker.RecoveryMinIdle, func(env domain.RequestEnvelope) {
			deliver(ctx, redisQ, sessions, env, log)
		})
		return nil
	})
	g.Go(func() error {
		return sessions.Run(ctx, cfg.Worker.SessionIdle/2)
	})
	return g.Wait()
}

// deliver hands env to its session and acknowledges it. Envelopes refused because the worker
// is shutting down stay pending so another worker can claim them.
func deliver(ctx context.Context, q *queue.RedisQueue, sessions *worker.Sessions, env domain.RequestEnvelope, log *slog.Logger) {
	if err := sessions.Dispatch(env); err != nil {
		if errors.Is(err, worker.ErrClosed) || errors.Is(err, worker.ErrStopped) {
			log.Warn("Leaving request pending", "msgID", env.RawID, "session", env.SessionID)
			return
		}
		log.Error("Failed to dispatch request", "msgID", env.RawID, "session", env.SessionID, "error", err)
	}
	if err := q.Acknowledge(ctx, env.RawID); err != nil {
		log.Error("Failed to ack request", "msgID", env.RawID, "error", err)
	}
}
