package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dontdude/qdoas/internal/config"
	"github.com/dontdude/qdoas/internal/logger"
	"github.com/dontdude/qdoas/internal/platform/queue"
	"github.com/dontdude/qdoas/internal/platform/web"
)

func main() {
	cfg, err := config.Load(nil, os.Getenv("QDOAS_CONFIG"))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.NewLogger(cfg.Log, nil)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	redisQ, err := queue.NewRedisQueue(queue.Options{
		Addr:    cfg.Redis.Addr,
		Stream:  cfg.Redis.Stream,
		Group:   cfg.Redis.Group,
		Channel: cfg.Redis.Channel,
		Logger:  log,
	})
	if err != nil {
		return err
	}
	defer redisQ.Close()

	batches, err := redisQ.SubscribeBatches(ctx)
	if err != nil {
		return err
	}
	hub := web.NewHub(log)
	go hub.Run(ctx, batches)

	limiter := web.NewRateLimiter(cfg.Server.Rate, cfg.Server.Burst)
	go limiter.Cleanup(ctx)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           web.NewRouter(redisQ, hub, limiter, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
