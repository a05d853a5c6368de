package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dontdude/qdoas/internal/domain"
)

// StartRecoveryRoutine polls the pending entries list for envelopes delivered to a consumer
// that never acknowledged them, claims them with XAUTOCLAIM and hands them to redeliver.
// Envelopes that cannot be decoded are acknowledged and dropped. It returns when ctx is done.
func (r *RedisQueue) StartRecoveryRoutine(ctx context.Context, interval, minIdle time.Duration, redeliver func(domain.RequestEnvelope)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Starting Redis Recovery Routine", "interval", interval, "minIdle", minIdle)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reclaim(ctx, minIdle, redeliver)
		}
	}
}

func (r *RedisQueue) reclaim(ctx context.Context, minIdle time.Duration, redeliver func(domain.RequestEnvelope)) {
	start := "-"
	for {
		messages, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.stream,
			Group:    r.group,
			MinIdle:  minIdle,
			Start:    start,
			Count:    10,
			Consumer: r.consumer,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Error("Recovery routine failed", "error", err)
			}
			return
		}
		if len(messages) > 0 {
			r.logger.Info("Recovered stale requests", "count", len(messages))
		}
		for _, msg := range messages {
			env, err := decodeEnvelope(msg)
			if err != nil {
				r.logger.Warn("Dropping stale malformed request", "msgID", msg.ID, "error", err)
				r.ack(ctx, msg.ID)
				continue
			}
			r.logger.Warn("Redelivering stale request", "msgID", msg.ID, "session", env.SessionID, "kind", env.Kind)
			redeliver(env)
		}

		start = next
		if len(messages) == 0 || start == "0-0" {
			return
		}
	}
}
