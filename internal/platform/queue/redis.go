package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dontdude/qdoas/internal/domain"
)

// envelopeField is the stream entry field holding the JSON request envelope.
const envelopeField = "envelope"

// Options configures a RedisQueue.
type Options struct {
	Addr string
	// Stream and Group name the request stream and its consumer group.
	Stream string
	Group  string
	// Channel is the Pub/Sub channel carrying response batches.
	Channel string
	// Consumer names this process inside the group. It defaults to the host name.
	Consumer string
	Logger   *slog.Logger
}

// RedisQueue implements domain.RequestQueue using Redis Streams for requests and Pub/Sub for
// response batches.
type RedisQueue struct {
	client   *redis.Client
	stream   string
	group    string
	channel  string
	consumer string
	logger   *slog.Logger
}

var _ domain.RequestQueue = (*RedisQueue)(nil)

// NewRedisQueue connects to Redis and fails fast when it is unreachable.
func NewRedisQueue(opts Options) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{Addr: opts.Addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return newRedisQueue(rdb, opts), nil
}

func newRedisQueue(rdb *redis.Client, opts Options) *RedisQueue {
	consumer := opts.Consumer
	if consumer == "" {
		consumer, _ = os.Hostname()
	}
	if consumer == "" {
		consumer = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{
		client:   rdb,
		stream:   opts.Stream,
		group:    opts.Group,
		channel:  opts.Channel,
		consumer: consumer,
		logger:   logger,
	}
}

func (r *RedisQueue) Close() error { return r.client.Close() }

// Publish appends env to the request stream using XADD.
func (r *RedisQueue) Publish(ctx context.Context, env domain.RequestEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{envelopeField: data},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe streams new envelopes read with XREADGROUP. The channel closes when ctx is done.
func (r *RedisQueue) Subscribe(ctx context.Context) (<-chan domain.RequestEnvelope, error) {
	err := r.client.XGroupCreateMkStream(ctx, r.stream, r.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	out := make(chan domain.RequestEnvelope)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    r.group,
				Consumer: r.consumer,
				Streams:  []string{r.stream, ">"},
				Count:    16,
				Block:    2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				r.logger.Error("Redis read error", "error", err)
				time.Sleep(time.Second)
				continue
			}
			for _, stream := range streams {
				for _, msg := range stream.Messages {
					env, err := decodeEnvelope(msg)
					if err != nil {
						r.logger.Error("Dropping malformed request", "msgID", msg.ID, "error", err)
						r.ack(ctx, msg.ID)
						continue
					}
					select {
					case out <- env:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// Acknowledge removes a delivered envelope from the pending entries list using XACK.
func (r *RedisQueue) Acknowledge(ctx context.Context, rawID string) error {
	if err := r.client.XAck(ctx, r.stream, r.group, rawID).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge %s: %w", rawID, err)
	}
	return nil
}

// Broadcast publishes a response batch on the response channel.
func (r *RedisQueue) Broadcast(ctx context.Context, batch domain.ResponseBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to broadcast batch: %w", err)
	}
	return nil
}

// SubscribeBatches streams every response batch published on the response channel.
func (r *RedisQueue) SubscribeBatches(ctx context.Context) (<-chan domain.ResponseBatch, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to responses: %w", err)
	}

	out := make(chan domain.ResponseBatch)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var batch domain.ResponseBatch
				if err := json.Unmarshal([]byte(msg.Payload), &batch); err != nil {
					r.logger.Error("Failed to unmarshal response batch", "error", err)
					continue
				}
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisQueue) ack(ctx context.Context, id string) {
	if err := r.Acknowledge(ctx, id); err != nil {
		r.logger.Error("Failed to acknowledge message", "msgID", id, "error", err)
	}
}

func decodeEnvelope(msg redis.XMessage) (domain.RequestEnvelope, error) {
	var raw []byte
	switch v := msg.Values[envelopeField].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return domain.RequestEnvelope{}, fmt.Errorf("missing %q field", envelopeField)
	}
	var env domain.RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.RequestEnvelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.SessionID == "" {
		return domain.RequestEnvelope{}, errors.New("envelope has no session id")
	}
	env.RawID = msg.ID
	return env, nil
}
