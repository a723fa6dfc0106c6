package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

type redisSubscription struct {
	pubsub *redis.PubSub
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

type redisStream struct {
	rdb    *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

var _ Stream = (*redisStream)(nil)

// NewRedisStream returns a Stream backed by Redis pub/sub. The caller owns
// the redis.Client lifecycle; Close stops the stream's subscriptions but
// leaves the client open.
func NewRedisStream(ctx context.Context, rdb *redis.Client, log *zap.Logger) Stream {
	ctx, cancel := context.WithCancel(ctx)
	return &redisStream{
		rdb:    rdb,
		ctx:    ctx,
		cancel: cancel,
		log:    log.Named("realtime"),
	}
}

func (s *redisStream) Publish(ctx context.Context, userID string, ev Event) error {
	payload, err := msgpack.Marshal(ev)
	if err != nil {
		return fmt.Errorf("realtime: failed to marshal event: %w", err)
	}
	if err := s.rdb.Publish(ctx, Subject(ev.Table, userID), payload).Err(); err != nil {
		return fmt.Errorf("realtime: failed to publish event: %w", err)
	}
	return nil
}

func (s *redisStream) Subscribe(ctx context.Context, table, userID string, h Handler) (Subscription, error) {
	if s.ctx.Err() != nil {
		return nil, ErrStreamClosed
	}
	pubsub := s.rdb.Subscribe(ctx, Subject(table, userID))

	// Force the subscription onto the wire so setup failures surface here
	// rather than silently dropping events.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("realtime: failed to subscribe to %s: %w", Subject(table, userID), err)
	}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-s.ctx.Done():
				pubsub.Close()
				return
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := msgpack.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.log.Error("failed to decode pushed event", zap.Error(err))
					continue
				}
				h(ctx, ev)
			}
		}
	}()

	return &redisSubscription{pubsub: pubsub}, nil
}

func (s *redisStream) Close() error {
	s.cancel()
	return nil
}
