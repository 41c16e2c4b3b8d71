// Package relay publishes saga lifecycle events to Redis Pub/Sub so that
// external consumers can follow saga progress without polling the log.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sagalog/sagalog/pkg/logger"
	"github.com/sagalog/sagalog/pkg/saga"
)

const (
	defaultChannelPrefix = "sagalog:"
	defaultBuffer        = 64
	publishTimeout       = 5 * time.Second
)

// Envelope is the wire format for one relayed event. Every event goes to
// the firehose channel {prefix}events and to the per-saga channel
// {prefix}saga:{saga_id}.
type Envelope struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	SagaID    string          `json:"saga_id"`
	TaskID    string          `json:"task_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type subscription struct {
	pubsub *redis.PubSub
	ch     chan Envelope
	cancel context.CancelFunc
}

// RedisRelay forwards orchestrator events into Redis Pub/Sub channels.
// Publish failures are logged and counted, never surfaced to the saga.
type RedisRelay struct {
	client redis.UniversalClient
	prefix string
	buffer int
	log    logger.Logger

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool

	publishFailures atomic.Uint64
}

// NewRedisRelay creates a relay over an existing Redis client.
func NewRedisRelay(client redis.UniversalClient, prefix string, buffer int) *RedisRelay {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &RedisRelay{
		client: client,
		prefix: prefix,
		buffer: buffer,
		log:    logger.Default(),
		subs:   make(map[*subscription]struct{}),
	}
}

// SetLogger replaces the relay's logger.
func (r *RedisRelay) SetLogger(log logger.Logger) {
	if log != nil {
		r.log = log
	}
}

// Subscriber adapts the relay to the orchestrator's event stream. The
// returned function never blocks saga progress on Redis problems.
func (r *RedisRelay) Subscriber() saga.Subscriber {
	return func(evt saga.Event) {
		env := Envelope{
			EventID:   uuid.New().String(),
			Type:      string(evt.Type),
			SagaID:    evt.SagaID,
			TaskID:    evt.TaskID,
			Timestamp: evt.Timestamp,
			Data:      evt.Data,
		}
		if evt.Err != nil {
			env.Error = evt.Err.Error()
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := r.Publish(ctx, env); err != nil {
			r.publishFailures.Add(1)
			r.log.Warn("event relay publish failed",
				"saga_id", env.SagaID, "type", env.Type, "error", err)
		}
	}
}

// Publish sends env to the firehose channel and the per-saga channel.
func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	if env.SagaID == "" {
		return fmt.Errorf("envelope has no saga id")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("relay is closed")
	}
	r.mu.Unlock()

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := r.client.Publish(ctx, r.prefix+"events", data).Err(); err != nil {
		return fmt.Errorf("publish firehose: %w", err)
	}
	if err := r.client.Publish(ctx, r.prefix+"saga:"+env.SagaID, data).Err(); err != nil {
		return fmt.Errorf("publish saga channel: %w", err)
	}
	return nil
}

// PublishFailures returns the count of swallowed publish errors.
func (r *RedisRelay) PublishFailures() uint64 {
	return r.publishFailures.Load()
}

// Subscribe receives events for one saga. The returned stop function ends
// the subscription and closes the channel.
func (r *RedisRelay) Subscribe(ctx context.Context, sagaID string) (<-chan Envelope, func(), error) {
	if sagaID == "" {
		return nil, nil, fmt.Errorf("saga id cannot be empty")
	}
	return r.subscribe(ctx, r.prefix+"saga:"+sagaID)
}

// SubscribeAll receives every relayed event.
func (r *RedisRelay) SubscribeAll(ctx context.Context) (<-chan Envelope, func(), error) {
	return r.subscribe(ctx, r.prefix+"events")
}

func (r *RedisRelay) subscribe(ctx context.Context, channel string) (<-chan Envelope, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, nil, fmt.Errorf("relay is closed")
	}

	pubsub := r.client.Subscribe(ctx, channel)
	subCtx, cancel := context.WithCancel(ctx)

	sub := &subscription{
		pubsub: pubsub,
		ch:     make(chan Envelope, r.buffer),
		cancel: cancel,
	}
	r.subs[sub] = struct{}{}

	go r.forward(subCtx, sub)

	stop := func() { r.remove(sub) }
	return sub.ch, stop, nil
}

func (r *RedisRelay) forward(ctx context.Context, sub *subscription) {
	defer func() {
		_ = sub.pubsub.Close()
	}()

	redisCh := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-redisCh:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("event relay decode failed", "error", err)
				continue
			}
			select {
			case sub.ch <- env:
			default:
				// Drop the oldest buffered event to make room.
				select {
				case <-sub.ch:
				default:
				}
				select {
				case sub.ch <- env:
				default:
				}
			}
		}
	}
}

func (r *RedisRelay) remove(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub]; !ok {
		return
	}
	sub.cancel()
	close(sub.ch)
	delete(r.subs, sub)
}

// Healthy checks whether the Redis connection is alive.
func (r *RedisRelay) Healthy(ctx context.Context) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	return r.client.Ping(ctx).Err() == nil
}

// Close shuts down all subscriptions. It does not close the Redis client,
// which the caller owns. Close is idempotent.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for sub := range r.subs {
		sub.cancel()
		close(sub.ch)
		delete(r.subs, sub)
	}
	return nil
}
