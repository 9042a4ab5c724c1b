package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/events"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
)

// Publisher is the slice of the redis client the relay uses
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *rd.IntCmd
}

// Relay queue defaults
const (
	DefaultQueueSize      = 1024
	DefaultPublishTimeout = 2 * time.Second
)

// RedisRelay forwards outbound domain events from the in-process bus to a
// Redis pub/sub channel as JSON envelopes. Bus handlers only enqueue; a
// single worker publishes in order, so a slow or unreachable Redis never
// holds up the operation that raised the event.
type RedisRelay struct {
	client  Publisher
	channel string
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration

	queue  chan queued
	done   chan struct{}
	unsubs []func()
}

type queued struct {
	eventType events.EventType
	payload   interface{}
}

// NewRedisClient builds a universal client (single node, sentinel or cluster by addrs)
func NewRedisClient(addrs []string) rd.UniversalClient {
	return rd.NewUniversalClient(&rd.UniversalOptions{Addrs: addrs})
}

// NewRedisRelay creates a new relay. queueSize <= 0 uses DefaultQueueSize.
func NewRedisRelay(client Publisher, channel string, queueSize int, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		logger:  logger.Named("relay"),
		now:     func() time.Time { return time.Now().UTC() },
		timeout: DefaultPublishTimeout,
		queue:   make(chan queued, queueSize),
		done:    make(chan struct{}),
	}
}

// Attach subscribes the relay to every outbound event type on bus and starts the worker
func (r *RedisRelay) Attach(bus ports.EventPublisher) {
	go r.work()
	for _, et := range events.Outbound {
		et := et
		r.unsubs = append(r.unsubs, bus.Subscribe(et, func(_ context.Context, payload interface{}) error {
			r.enqueue(et, payload)
			return nil
		}))
	}
	r.logger.Info("relaying workflow events", zap.String("channel", r.channel), zap.Int("event_types", len(events.Outbound)))
}

// Detach removes the relay's subscriptions and waits for queued events to be sent
func (r *RedisRelay) Detach() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	close(r.queue)
	<-r.done
}

// enqueue never blocks; a full queue drops the event
func (r *RedisRelay) enqueue(eventType events.EventType, payload interface{}) {
	select {
	case r.queue <- queued{eventType: eventType, payload: payload}:
	default:
		r.logger.Warn("relay queue full, event dropped", zap.String("event", eventType.String()))
	}
}

func (r *RedisRelay) work() {
	defer close(r.done)
	for item := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.Forward(ctx, item.eventType, item.payload); err != nil {
			r.logger.Warn("event relay failed", zap.Error(err))
		}
		cancel()
	}
}

// Forward publishes one event envelope
func (r *RedisRelay) Forward(ctx context.Context, eventType events.EventType, payload interface{}) error {
	body, err := json.Marshal(events.Envelope{Type: eventType, OccurredAt: r.now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode %s envelope: %w", eventType, err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", eventType, r.channel, err)
	}
	r.logger.Debug("event relayed", zap.String("event", eventType.String()))
	return nil
}
