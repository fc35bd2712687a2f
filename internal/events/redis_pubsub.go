package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/flowforge/orchestrator/internal/logger"
)

const channelPrefix = "orchestrator:events:"

// RedisPubSub implements Publisher over Redis Pub/Sub. This is the same
// optional-Redis posture as internal/notifier's acquisition hint: if no
// Redis address is configured, the API simply runs without live push
// updates and clients fall back to polling the execution-detail endpoint.
type RedisPubSub struct {
	client      *redis.Client
	subscribers map[string]*redis.PubSub
	mu          sync.RWMutex
}

// NewRedisPubSub creates a publisher bound to client.
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client, subscribers: make(map[string]*redis.PubSub)}
}

// Publish publishes an event on its type's channel.
func (r *RedisPubSub) Publish(ctx context.Context, event *Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channelName(event.Type), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe subscribes to the given event types.
func (r *RedisPubSub) Subscribe(ctx context.Context, eventTypes ...Type) (<-chan *Event, error) {
	channels := make([]string, len(eventTypes))
	for i, et := range eventTypes {
		channels[i] = r.channelName(et)
	}
	return r.consume(ctx, r.client.Subscribe(ctx, channels...))
}

// SubscribeAll subscribes to every event type, for the WebSocket hub's
// default "give me everything, I'll filter client-side" subscription.
func (r *RedisPubSub) SubscribeAll(ctx context.Context) (<-chan *Event, error) {
	return r.consume(ctx, r.client.PSubscribe(ctx, channelPrefix+"*"))
}

func (r *RedisPubSub) consume(ctx context.Context, pubsub *redis.PubSub) (<-chan *Event, error) {
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	key := fmt.Sprintf("%p", pubsub)
	r.mu.Lock()
	r.subscribers[key] = pubsub
	r.mu.Unlock()

	eventCh := make(chan *Event, 100)
	go func() {
		defer close(eventCh)
		defer func() {
			r.mu.Lock()
			delete(r.subscribers, key)
			r.mu.Unlock()
			pubsub.Close()
		}()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("failed to parse event")
					continue
				}
				select {
				case eventCh <- event:
				default:
					logger.Warn().Str("event_type", string(event.Type)).Msg("event channel full, dropping event")
				}
			}
		}
	}()
	return eventCh, nil
}

// Close closes all open subscriptions.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pubsub := range r.subscribers {
		pubsub.Close()
	}
	r.subscribers = make(map[string]*redis.PubSub)
	return nil
}

func (r *RedisPubSub) channelName(eventType Type) string {
	return channelPrefix + string(eventType)
}
