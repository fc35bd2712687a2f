// Package notifier is an optional low-latency hint layered on top of the
// worker pool's fixed-interval poll: when the engine dispatches new tasks
// (after Trigger, or after an advancement inserts the next tasks), it
// publishes a "tasks available" nudge so a worker's pollLoop doesn't have
// to wait out its full PollInterval. A retry whose next_retry_at elapses
// publishes no nudge; the poll picks it up.
// Redis is optional here exactly as it is for internal/events: with no
// address configured, workers fall back to polling alone, which remains
// correct (just slightly higher latency under low load).
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowforge/orchestrator/internal/logger"
)

// Notifier publishes and subscribes to a single "tasks available" channel
// over Redis Pub/Sub.
type Notifier struct {
	client  *redis.Client
	channel string
}

// New creates a Notifier publishing/subscribing on channel (spec's
// QueueConfig.NotifyChannel, e.g. "orchestrator:tasks-available").
func New(client *redis.Client, channel string) *Notifier {
	return &Notifier{client: client, channel: channel}
}

// Notify announces that at least one task is newly acquirable. Best-effort:
// callers should not fail a workflow transition because this publish
// failed, so errors are only logged.
func (n *Notifier) Notify(ctx context.Context) {
	if n == nil || n.client == nil {
		return
	}
	if err := n.client.Publish(ctx, n.channel, "1").Err(); err != nil {
		logger.Warn().Err(err).Str("channel", n.channel).Msg("failed to publish tasks-available hint")
	}
}

// Subscription is a debounced "tasks available" hint feed, coalescing
// bursts of publishes (e.g. a parallel block's N siblings completing
// together) into one wakeup per debounce window.
type Subscription struct {
	pubsub  *redis.PubSub
	wake    chan struct{}
	mu      sync.Mutex
	pending bool
}

// Subscribe starts a debounced subscription: Wake() receives at most one
// signal per debounce interval, regardless of how many raw publishes
// arrived in that window.
func (n *Notifier) Subscribe(ctx context.Context, debounce time.Duration) (*Subscription, error) {
	pubsub := n.client.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", n.channel, err)
	}

	sub := &Subscription{pubsub: pubsub, wake: make(chan struct{}, 1)}

	go sub.debounceLoop(ctx, pubsub.Channel(), debounce)

	return sub, nil
}

func (s *Subscription) debounceLoop(ctx context.Context, raw <-chan *redis.Message, debounce time.Duration) {
	defer close(s.wake)
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case _, ok := <-raw:
			if !ok {
				return
			}
			s.mu.Lock()
			already := s.pending
			s.pending = true
			s.mu.Unlock()
			if already {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				s.mu.Lock()
				s.pending = false
				s.mu.Unlock()
				select {
				case s.wake <- struct{}{}:
				default:
				}
			})
		}
	}
}

// Wake receives one signal per debounce window a tasks-available hint was
// published in.
func (s *Subscription) Wake() <-chan struct{} {
	return s.wake
}

// Close stops the subscription.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
