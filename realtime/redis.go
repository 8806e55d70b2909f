package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel change notifications are published on.
const DefaultChannel = "prism:changes"

// RedisSource reads events from a Redis pub/sub channel. Payloads are JSON
// envelopes or bare event names.
type RedisSource struct {
	Client  *redis.Client
	Channel string
}

func (s *RedisSource) Name() string { return "redis" }

func (s *RedisSource) Stream(ctx context.Context, h Handler) error {
	channel := s.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	sub := s.Client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	h.OnConnect()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			if ev, ok := parseEnvelope([]byte(msg.Payload)); ok {
				h.OnEvent(ev)
				continue
			}
			h.OnEvent(Event{Name: msg.Payload})
		}
	}
}

// Publish sends a change notification, used by tools and tests that stand in
// for the API server.
func Publish(ctx context.Context, rc *redis.Client, channel, event string) error {
	if channel == "" {
		channel = DefaultChannel
	}
	payload, err := sonic.MarshalString(envelope{Event: event})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if err := rc.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}
