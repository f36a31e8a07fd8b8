/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// RedisChannelPrefix namespaces relayed events.
const RedisChannelPrefix = "slotwatch:events:"

// relayedEvents are shared between instances.
var relayedEvents = []events.EventType{
	events.EventSlotChanged,
	events.EventPollCompleted,
	events.EventSnapshotCleared,
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// redisPubSub is the subset of the Redis client the relay needs.
type redisPubSub interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
	Close() error
}

// RedisRelay shares events between instances through Redis pub/sub. Local
// events are published to Redis; events from every instance, this one
// included, are delivered to the Stream bus. Only the poll leader produces
// slot changes, so followers serve their websocket clients from Stream.
type RedisRelay struct {
	client redisPubSub
	local  *events.Bus
	stream *events.Bus
	nodeID string
	logger zerolog.Logger

	wg sync.WaitGroup
}

// NewRedisRelay connects to Redis and returns a relay for local.
func NewRedisRelay(cfg RedisConfig, local *events.Bus, logger zerolog.Logger) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis relay: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Msg("Redis event relay initialized")
	return newRedisRelay(client, local, logger), nil
}

func newRedisRelay(client redisPubSub, local *events.Bus, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		local:  local,
		stream: events.NewBus(),
		nodeID: generateNodeID(),
		logger: logger.With().Str("component", "redis_relay").Logger(),
	}
}

// Stream is the bus carrying events from all instances.
func (r *RedisRelay) Stream() *events.Bus {
	return r.stream
}

// Run relays in both directions until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.receive(ctx)
	}()

	subs := make([]events.Subscriber, len(relayedEvents))
	for i, eventType := range relayedEvents {
		subs[i] = r.local.SubscribeBuffered(eventType, 256)
	}
	defer func() {
		for i, eventType := range relayedEvents {
			r.local.Unsubscribe(eventType, subs[i])
		}
	}()

	// Fan the local subscriptions into one loop.
	type localEvent struct {
		eventType events.EventType
		payload   events.Payload
	}
	merged := make(chan localEvent, 256)
	for i, eventType := range relayedEvents {
		r.wg.Add(1)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- localEvent{eventType, payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(eventType, subs[i])
	}

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return
		case ev := <-merged:
			r.publish(ctx, ev.eventType, ev.payload)
		}
	}
}

func (r *RedisRelay) publish(ctx context.Context, eventType events.EventType, payload events.Payload) {
	data, err := marshalRelayMessage(eventType, payload, r.nodeID)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal relay message")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	channel := RedisChannelPrefix + string(eventType)
	if err := r.client.Publish(pubCtx, channel, data).Err(); err != nil {
		telemetry.EventBridgePublishedTotal.WithLabelValues(channel, "error").Inc()
		r.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
		return
	}
	telemetry.EventBridgePublishedTotal.WithLabelValues(channel, "ok").Inc()
}

func (r *RedisRelay) receive(ctx context.Context) {
	pubsub := r.client.PSubscribe(ctx, RedisChannelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				r.logger.Warn().Msg("Redis relay channel closed")
				return
			}
			r.deliver(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) deliver(channel string, data []byte) {
	relayed, err := unmarshalRelayMessage(data)
	if err != nil {
		r.logger.Error().Err(err).Str("channel", channel).Msg("failed to unmarshal relay message")
		return
	}
	if want := events.EventType(strings.TrimPrefix(channel, RedisChannelPrefix)); relayed.EventType != want {
		r.logger.Warn().Str("channel", channel).Str("event_type", string(relayed.EventType)).Msg("relay message on unexpected channel")
		return
	}
	r.stream.Publish(relayed.EventType, relayed.Payload)
}

// Close closes the Redis connection.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}

// relayMessage is the wire form of a relayed event.
type relayMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

func marshalRelayMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(relayMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
	})
}

func unmarshalRelayMessage(data []byte) (*relayMessage, error) {
	var msg relayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal relay message: %w", err)
	}
	return &msg, nil
}
