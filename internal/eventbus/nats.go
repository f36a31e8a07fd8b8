/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// SubjectPrefix roots every subject the bridge publishes on.
const SubjectPrefix = "slotwatch"

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	Name  string
	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "slotwatch",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// publisher is the subset of *nats.Conn the bridge needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBridge forwards in-process slot events to NATS so other services can
// react to status changes without polling the API.
type NATSBridge struct {
	conn   publisher
	closer func()
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string
}

// ConnectNATS dials the server and returns a bridge bound to bus.
func ConnectNATS(cfg NATSConfig, bus *events.Bus, logger zerolog.Logger) (*NATSBridge, error) {
	logger = logger.With().Str("component", "nats_bridge").Logger()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats connected")

	return newBridge(nc, func() { nc.Drain() }, bus, logger), nil
}

func newBridge(conn publisher, closer func(), bus *events.Bus, logger zerolog.Logger) *NATSBridge {
	return &NATSBridge{
		conn:   conn,
		closer: closer,
		bus:    bus,
		logger: logger,
		nodeID: generateNodeID(),
	}
}

// Run forwards events until ctx is cancelled.
func (b *NATSBridge) Run(ctx context.Context) {
	changed := b.bus.SubscribeBuffered(events.EventSlotChanged, 64)
	polls := b.bus.Subscribe(events.EventPollCompleted)
	cleared := b.bus.Subscribe(events.EventSnapshotCleared)
	defer b.bus.Unsubscribe(events.EventSlotChanged, changed)
	defer b.bus.Unsubscribe(events.EventPollCompleted, polls)
	defer b.bus.Unsubscribe(events.EventSnapshotCleared, cleared)

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-changed:
			b.forward(events.EventSlotChanged, payload)
		case payload := <-polls:
			b.forward(events.EventPollCompleted, payload)
		case payload := <-cleared:
			b.forward(events.EventSnapshotCleared, payload)
		}
	}
}

// Close drains the connection.
func (b *NATSBridge) Close() error {
	if b.closer != nil {
		b.closer()
	}
	return nil
}

func (b *NATSBridge) forward(eventType events.EventType, payload events.Payload) {
	subject := Subject(eventType, payload)
	data, err := marshalNATSMessage(eventType, payload, b.nodeID)
	if err != nil {
		telemetry.EventBridgePublishedTotal.WithLabelValues(subject, "error").Inc()
		b.logger.Error().Err(err).Str("subject", subject).Msg("encode event")
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		telemetry.EventBridgePublishedTotal.WithLabelValues(subject, "error").Inc()
		b.logger.Warn().Err(err).Str("subject", subject).Msg("publish event")
		return
	}
	telemetry.EventBridgePublishedTotal.WithLabelValues(subject, "ok").Inc()
}

// Subject maps an event to its NATS subject. Slot changes are partitioned by category.
func Subject(eventType events.EventType, payload events.Payload) string {
	switch eventType {
	case events.EventSlotChanged:
		if category := payload.String(events.KeyCategory); category != "" {
			return SubjectPrefix + ".slots." + category
		}
		return SubjectPrefix + ".slots"
	case events.EventPollCompleted:
		return SubjectPrefix + ".polls"
	default:
		return SubjectPrefix + ".events." + string(eventType)
	}
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
	return json.Marshal(msg)
}

func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
