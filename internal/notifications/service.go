/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notifications alerts subscribers when a slot becomes bookable.
package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// Sender delivers a text message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// TelegramSender sends through the Telegram Bot API.
type TelegramSender struct {
	bot *bot.Bot
}

// NewTelegramSender creates a bot client for token.
func NewTelegramSender(token string) (*TelegramSender, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSender{bot: b}, nil
}

// Send posts text to chatID.
func (t *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	return err
}

// Config holds notification service configuration.
type Config struct {
	ChatID int64
	// Names maps category ids to display names; ids are used when absent.
	Names map[string]string
	// SendTimeout bounds one delivery.
	SendTimeout time.Duration
}

// Service handles notification delivery for slot changes.
type Service struct {
	sender Sender
	bus    *events.Bus
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	notified map[string]string // slot key -> civil date of the last alert
}

// NewService creates a new notification service.
func NewService(sender Sender, bus *events.Bus, config Config, logger zerolog.Logger) *Service {
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}
	return &Service{
		sender:   sender,
		bus:      bus,
		config:   config,
		logger:   logger.With().Str("component", "notifications").Logger(),
		notified: make(map[string]string),
	}
}

// Start consumes slot changes until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	changes := s.bus.SubscribeBuffered(events.EventSlotChanged, 64)
	cleared := s.bus.Subscribe(events.EventSnapshotCleared)
	defer func() {
		s.bus.Unsubscribe(events.EventSlotChanged, changes)
		s.bus.Unsubscribe(events.EventSnapshotCleared, cleared)
	}()

	s.logger.Info().Int64("chat_id", s.config.ChatID).Msg("notification service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("notification service stopping")
			return
		case payload := <-changes:
			s.handleSlotChange(ctx, payload)
		case <-cleared:
			s.mu.Lock()
			s.notified = make(map[string]string)
			s.mu.Unlock()
		}
	}
}

// handleSlotChange alerts when a previously unavailable slot opens up.
// Each key alerts at most once per day.
func (s *Service) handleSlotChange(ctx context.Context, payload events.Payload) {
	if !ShouldNotify(payload) {
		return
	}

	key := payload.String(events.KeySlotKey)
	day := ""
	if observed, ok := payload[events.KeyObservedAt].(time.Time); ok {
		day = observed.Format("2006-01-02")
	}

	s.mu.Lock()
	if s.notified[key] == day {
		s.mu.Unlock()
		return
	}
	s.notified[key] = day
	s.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
	defer cancel()

	if err := s.sender.Send(sendCtx, s.config.ChatID, s.FormatMessage(payload)); err != nil {
		telemetry.NotificationsSentTotal.WithLabelValues("telegram", "error").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("notification failed")
		// Allow a retry on the next change.
		s.mu.Lock()
		delete(s.notified, key)
		s.mu.Unlock()
		return
	}
	telemetry.NotificationsSentTotal.WithLabelValues("telegram", "sent").Inc()
	s.logger.Debug().Str("key", key).Msg("notification sent")
}

// ShouldNotify reports whether a change is a slot turning bookable after
// having been seen in another state.
func ShouldNotify(payload events.Payload) bool {
	previous := payload.String(events.KeyPreviousStatus)
	return payload.String(events.KeyStatus) == models.LiteralOpen &&
		previous != "" && previous != models.LiteralOpen
}

// FormatMessage renders the alert text.
func (s *Service) FormatMessage(payload events.Payload) string {
	category := payload.String(events.KeyCategory)
	name := category
	if n, ok := s.config.Names[category]; ok && n != "" {
		name = n
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s 회차 %s", name, payload.String(events.KeyTime), models.LiteralOpen)
	used, total := payload.IntPtr(events.KeyAvailable), payload.IntPtr(events.KeyTotal)
	if used != nil && total != nil {
		fmt.Fprintf(&b, " (%d/%d)", *used, *total)
	}
	return b.String()
}
