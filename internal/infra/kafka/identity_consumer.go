package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
)

// SessionRefresher reloads a session slot and notifies its local subscribers.
type SessionRefresher interface {
	Refresh(ctx context.Context, sid string) error
}

// IdentityChangedConsumer applies sign-ins and sign-outs made by other
// instances to the identity streams held by this one.
type IdentityChangedConsumer struct {
	sessions SessionRefresher
	origin   string
	logger   *zap.Logger
}

// NewIdentityChangedConsumer constructs a consumer. Events whose origin equals
// origin were already delivered locally and are skipped.
func NewIdentityChangedConsumer(sessions SessionRefresher, origin string, logger *zap.Logger) *IdentityChangedConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityChangedConsumer{sessions: sessions, origin: origin, logger: logger}
}

type identityChangedEnvelope struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	Payload   identityChangedPayload `json:"payload"`
}

// HandleMessage decodes an identity change envelope and applies it.
func (c *IdentityChangedConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	var envelope identityChangedEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return fmt.Errorf("decode identity change event: %w", err)
	}
	if envelope.EventType != EventIdentityChanged {
		c.logger.Debug("skipping unexpected event type", zap.String("event_type", envelope.EventType))
		return nil
	}

	return c.HandleEvent(ctx, domain.IdentityChangedEvent{
		EventID:   envelope.EventID,
		SessionID: envelope.Payload.SessionID,
		UserID:    envelope.Payload.UserID,
		SignedIn:  envelope.Payload.SignedIn,
		ChangedAt: envelope.Payload.ChangedAt,
		Origin:    envelope.Payload.Origin,
	})
}

// HandleEvent refreshes the local subscribers of the event's session slot.
func (c *IdentityChangedConsumer) HandleEvent(ctx context.Context, event domain.IdentityChangedEvent) error {
	if c.sessions == nil {
		return nil
	}
	if event.Origin != "" && event.Origin == c.origin {
		return nil
	}
	if event.SessionID == "" {
		return fmt.Errorf("identity change event %s has no session id", event.EventID)
	}

	if err := c.sessions.Refresh(ctx, event.SessionID); err != nil {
		c.logger.Warn("failed to refresh session subscribers",
			zap.String("event_id", event.EventID),
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
		return fmt.Errorf("refresh session: %w", err)
	}
	return nil
}

var _ MessageHandler = (*IdentityChangedConsumer)(nil)
