package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Codes and link tokens are never logged.
type StubPublisher struct {
	logger *zap.Logger
}

func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now()
	}
	fields = append([]zap.Field{
		zap.String("event_type", eventType),
		zap.Time("timestamp", at.UTC()),
	}, fields...)
	p.logger.Info("stub event published", fields...)
}

func (p *StubPublisher) PublishEmailVerificationRequested(_ context.Context, event domain.EmailVerificationRequestedEvent) error {
	p.logEvent(EventEmailVerificationRequested, event.RequestedAt,
		zap.String("user_id", event.UserID),
		zap.String("email", logger.MaskEmail(event.Email)),
		zap.Time("expires_at", event.ExpiresAt),
	)
	return nil
}

func (p *StubPublisher) PublishSMSCodeRequested(_ context.Context, event domain.SMSCodeRequestedEvent) error {
	p.logEvent(EventSMSCodeRequested, event.RequestedAt,
		zap.String("pending_id", event.PendingID),
		zap.String("phone", logger.MaskPhone(event.Phone)),
		zap.Time("expires_at", event.ExpiresAt),
	)
	return nil
}

func (p *StubPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	p.logEvent(EventPasswordResetRequested, event.RequestedAt,
		zap.String("user_id", event.UserID),
		zap.String("email", logger.MaskEmail(event.Email)),
		zap.Time("expires_at", event.ExpiresAt),
	)
	return nil
}

func (p *StubPublisher) PublishIdentityChanged(_ context.Context, event domain.IdentityChangedEvent) error {
	p.logEvent(EventIdentityChanged, event.ChangedAt,
		zap.String("session_id", event.SessionID),
		zap.String("user_id", event.UserID),
		zap.Bool("signed_in", event.SignedIn),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
