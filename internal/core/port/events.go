package port

import (
	"context"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
)

// EventPublisher publishes notification requests and identity changes to the message bus.
type EventPublisher interface {
	PublishEmailVerificationRequested(ctx context.Context, event domain.EmailVerificationRequestedEvent) error
	PublishSMSCodeRequested(ctx context.Context, event domain.SMSCodeRequestedEvent) error
	PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error
	PublishIdentityChanged(ctx context.Context, event domain.IdentityChangedEvent) error
}
