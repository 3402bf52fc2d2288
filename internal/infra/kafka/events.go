package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
)

const schemaVersion = "1.0"

// Event types, also used as topic names after the configured prefix.
const (
	EventEmailVerificationRequested = "notification.email_verification.requested"
	EventSMSCodeRequested           = "notification.sms_code.requested"
	EventPasswordResetRequested     = "notification.password_reset.requested"
	EventIdentityChanged            = "identity.session.changed"
)

// EventPublisher implements port.EventPublisher on top of Producer.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
	now      func() time.Time
}

func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger, now: time.Now}
}

type eventEnvelope struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	Subject   string            `json:"subject,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type identityChangedPayload struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	SignedIn  bool      `json:"signed_in"`
	ChangedAt time.Time `json:"changed_at"`
	Origin    string    `json:"origin,omitempty"`
}

// publish enqueues one envelope. key selects the partition so events for one
// recipient stay ordered.
func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, key string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = p.now()
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	body, err := json.Marshal(eventEnvelope{
		EventID:   eventID,
		EventType: eventType,
		Subject:   key,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(eventType)},
			{Key: []byte("event_id"), Value: []byte(eventID)},
		},
	}
	if key != "" {
		message.Key = sarama.StringEncoder(key)
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *EventPublisher) PublishEmailVerificationRequested(ctx context.Context, event domain.EmailVerificationRequestedEvent) error {
	payload := struct {
		UserID      string    `json:"user_id"`
		Email       string    `json:"email"`
		Token       string    `json:"token"`
		RequestedAt time.Time `json:"requested_at"`
		ExpiresAt   time.Time `json:"expires_at"`
	}{
		UserID:      event.UserID,
		Email:       event.Email,
		Token:       event.Token,
		RequestedAt: event.RequestedAt.UTC(),
		ExpiresAt:   event.ExpiresAt.UTC(),
	}
	return p.publish(ctx, event.EventID, EventEmailVerificationRequested, event.UserID, event.RequestedAt, payload)
}

func (p *EventPublisher) PublishSMSCodeRequested(ctx context.Context, event domain.SMSCodeRequestedEvent) error {
	payload := struct {
		PendingID   string    `json:"pending_id"`
		Phone       string    `json:"phone"`
		Code        string    `json:"code"`
		RequestedAt time.Time `json:"requested_at"`
		ExpiresAt   time.Time `json:"expires_at"`
	}{
		PendingID:   event.PendingID,
		Phone:       event.Phone,
		Code:        event.Code,
		RequestedAt: event.RequestedAt.UTC(),
		ExpiresAt:   event.ExpiresAt.UTC(),
	}
	return p.publish(ctx, event.EventID, EventSMSCodeRequested, event.Phone, event.RequestedAt, payload)
}

func (p *EventPublisher) PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := struct {
		UserID      string    `json:"user_id"`
		Email       string    `json:"email"`
		Token       string    `json:"token"`
		RequestedAt time.Time `json:"requested_at"`
		ExpiresAt   time.Time `json:"expires_at"`
	}{
		UserID:      event.UserID,
		Email:       event.Email,
		Token:       event.Token,
		RequestedAt: event.RequestedAt.UTC(),
		ExpiresAt:   event.ExpiresAt.UTC(),
	}
	return p.publish(ctx, event.EventID, EventPasswordResetRequested, event.UserID, event.RequestedAt, payload)
}

func (p *EventPublisher) PublishIdentityChanged(ctx context.Context, event domain.IdentityChangedEvent) error {
	payload := identityChangedPayload{
		SessionID: event.SessionID,
		UserID:    event.UserID,
		SignedIn:  event.SignedIn,
		ChangedAt: event.ChangedAt.UTC(),
		Origin:    event.Origin,
	}
	return p.publish(ctx, event.EventID, EventIdentityChanged, event.SessionID, event.ChangedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
