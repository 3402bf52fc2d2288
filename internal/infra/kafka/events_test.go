package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/abdulhad-eng/home-fair-share/internal/core/domain"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T, onError func(string)) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()
	async := newFakeAsyncProducer()
	producer := newProducer(async, config.KafkaSettings{TopicPrefix: "roomie"}, zaptest.NewLogger(t), onError)
	t.Cleanup(func() { _ = producer.Close() })

	publisher := NewEventPublisher(producer, config.AppSettings{Name: "roomie-identity", Env: "test"}, zaptest.NewLogger(t))
	return publisher, async
}

func receiveEnvelope(t *testing.T, async *fakeAsyncProducer) (*sarama.ProducerMessage, map[string]any) {
	t.Helper()
	select {
	case msg := <-async.input:
		raw, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}
		var envelope map[string]any
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		return msg, envelope
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message on async producer input channel")
	}
	return nil, nil
}

func TestPublishSMSCodeRequested(t *testing.T) {
	publisher, async := newTestPublisher(t, nil)

	requestedAt := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	event := domain.SMSCodeRequestedEvent{
		EventID:     "event-1",
		PendingID:   "pv-1",
		Phone:       "+15551234567",
		Code:        "123456",
		RequestedAt: requestedAt,
		ExpiresAt:   requestedAt.Add(10 * time.Minute),
	}

	if err := publisher.PublishSMSCodeRequested(context.Background(), event); err != nil {
		t.Fatalf("PublishSMSCodeRequested returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, async)
	if msg.Topic != "roomie.notification.sms_code.requested" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	key, _ := msg.Key.Encode()
	if string(key) != event.Phone {
		t.Fatalf("expected message keyed by phone, got %q", key)
	}
	if envelope["event_id"] != "event-1" || envelope["event_type"] != EventSMSCodeRequested {
		t.Fatalf("unexpected envelope header fields: %v", envelope)
	}
	if envelope["timestamp"] != requestedAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp: %v", envelope["timestamp"])
	}

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload not a map: %T", envelope["payload"])
	}
	if payload["pending_id"] != "pv-1" || payload["code"] != "123456" || payload["phone"] != event.Phone {
		t.Fatalf("unexpected payload: %v", payload)
	}

	metadata, ok := envelope["metadata"].(map[string]any)
	if !ok || metadata["service"] != "roomie-identity" || metadata["environment"] != "test" {
		t.Fatalf("unexpected metadata: %v", envelope["metadata"])
	}
}

func TestPublishEmailVerificationRequested(t *testing.T) {
	publisher, async := newTestPublisher(t, nil)

	event := domain.EmailVerificationRequestedEvent{
		UserID:      "user-1",
		Email:       "flat@example.com",
		Token:       "link-token",
		RequestedAt: time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(24 * time.Hour),
	}
	if err := publisher.PublishEmailVerificationRequested(context.Background(), event); err != nil {
		t.Fatalf("PublishEmailVerificationRequested returned error: %v", err)
	}

	msg, envelope := receiveEnvelope(t, async)
	if msg.Topic != "roomie.notification.email_verification.requested" {
		t.Fatalf("unexpected topic: %s", msg.Topic)
	}
	if id, _ := envelope["event_id"].(string); id == "" {
		t.Fatal("expected generated event id")
	}
	payload := envelope["payload"].(map[string]any)
	if payload["token"] != "link-token" || payload["user_id"] != "user-1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestPublishRespectsContextWhenProducerIsBlocked(t *testing.T) {
	publisher, async := newTestPublisher(t, nil)
	async.input <- &sarama.ProducerMessage{} // fill the buffer

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := publisher.PublishIdentityChanged(ctx, domain.IdentityChangedEvent{SessionID: "sid-1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestProducerReportsDeliveryErrors(t *testing.T) {
	failed := make(chan string, 1)
	_, async := newTestPublisher(t, func(topic string) { failed <- topic })

	async.errors <- &sarama.ProducerError{
		Msg: &sarama.ProducerMessage{Topic: "roomie.notification.sms_code.requested"},
		Err: errors.New("broker down"),
	}

	select {
	case topic := <-failed:
		if topic != "roomie.notification.sms_code.requested" {
			t.Fatalf("unexpected topic: %s", topic)
		}
	case <-time.After(time.Second):
		t.Fatal("error hook was not called")
	}
}

func TestTopicName(t *testing.T) {
	p := &Producer{cfg: config.KafkaSettings{TopicPrefix: "roomie"}}
	if got := p.TopicName("roomie.identity.session.changed"); got != "roomie.identity.session.changed" {
		t.Fatalf("prefix applied twice: %s", got)
	}
	if got := p.TopicName(EventPasswordResetRequested); got != "roomie.notification.password_reset.requested" {
		t.Fatalf("unexpected topic: %s", got)
	}
}
