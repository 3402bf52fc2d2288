package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
)

const consumeRetryDelay = 2 * time.Second

// MessageHandler processes one consumed message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// ConsumerGroup feeds messages from a set of topics to a handler. Messages
// are marked even when the handler fails, so one bad event cannot stall a
// partition.
type ConsumerGroup struct {
	group     sarama.ConsumerGroup
	topics    []string
	handler   MessageHandler
	logger    *zap.Logger
	closeOnce sync.Once
}

// NewConsumerGroup joins groupID on the configured brokers. Consumption starts
// at the newest offset; eventTypes are resolved to topics like the producer does.
func NewConsumerGroup(cfg config.KafkaSettings, groupID string, eventTypes []string, handler MessageHandler, logger *zap.Logger) (*ConsumerGroup, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}
	if groupID == "" {
		return nil, fmt.Errorf("consumer group id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.ClientID = "roomie-identity"
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	topics := make([]string, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		topics = append(topics, topicName(cfg.TopicPrefix, eventType))
	}

	logger.Info("kafka consumer group initialized",
		zap.String("group_id", groupID),
		zap.Strings("topics", topics),
	)
	return newConsumerGroup(group, topics, handler, logger), nil
}

func newConsumerGroup(group sarama.ConsumerGroup, topics []string, handler MessageHandler, logger *zap.Logger) *ConsumerGroup {
	return &ConsumerGroup{group: group, topics: topics, handler: handler, logger: logger}
}

// Run consumes until ctx ends or the group is closed. Session errors are
// logged and consumption resumes after a short delay.
func (c *ConsumerGroup) Run(ctx context.Context) {
	go c.drainErrors()

	for {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			c.logger.Warn("kafka consume failed", zap.Strings("topics", c.topics), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(consumeRetryDelay):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *ConsumerGroup) drainErrors() {
	for err := range c.group.Errors() {
		c.logger.Warn("kafka consumer error", zap.Error(err))
	}
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *ConsumerGroup) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *ConsumerGroup) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler.
func (c *ConsumerGroup) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.handler.HandleMessage(session.Context(), msg); err != nil {
				c.logger.Warn("kafka message handling failed",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// Close leaves the group.
func (c *ConsumerGroup) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.logger.Info("closing kafka consumer group")
		if cerr := c.group.Close(); cerr != nil {
			err = fmt.Errorf("close kafka consumer group: %w", cerr)
		}
	})
	return err
}

var _ sarama.ConsumerGroupHandler = (*ConsumerGroup)(nil)
