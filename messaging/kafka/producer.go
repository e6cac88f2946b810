package kafka

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/messaging"
)

// Producer is the part of *kafka.Producer the Publisher needs.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

// Publisher writes messages to one topic, stamping the correlationId and messageId headers.
type Publisher struct {
	producer Producer
	topic    string
}

func NewPublisher(producer Producer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// Publish writes value and waits for its delivery report.
func (p *Publisher) Publish(ctx context.Context, key, value []byte) error {
	out := messaging.NewOutgoing(ctx)
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          value,
	}
	for k, v := range out.Headers() {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	delivery := make(chan kafka.Event, 1)
	if err := p.producer.Produce(msg, delivery); err != nil {
		return errors.Wrapf(err, "produce to %s", p.topic)
	}

	select {
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for delivery to %s", p.topic)
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return errors.Newf("unexpected delivery event %v", e)
		}
		if m.TopicPartition.Error != nil {
			return errors.Wrapf(m.TopicPartition.Error, "deliver to %s", p.topic)
		}
	}

	logger.FromContext(ctx).Named(componentName).Info("Message sent",
		logger.String("topic", p.topic), logger.String(messaging.KeyMessageID, out.MessageID))
	return nil
}

// PublishJSON marshals v and publishes it without a key.
func (p *Publisher) PublishJSON(ctx context.Context, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal kafka message")
	}
	return p.Publish(ctx, nil, value)
}
