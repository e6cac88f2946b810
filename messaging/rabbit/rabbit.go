// Package rabbit publishes and consumes RabbitMQ messages with the correlation id of the diagnostic scope.
// Published messages carry it both as the native AMQP correlation_id property and as the
// correlationId header.
package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/scope"
	"github.com/rainbow-me/platform-mdc/messaging"
)

const componentName = "rabbit"

// table reads AMQP headers case-insensitively.
type table amqp.Table

func (t table) Get(key string) string {
	for k, v := range t {
		if !strings.EqualFold(k, key) {
			continue
		}
		switch v := v.(type) {
		case string:
			return v
		case []byte:
			return string(v)
		case nil:
			return ""
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// Channel is the part of *amqp.Channel the Publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends messages to a queue through the default exchange.
type Publisher struct {
	channel Channel
	queue   string
}

func NewPublisher(channel Channel, queue string) *Publisher {
	return &Publisher{channel: channel, queue: queue}
}

// Publish sends body as a JSON message.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	out := messaging.NewOutgoing(ctx)
	msg := amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: out.CorrelationID,
		MessageId:     out.MessageID,
		Headers:       amqp.Table{},
		Body:          body,
	}
	for k, v := range out.Headers() {
		msg.Headers[k] = v
	}
	if err := p.channel.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return errors.Wrapf(err, "publish to %s", p.queue)
	}
	logger.FromContext(ctx).Named(componentName).Info("Message sent",
		logger.String("queue", p.queue), logger.String(messaging.KeyMessageID, out.MessageID))
	return nil
}

// PublishJSON marshals v and publishes it.
func (p *Publisher) PublishJSON(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal rabbit message")
	}
	return p.Publish(ctx, body)
}

// Handler processes one delivery within its diagnostic scope.
type Handler func(ctx context.Context, d amqp.Delivery) error

// Consumer runs every delivery of a queue in a new diagnostic scope with the rabbit/consumer
// entrypoint. A delivery is acknowledged once processed, and requeued when processing fails.
type Consumer struct {
	queue   string
	handler Handler
	mdc     *mdc.MDC
	log     *logger.Logger
}

type ConsumerOption func(*Consumer)

// WithMDC opens scopes in m instead of mdc.Default.
func WithMDC(m *mdc.MDC) ConsumerOption {
	return func(c *Consumer) {
		c.mdc = m
	}
}

func WithLogger(log *logger.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.log = log
	}
}

func NewConsumer(queue string, handler Handler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		queue:   queue,
		handler: handler,
		mdc:     mdc.Default,
		log:     logger.Instance(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named(componentName)
	return c
}

// Run handles deliveries, as returned by amqp.Channel.Consume with auto-ack off, until the
// channel is closed or ctx is done.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	ctx = c.mdc.Detach(ctx)
	c.log.WithContext(ctx).Info("Consumer connected", logger.String("queue", c.queue))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.Newf("deliveries of %s closed", c.queue)
			}
			_ = c.Handle(ctx, d)
		}
	}
}

// Handle processes a single delivery then acknowledges or requeues it.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) error {
	delivery := messaging.Delivery{
		Headers:             table(d.Headers),
		NativeCorrelationID: d.CorrelationId,
		MessageID:           d.MessageId,
		Body:                d.Body,
		Fields:              []logger.Field{logger.String("queue", c.queue)},
	}
	err := messaging.Process(ctx, c.mdc, scope.EntrypointRabbit, c.log, delivery, func(ctx context.Context) error {
		return c.handler(ctx, d)
	})
	if err != nil {
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.log.WithContext(ctx).Error("Failed to nack message", logger.Error(nackErr))
		}
		return err
	}
	if ackErr := d.Ack(false); ackErr != nil {
		c.log.WithContext(ctx).Error("Failed to ack message", logger.Error(ackErr))
		return errors.Wrap(ackErr, "ack")
	}
	return nil
}
