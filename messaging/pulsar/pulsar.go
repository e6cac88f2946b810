// Package pulsar publishes and consumes Pulsar messages with the correlation id of the diagnostic
// scope, carried in the correlationId message property.
package pulsar

import (
	"context"
	"encoding/json"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/cockroachdb/errors"

	"github.com/rainbow-me/platform-mdc/common/headers"
	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/scope"
	"github.com/rainbow-me/platform-mdc/messaging"
)

const componentName = "pulsar"

// Sender is the part of pulsar.Producer the Publisher needs.
type Sender interface {
	Send(ctx context.Context, msg *pulsar.ProducerMessage) (pulsar.MessageID, error)
	Topic() string
}

type Publisher struct {
	sender Sender
}

func NewPublisher(sender Sender) *Publisher {
	return &Publisher{sender: sender}
}

// Publish sends payload and waits for the broker acknowledgement.
func (p *Publisher) Publish(ctx context.Context, key string, payload []byte) (pulsar.MessageID, error) {
	out := messaging.NewOutgoing(ctx)
	id, err := p.sender.Send(ctx, &pulsar.ProducerMessage{
		Key:        key,
		Payload:    payload,
		Properties: out.Headers(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "send to %s", p.sender.Topic())
	}
	logger.FromContext(ctx).Named(componentName).Info("Message sent",
		logger.String("topic", p.sender.Topic()), logger.String(messaging.KeyMessageID, out.MessageID))
	return id, nil
}

func (p *Publisher) PublishJSON(ctx context.Context, v any) (pulsar.MessageID, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal pulsar message")
	}
	return p.Publish(ctx, "", payload)
}

// Receiver is the part of pulsar.Consumer the Consumer needs.
type Receiver interface {
	Receive(ctx context.Context) (pulsar.Message, error)
	Ack(msg pulsar.Message) error
	Nack(msg pulsar.Message)
}

// Handler processes one message within its diagnostic scope.
type Handler func(ctx context.Context, msg pulsar.Message) error

// Consumer runs every received message in a new diagnostic scope with the pulsar/consumer
// entrypoint. A message is acknowledged once processed and negatively acknowledged otherwise,
// so the broker redelivers it.
type Consumer struct {
	receiver Receiver
	handler  Handler
	mdc      *mdc.MDC
	log      *logger.Logger
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

func NewConsumer(receiver Receiver, handler Handler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		receiver: receiver,
		handler:  handler,
		mdc:      mdc.Default,
		log:      logger.Instance(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named(componentName)
	return c
}

// Run receives until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	ctx = c.mdc.Detach(ctx)
	for {
		msg, err := c.receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "pulsar receive")
		}
		_ = c.Handle(ctx, msg)
	}
}

// Handle processes a single message then acks or nacks it.
func (c *Consumer) Handle(ctx context.Context, msg pulsar.Message) error {
	props := headers.Map(msg.Properties())
	d := messaging.Delivery{
		Headers:   props,
		MessageID: props.Get(messaging.KeyMessageID),
		Body:      msg.Payload(),
		Fields: []logger.Field{
			logger.String("topic", msg.Topic()),
			logger.Uint32("redelivery_count", msg.RedeliveryCount()),
		},
	}
	err := messaging.Process(ctx, c.mdc, scope.EntrypointPulsar, c.log, d, func(ctx context.Context) error {
		return c.handler(ctx, msg)
	})
	if err != nil {
		c.receiver.Nack(msg)
		return err
	}
	if ackErr := c.receiver.Ack(msg); ackErr != nil {
		// the client retries acks in the background, the message was processed
		c.log.WithContext(ctx).Warn("Failed to ack message", logger.Error(ackErr))
	}
	return nil
}
