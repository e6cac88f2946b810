package kafka

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/scope"
	"github.com/rainbow-me/platform-mdc/messaging"
)

const (
	// DefaultPollTimeout bounds every ReadMessage call so the loop notices cancellation.
	DefaultPollTimeout = 500 * time.Millisecond
	// DefaultRetryDelay is the pause before a failed message is read again.
	DefaultRetryDelay = time.Second
)

// Reader is the part of *kafka.Consumer the Consumer needs. Auto commit must be disabled.
type Reader interface {
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Seek(partition kafka.TopicPartition, ignoredTimeoutMs int) error
}

// Handler processes one message within its diagnostic scope.
type Handler func(ctx context.Context, msg *kafka.Message) error

// Consumer reads messages one at a time and runs each in a new diagnostic scope with the
// kafka/consumer entrypoint. An offset is committed only once its message was processed; a
// failed message is read again before anything after it on the same partition.
type Consumer struct {
	reader      Reader
	group       string
	handler     Handler
	mdc         *mdc.MDC
	log         *logger.Logger
	pollTimeout time.Duration
	retryDelay  time.Duration
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

func WithPollTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.pollTimeout = timeout
	}
}

// WithRetryDelay sets the pause before a failed message is read again.
func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.retryDelay = d
	}
}

func NewConsumer(reader Reader, group string, handler Handler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:      reader,
		group:       group,
		handler:     handler,
		mdc:         mdc.Default,
		log:         logger.Instance(),
		pollTimeout: DefaultPollTimeout,
		retryDelay:  DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named(componentName)
	return c
}

// Run consumes until ctx is done or the client reports a fatal error. Processing failures are
// logged, leave the offset uncommitted and rewind the partition so the message is redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	// consumer scopes never inherit the scope of whoever started the loop
	ctx = c.mdc.Detach(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		msg, err := c.reader.ReadMessage(c.pollTimeout)
		if err != nil {
			var kafkaErr kafka.Error
			if errors.As(err, &kafkaErr) {
				if kafkaErr.Code() == kafka.ErrTimedOut {
					continue
				}
				if kafkaErr.IsFatal() {
					return errors.Wrap(err, "kafka consumer")
				}
			}
			c.log.WithContext(ctx).Warn("Failed to read message", logger.Error(err))
			continue
		}
		if err := c.Handle(ctx, msg); err != nil {
			select {
			case <-ctx.Done():
			case <-time.After(c.retryDelay):
			}
		}
	}
}

// Handle processes a single message and commits its offset on success. On failure the
// partition is rewound to the message so the next read returns it again.
func (c *Consumer) Handle(ctx context.Context, msg *kafka.Message) error {
	d := messaging.Delivery{
		Headers:   messageHeaders(msg.Headers),
		MessageID: messageHeaders(msg.Headers).Get(messaging.KeyMessageID),
		Body:      msg.Value,
		Fields: []logger.Field{
			logger.String("topic", topicOf(msg)),
			logger.String("group", c.group),
			logger.Int32("partition", msg.TopicPartition.Partition),
			logger.Int64("offset", int64(msg.TopicPartition.Offset)),
		},
	}
	err := messaging.Process(ctx, c.mdc, scope.EntrypointKafka, c.log, d, func(ctx context.Context) error {
		return c.handler(ctx, msg)
	})
	if err != nil {
		if seekErr := c.reader.Seek(msg.TopicPartition, 0); seekErr != nil {
			c.log.WithContext(ctx).Error("Failed to rewind partition", logger.Error(seekErr),
				logger.Int32("partition", msg.TopicPartition.Partition),
				logger.Int64("offset", int64(msg.TopicPartition.Offset)))
			return errors.CombineErrors(err, errors.Wrap(seekErr, "rewind partition"))
		}
		return err
	}
	if _, err := c.reader.CommitMessage(msg); err != nil {
		c.log.WithContext(ctx).Error("Failed to commit offset", logger.Error(err))
		return errors.Wrap(err, "commit offset")
	}
	return nil
}
