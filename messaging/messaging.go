// Package messaging holds what the broker consumers and producers share: how a consumed message
// opens a diagnostic scope, how its processing is logged, and the correlation properties a
// published message carries.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rainbow-me/platform-mdc/common/correlation"
	"github.com/rainbow-me/platform-mdc/common/headers"
	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/scope"
)

// KeyMessageID is the scope field and message header holding the broker message id.
const KeyMessageID = "messageId"

const (
	contentKey  = "content"
	durationKey = "duration"
)

// Delivery describes a consumed message, independently of the broker.
type Delivery struct {
	// Headers are the message headers or properties.
	Headers headers.Getter
	// NativeCorrelationID is the transport's own correlation property, if it has one.
	NativeCorrelationID string
	MessageID           string
	Body                []byte
	// Fields are written on every line logged for this delivery, e.g. topic or queue.
	Fields []logger.Field
}

// Process opens a scope for d, logs its reception and runs fn within the scope. A failure is
// logged with the message content and returned unchanged: the caller must not acknowledge.
func Process(ctx context.Context, m *mdc.MDC, entrypoint string, log *logger.Logger, d Delivery, fn func(ctx context.Context) error) error {
	fields := scope.MessageFields(d.Headers, d.NativeCorrelationID, entrypoint)
	logFields := d.Fields
	if d.MessageID != "" {
		fields[KeyMessageID] = d.MessageID
		logFields = append(logFields[:len(logFields):len(logFields)], logger.String(KeyMessageID, d.MessageID))
	}
	return scope.Open(ctx, m, fields, func(ctx context.Context) error {
		log := log.WithContext(ctx).With(logFields...)
		log.Info("Received message", ContentField(d.Body))

		start := time.Now()
		if err := fn(ctx); err != nil {
			log.Error("Failed to process message",
				ContentField(d.Body), logger.Duration(durationKey, time.Since(start)), logger.Error(err))
			return err
		}
		log.Debug("Processed message", logger.Duration(durationKey, time.Since(start)))
		return nil
	})
}

// ContentField logs a JSON body as an object and anything else as a string.
func ContentField(body []byte) logger.Field {
	if len(body) > 0 && json.Valid(body) {
		return logger.Reflect(contentKey, json.RawMessage(body))
	}
	return logger.String(contentKey, string(body))
}

// Outgoing are the correlation properties stamped on a published message.
type Outgoing struct {
	CorrelationID string
	MessageID     string
}

// NewOutgoing reads the correlation id of the active scope, or generates one, and a fresh message id.
// The request id is never propagated.
func NewOutgoing(ctx context.Context) Outgoing {
	return Outgoing{
		CorrelationID: correlation.FromContextOrNew(ctx),
		MessageID:     uuid.NewString(),
	}
}

// Headers returns the properties in their canonical header names.
func (o Outgoing) Headers() map[string]string {
	return map[string]string{
		headers.MessageCorrelationID: o.CorrelationID,
		KeyMessageID:                 o.MessageID,
	}
}
