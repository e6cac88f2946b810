package correlation

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/rainbow-me/platform-mdc/common/mdc"
)

// Version is the leading segment of generated correlation ids.
const Version = "1"

// SpanTag is the span tag carrying the correlation id.
const SpanTag = "correlation_id"

var ErrInvalidID = errors.New("invalid correlation id")

// ID is a parsed correlation id of the form {version}-{epochMillis}-{uniqueId}.
type ID struct {
	Version  string
	Time     time.Time
	UniqueID string
}

func (id ID) String() string {
	return id.Version + "-" + strconv.FormatInt(id.Time.UnixMilli(), 10) + "-" + id.UniqueID
}

// NewID generates a fresh correlation id.
func NewID() string {
	return NewIDWithVersion(Version)
}

// NewIDWithVersion generates a correlation id with the given version segment.
func NewIDWithVersion(version string) string {
	return ID{
		Version:  version,
		Time:     time.Now(),
		UniqueID: strings.ReplaceAll(uuid.NewString(), "-", ""),
	}.String()
}

// NewRequestID generates a request id. Request ids identify one scope and are never propagated.
func NewRequestID() string {
	return uuid.NewString()
}

// Parse splits a generated correlation id into its parts. Ids received from other systems
// (for instance an AWS trace id) are valid correlation ids but do not parse.
func Parse(s string) (ID, error) {
	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 || parts[0] == "" {
		return ID{}, errors.Wrapf(ErrInvalidID, "%q", s)
	}
	millis, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ID{}, errors.Wrapf(ErrInvalidID, "%q: bad timestamp", s)
	}
	if len(parts[2]) != 32 {
		return ID{}, errors.Wrapf(ErrInvalidID, "%q: bad unique id", s)
	}
	if _, err = uuid.Parse(parts[2]); err != nil {
		return ID{}, errors.Wrapf(ErrInvalidID, "%q: bad unique id", s)
	}
	return ID{Version: parts[0], Time: time.UnixMilli(millis), UniqueID: parts[2]}, nil
}

// IsGenerated reports whether s has the shape of an id produced by NewID.
func IsGenerated(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// FromContext returns the correlation id of the active scope, or "" without one.
func FromContext(ctx context.Context) string {
	return mdc.CorrelationID(ctx)
}

// FromContextOrNew returns the active correlation id, or a freshly generated one when no scope is
// active. Outbound propagators use it so the chain continues even from unscoped code.
func FromContextOrNew(ctx context.Context) string {
	if id := mdc.CorrelationID(ctx); id != "" {
		return id
	}
	return NewID()
}

// TagSpan sets the correlation id of the active scope on the span found in ctx, if any.
func TagSpan(ctx context.Context) {
	id := mdc.CorrelationID(ctx)
	if id == "" {
		return
	}
	if span, ok := tracer.SpanFromContext(ctx); ok {
		span.SetTag(SpanTag, id)
	}
}
