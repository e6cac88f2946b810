// Package interceptors holds the request logging shared by the HTTP server adapters.
package interceptors

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rainbow-me/platform-mdc/common/attributes"
	"github.com/rainbow-me/platform-mdc/common/logger"
)

// Record keys of the request and response lines.
const (
	HTTPKey     = "http"
	NetworkKey  = "network"
	DurationKey = "duration"
)

// InternalServerErrorBody is the only body sent for failed requests, details go to the logs.
var InternalServerErrorBody = map[string]string{"message": "internal server error"}

// LogRequest writes the "[req] METHOD URL" line.
func LogRequest(log *logger.Logger, r *http.Request) {
	log.Info(fmt.Sprintf("[req] %s %s", r.Method, requestURL(r)),
		logger.Object(HTTPKey, attributes.BuildHTTPAttributes(r, nil)),
		logger.Object(NetworkKey, attributes.BuildNetworkAttributes(r)),
	)
}

// LogResponse writes the "[res] METHOD URL STATUS (Nms)" line. 5xx responses and failures are
// logged as errors, 4xx responses as warnings.
func LogResponse(log *logger.Logger, r *http.Request, status int, duration time.Duration, err error, extra ...logger.Field) {
	fields := append([]logger.Field{
		logger.Object(HTTPKey, attributes.BuildHTTPAttributes(r, attributes.Status(status))),
		logger.Object(NetworkKey, attributes.BuildNetworkAttributes(r)),
		logger.Duration(DurationKey, duration),
	}, extra...)
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	log.Log(StatusLevel(status, err), fmt.Sprintf("[res] %s %s %d (%dms)", r.Method, requestURL(r), status, duration.Milliseconds()), fields...)
}

// LogTimeout writes the "[res] METHOD URL (TIMEOUT)" line for a request still running past its deadline.
func LogTimeout(log *logger.Logger, r *http.Request, timeout time.Duration) {
	log.Error(fmt.Sprintf("[res] %s %s (TIMEOUT)", r.Method, requestURL(r)),
		logger.Object(HTTPKey, attributes.BuildHTTPAttributes(r, nil)),
		logger.Object(NetworkKey, attributes.BuildNetworkAttributes(r)),
		logger.Duration("timeout", timeout),
	)
}

// StatusLevel maps a response to the level of its log line.
func StatusLevel(status int, err error) logger.Level {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return logger.ErrorLevel
	case status >= http.StatusBadRequest:
		return logger.WarnLevel
	default:
		return logger.InfoLevel
	}
}

// WatchTimeout logs a timeout line if stop is not called within timeout.
func WatchTimeout(log *logger.Logger, r *http.Request, timeout time.Duration) (stop func()) {
	if timeout <= 0 {
		return func() {}
	}
	timer := time.AfterFunc(timeout, func() {
		LogTimeout(log, r, timeout)
	})
	return func() { timer.Stop() }
}

func requestURL(r *http.Request) string {
	if r.RequestURI != "" || r.URL == nil {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}
