package nethttp

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"

	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/http/interceptors"
)

type requestStateKey struct{}

// requestState is shared by the logging and recovery middlewares of one request.
type requestState struct {
	responseLogged atomic.Bool
}

func stateFrom(ctx context.Context) *requestState {
	s, _ := ctx.Value(requestStateKey{}).(*requestState)
	return s
}

// Logging writes the [req] line before next runs and the [res] line once it returned, using
// the status and size recorded by gorilla's logging handler.
func Logging(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		recorded := handlers.CustomLoggingHandler(io.Discard, next, logResponse)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = r.WithContext(context.WithValue(r.Context(), requestStateKey{}, &requestState{}))
			log := logger.FromContext(r.Context()).Named(componentName)

			interceptors.LogRequest(log, r)
			stop := interceptors.WatchTimeout(log, r, timeout)
			defer stop()

			recorded.ServeHTTP(w, r)
		})
	}
}

func logResponse(_ io.Writer, params handlers.LogFormatterParams) {
	r := params.Request
	if s := stateFrom(r.Context()); s != nil && s.responseLogged.Load() {
		return
	}
	log := logger.FromContext(r.Context()).Named(componentName)
	interceptors.LogResponse(log, r, params.StatusCode, time.Since(params.TimeStamp), nil,
		logger.Int("response_size", params.Size))
}
