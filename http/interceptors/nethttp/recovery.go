package nethttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"

	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/http/interceptors"
)

// Recovery turns a panic in next into a generic 500 response. The panic value and stack
// are written with the response line.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			// let the server abort the connection
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log := logger.FromContext(r.Context()).Named(componentName)
			interceptors.LogResponse(log, r, http.StatusInternalServerError, time.Since(start), nil, logger.WithPanic(rec)...)
			if s := stateFrom(r.Context()); s != nil {
				s.responseLogged.Store(true)
			}
			if span, ok := tracer.SpanFromContext(r.Context()); ok {
				span.SetTag(ext.Error, true)
				span.SetTag(ext.ErrorType, "panic")
				span.SetTag(ext.ErrorMsg, fmt.Sprintf("%v", rec))
			}
			WriteInternalServerError(w)
		}()
		next.ServeHTTP(w, r)
	})
}

// WriteInternalServerError writes the generic failure body.
func WriteInternalServerError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(interceptors.InternalServerErrorBody)
}
