package gin

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/gin-gonic/gin"

	"github.com/rainbow-me/platform-mdc/common/env"
	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/http/interceptors"
)

// ErrorHandlingMiddleware turns errors attached with c.Error into a generic 500 response.
// The error is only written to the logs, as part of the response line, and tagged on the span.
func ErrorHandlingMiddleware(c *gin.Context) {
	c.Next()
	if len(c.Errors) == 0 {
		return
	}
	err := c.Errors.Last().Err
	logFailure(c, http.StatusInternalServerError, err, logger.String("path", c.FullPath()))
	if env.IsLocalApplicationEnv() {
		// pretty print the error to the local console to make it human-readable in case it has a stack trace
		_, _ = fmt.Fprintf(os.Stderr, "Error in gin http handler: %+v\n", err)
	}
	tagSpanAsError(c.Request.Context(), "internal", err.Error())
	if !c.Writer.Written() {
		c.JSON(http.StatusInternalServerError, interceptors.InternalServerErrorBody)
	}
}

// PanicRecoveryMiddleware recovers panics into a generic 500 response, logging the panic
// value and stack with the response line, and tags the span with the error
func PanicRecoveryMiddleware(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			logFailure(c, http.StatusInternalServerError, nil, logger.WithPanic(r)...)
			if env.IsLocalApplicationEnv() {
				// pretty print the stack trace to the local console to make it human-readable
				_, _ = fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
			}
			tagSpanAsError(c.Request.Context(), "panic", fmt.Sprintf("%v", r))
			c.AbortWithStatusJSON(http.StatusInternalServerError, interceptors.InternalServerErrorBody)
		}
	}()
	c.Next()
}

func tagSpanAsError(ctx context.Context, errorType string, errorMsg string) {
	// Mark the span as failed if tracing is available
	span, ok := tracer.SpanFromContext(ctx)
	if ok {
		span.SetTag(ext.Error, true)
		span.SetTag(ext.ErrorType, errorType)
		span.SetTag(ext.ErrorMsg, errorMsg)
	}
}

// TimeoutMiddleware sets a timeout on the request context
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
