package gin

import (
	"bytes"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/http/interceptors"
)

const (
	startKey          = "platform-mdc/start"
	responseLoggedKey = "platform-mdc/response-logged"
)

type loggingCfg struct {
	trace   bool
	timeout time.Duration
}

type responseWriterCapture struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriterCapture) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

// RequestLogging writes a "[req]" line when a request arrives and a single "[res]" line when it
// completes. A "(TIMEOUT)" line is written if the handler is still running after cfg.timeout.
func RequestLogging(cfg loggingCfg) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromContext(c.Request.Context()).Named(componentName)
		var reqBody []byte

		// Capture the request body if trace logging is enabled
		if cfg.trace && c.Request.Body != nil {
			bodyBytes, err := io.ReadAll(c.Request.Body)
			if err == nil {
				reqBody = bodyBytes
				// Restore the request body for downstream handlers
				c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			}
		}

		var responseCapture *responseWriterCapture
		if cfg.trace {
			responseCapture = &responseWriterCapture{
				ResponseWriter: c.Writer,
				body:           &bytes.Buffer{},
			}
			c.Writer = responseCapture
		}

		c.Set(startKey, time.Now())
		interceptors.LogRequest(log, c.Request)
		stop := interceptors.WatchTimeout(log, c.Request, cfg.timeout)

		c.Next()
		stop()

		if c.GetBool(responseLoggedKey) {
			return
		}
		var fields []logger.Field
		if responseCapture != nil {
			fields = append(fields,
				logger.ByteString("request_body", reqBody),
				logger.ByteString("response_body", responseCapture.body.Bytes()),
			)
		}
		interceptors.LogResponse(log, c.Request, c.Writer.Status(), elapsed(c), nil, fields...)
	}
}

// logFailure writes the response line of a failed request and marks it as logged.
func logFailure(c *gin.Context, status int, err error, fields ...logger.Field) {
	log := logger.FromContext(c.Request.Context()).Named(componentName)
	interceptors.LogResponse(log, c.Request, status, elapsed(c), err, fields...)
	c.Set(responseLoggedKey, true)
}

func elapsed(c *gin.Context) time.Duration {
	if start, ok := c.Get(startKey); ok {
		return time.Since(start.(time.Time))
	}
	return 0
}
