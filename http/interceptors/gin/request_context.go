package gin

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/rainbow-me/platform-mdc/common/correlation"
	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/scope"
)

// RequestContextMiddleware opens a diagnostic scope of m for every request. The correlation id
// comes from X-Correlation-Id, then X-Amzn-Trace-Id, or is generated. Client identity headers
// and the user returned by resolveUser are added when present. A nil m means mdc.Default.
func RequestContextMiddleware(m *mdc.MDC, resolveUser scope.UserResolver) gin.HandlerFunc {
	if m == nil {
		m = mdc.Default
	}
	return func(c *gin.Context) {
		fields := scope.RequestFields(c.Request.Header, scope.EntrypointHTTP, resolveUser.Resolve(c.Request.Header))
		_ = m.Run(c.Request.Context(), fields, func(ctx context.Context) error {
			correlation.TagSpan(ctx)
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return nil
		})
	}
}
