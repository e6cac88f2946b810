package nethttp

import (
	"context"
	"net/http"

	"github.com/rainbow-me/platform-mdc/common/correlation"
	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/scope"
)

// RequestContext opens a diagnostic scope of m around next for every request.
// A nil m means mdc.Default.
func RequestContext(m *mdc.MDC, resolveUser scope.UserResolver) func(http.Handler) http.Handler {
	if m == nil {
		m = mdc.Default
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fields := scope.RequestFields(r.Header, scope.EntrypointHTTP, resolveUser.Resolve(r.Header))
			_ = m.Run(r.Context(), fields, func(ctx context.Context) error {
				correlation.TagSpan(ctx)
				next.ServeHTTP(w, r.WithContext(ctx))
				return nil
			})
		})
	}
}
