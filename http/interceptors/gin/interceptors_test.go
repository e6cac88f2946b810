package gin_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/mocktracer"
	"github.com/cockroachdb/errors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rainbow-me/platform-mdc/common/correlation"
	"github.com/rainbow-me/platform-mdc/common/headers"
	"github.com/rainbow-me/platform-mdc/common/logger"
	"github.com/rainbow-me/platform-mdc/common/mdc"
	"github.com/rainbow-me/platform-mdc/common/test"
	gininterceptors "github.com/rainbow-me/platform-mdc/http/interceptors/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(opts ...gininterceptors.InterceptorOpt) *gin.Engine {
	r := gin.New()
	opts = append([]gininterceptors.InterceptorOpt{
		gininterceptors.WithTracingEnabled(false),
		gininterceptors.WithCompressionLevel(gzip.NoCompression),
	}, opts...)
	r.Use(gininterceptors.DefaultInterceptors(opts...)...)

	r.GET("/context", func(c *gin.Context) {
		ctx := c.Request.Context()
		logger.FromContext(ctx).Info("handling")
		user, _ := mdc.UserFrom(ctx)
		c.JSON(http.StatusOK, gin.H{
			"correlationId": mdc.CorrelationID(ctx),
			"requestId":     mdc.RequestID(ctx),
			"entrypoint":    mdc.Entrypoint(ctx),
			"user":          user.ID,
		})
	})
	r.GET("/missing", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})
	r.GET("/panic", func(*gin.Context) {
		panic("boom")
	})
	r.GET("/error", func(c *gin.Context) {
		_ = c.Error(errors.New("database is down"))
	})
	r.GET("/slow", func(c *gin.Context) {
		time.Sleep(50 * time.Millisecond)
		c.Status(http.StatusOK)
	})
	return r
}

func serve(r http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]string) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	body := map[string]string{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestRequestContextMiddleware(t *testing.T) {
	logs := test.UseObservedLogger(t, nil)
	userResolver := func(h headers.Getter) *mdc.User {
		if h.Get("Authorization") == "Bearer alice" {
			return &mdc.User{ID: "alice"}
		}
		return nil
	}
	r := newRouter(gininterceptors.WithUserResolver(userResolver))

	t.Run("correlation id is propagated verbatim", func(t *testing.T) {
		logs.TakeAll()
		req := httptest.NewRequest(http.MethodGet, "/context", nil)
		req.Header.Set(headers.HeaderXCorrelationID, "abc")
		req.Header.Set("Authorization", "Bearer alice")

		w, body := serve(r, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "abc", body["correlationId"])
		assert.Equal(t, "http/api", body["entrypoint"])
		assert.Equal(t, "alice", body["user"])
		assert.NotEmpty(t, body["requestId"])

		entries := logs.All()
		require.Len(t, entries, 3)
		for _, e := range entries {
			assert.Equal(t, "abc", e.ContextMap()[logger.CorrelationIDKey], e.Message)
			assert.Equal(t, body["requestId"], e.ContextMap()[logger.RequestIDKey], e.Message)
		}
		assert.Equal(t, "[req] GET /context", entries[0].Message)
		assert.Equal(t, "handling", entries[1].Message)
		assert.True(t, strings.HasPrefix(entries[2].Message, "[res] GET /context 200"), entries[2].Message)
	})

	t.Run("correlation id is generated", func(t *testing.T) {
		_, body := serve(r, httptest.NewRequest(http.MethodGet, "/context", nil))
		assert.True(t, correlation.IsGenerated(body["correlationId"]), body["correlationId"])
		assert.Empty(t, body["user"])
	})

	t.Run("aws trace id is the fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/context", nil)
		req.Header.Set(headers.HeaderXAmznTraceID, "Root=1-5759e988-bd862e3fe1be46a994272793")
		_, body := serve(r, req)
		assert.Equal(t, "Root=1-5759e988-bd862e3fe1be46a994272793", body["correlationId"])
	})

	t.Run("request ids differ between requests", func(t *testing.T) {
		_, a := serve(r, httptest.NewRequest(http.MethodGet, "/context", nil))
		_, b := serve(r, httptest.NewRequest(http.MethodGet, "/context", nil))
		assert.NotEqual(t, a["requestId"], b["requestId"])
	})
}

func TestResponseLevels(t *testing.T) {
	logs := test.UseObservedLogger(t, nil)
	r := newRouter()

	tests := []struct {
		path      string
		status    int
		level     zapcore.Level
		errorBody bool
	}{
		{path: "/context", status: http.StatusOK, level: zapcore.InfoLevel},
		{path: "/missing", status: http.StatusNotFound, level: zapcore.WarnLevel},
		{path: "/panic", status: http.StatusInternalServerError, level: zapcore.ErrorLevel, errorBody: true},
		{path: "/error", status: http.StatusInternalServerError, level: zapcore.ErrorLevel, errorBody: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			logs.TakeAll()
			w, body := serve(r, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.status, w.Code)
			if tt.errorBody {
				assert.Equal(t, map[string]string{"message": "internal server error"}, body)
				assert.NotContains(t, w.Body.String(), "boom")
				assert.NotContains(t, w.Body.String(), "database")
			}

			responses := logs.Filter(func(e observer.LoggedEntry) bool {
				return strings.HasPrefix(e.Message, "[res] GET "+tt.path)
			}).All()
			require.Len(t, responses, 1, "exactly one response line")
			assert.Equal(t, tt.level, responses[0].Level)
			assert.NotEmpty(t, responses[0].ContextMap()[logger.CorrelationIDKey])
		})
	}
}

func TestPanicIsLoggedWithStack(t *testing.T) {
	logs := test.UseObservedLogger(t, nil)
	serve(newRouter(), httptest.NewRequest(http.MethodGet, "/panic", nil))

	responses := logs.FilterMessageSnippet("[res] GET /panic 500").All()
	require.Len(t, responses, 1)
	assert.Equal(t, "boom", responses[0].ContextMap()[logger.PanicValueKey])
	assert.NotEmpty(t, responses[0].ContextMap()[logger.PanicStackKey])
}

func TestTimeoutIsLogged(t *testing.T) {
	logs := test.UseObservedLogger(t, nil)
	r := newRouter(gininterceptors.WithTimeout(10 * time.Millisecond))

	w, _ := serve(r, httptest.NewRequest(http.MethodGet, "/slow", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	timeouts := logs.FilterMessage("[res] GET /slow (TIMEOUT)").All()
	require.Len(t, timeouts, 1)
	assert.Equal(t, zapcore.ErrorLevel, timeouts[0].Level)
	assert.NotEmpty(t, timeouts[0].ContextMap()[logger.CorrelationIDKey])
}

func TestHTTPTraceLogsBodies(t *testing.T) {
	logs := test.UseObservedLogger(t, nil)
	r := newRouter(gininterceptors.WithHTTPTrace())

	serve(r, httptest.NewRequest(http.MethodGet, "/context", nil))

	responses := logs.FilterMessageSnippet("[res] GET /context").All()
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].ContextMap()["response_body"], "correlationId")
}

func TestTracingTagsCorrelationID(t *testing.T) {
	mt := mocktracer.Start()
	defer mt.Stop()
	test.UseObservedLogger(t, nil)

	r := newRouter(gininterceptors.WithTracingEnabled(true))
	req := httptest.NewRequest(http.MethodGet, "/context", nil)
	req.Header.Set(headers.HeaderXCorrelationID, "traced")
	serve(r, req)

	spans := mt.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "traced", spans[0].Tag(correlation.SpanTag))
	assert.Equal(t, "http.handler", spans[0].OperationName())
}

func TestScopeDisabled(t *testing.T) {
	test.UseObservedLogger(t, nil)
	r := newRouter(gininterceptors.WithCorrelationEnabled(false))

	_, body := serve(r, httptest.NewRequest(http.MethodGet, "/context", nil))
	assert.Empty(t, body["correlationId"])
}
