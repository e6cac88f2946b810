package interceptors

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rainbow-me/platform-mdc/common/attributes"
	"github.com/rainbow-me/platform-mdc/common/logger"
)

// Outbound describes a call made to another service, for its log lines.
type Outbound struct {
	Method string
	URL    string
	Header http.Header
	// BytesWritten and BytesRead are -1 when unknown
	BytesWritten int64
	BytesRead    int64
}

// LogOutboundRequest writes the "-> [req] [host] METHOD path" line.
func LogOutboundRequest(log *logger.Logger, o Outbound) {
	host, path := hostPath(o.URL)
	log.Info(fmt.Sprintf("-> [req] [%s] %s %s", host, o.method(), path),
		logger.Object(HTTPKey, attributes.BuildOutboundHTTPAttributes(o.Method, o.URL, o.Header, 0)),
	)
}

// LogOutboundResponse writes the "<- [res] [host] METHOD path STATUS (Nms)" line. Without a
// response (status 0) the request line is repeated at error level with err.
func LogOutboundResponse(log *logger.Logger, o Outbound, status int, duration time.Duration, err error) {
	host, path := hostPath(o.URL)
	fields := []logger.Field{
		logger.Object(HTTPKey, attributes.BuildOutboundHTTPAttributes(o.Method, o.URL, o.Header, status)),
		logger.Object(NetworkKey, attributes.BuildOutboundNetworkAttributes(o.URL, o.BytesWritten, o.BytesRead)),
		logger.Duration(DurationKey, duration),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if status == 0 {
		log.Error(fmt.Sprintf("-> [req] [%s] %s %s", host, o.method(), path), fields...)
		return
	}
	msg := fmt.Sprintf("<- [res] [%s] %s %s %d (%dms)", host, o.method(), path, status, duration.Milliseconds())
	log.Log(StatusLevel(status, err), msg, fields...)
}

func (o Outbound) method() string {
	if o.Method == "" {
		return http.MethodGet
	}
	return o.Method
}

func hostPath(rawURL string) (string, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", rawURL
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return u.Host, path
}
