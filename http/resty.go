// Package http builds outbound HTTP clients propagating the correlation id of the active scope.
package http

import (
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/rainbow-me/platform-mdc/common/logger"
	interceptors "github.com/rainbow-me/platform-mdc/http/interceptors/resty"
)

// NewRestyWithClient returns a resty client on top of client with the tracing, correlation and
// logging interceptors installed. resty's own messages go to log.
func NewRestyWithClient(client *http.Client, log *logger.Logger, opt ...interceptors.InterceptorOpt) *resty.Client {
	if client == nil {
		client = &http.Client{Transport: NewTransport(nil, WithTransportLogging(false))}
	}
	restyClient := resty.NewWithClient(client)
	interceptors.InjectInterceptors(restyClient, opt...)

	if log != nil {
		restyClient.SetLogger((*logger.Adapter)(log.Named("resty")))
	}
	return restyClient
}
