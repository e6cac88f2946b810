// Package attributes turns transport objects into the normalized "http" and "network"
// blocks attached to request and response log records. Every field is best effort:
// missing headers or connection details leave the field empty and never fail.
package attributes

import (
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/rainbow-me/platform-mdc/common/headers"
)

// StatusProvider exposes the status code written for a request. gin.ResponseWriter satisfies it.
type StatusProvider interface {
	Status() int
}

// Status is a fixed StatusProvider.
type Status int

func (s Status) Status() int { return int(s) }

type URLDetails struct {
	Host        string     `json:"host,omitempty"`
	Path        string     `json:"path,omitempty"`
	QueryString url.Values `json:"queryString,omitempty"`
	Port        int        `json:"port,omitempty"`
	Scheme      string     `json:"scheme,omitempty"`
}

type HTTPAttributes struct {
	Method           string            `json:"method"`
	URL              string            `json:"url"`
	Referer          string            `json:"referer,omitempty"`
	Version          string            `json:"version,omitempty"`
	UserAgent        string            `json:"useragent,omitempty"`
	URLDetails       URLDetails        `json:"url_details"`
	UserAgentDetails *UserAgentDetails `json:"useragent_details,omitempty"`
	StatusCode       int               `json:"status_code,omitempty"`
}

// BuildHTTPAttributes describes an inbound request, and its response status when res is not nil.
func BuildHTTPAttributes(r *http.Request, res StatusProvider) HTTPAttributes {
	if r == nil {
		return HTTPAttributes{}
	}
	userAgent := r.Header.Get(headers.HeaderUserAgent)
	var path string
	if r.URL != nil {
		path = r.URL.Path
	}

	attrs := HTTPAttributes{
		Method:           r.Method,
		URL:              requestURI(r),
		Referer:          r.Header.Get(headers.HeaderReferer),
		Version:          strconv.Itoa(r.ProtoMajor) + "." + strconv.Itoa(r.ProtoMinor),
		UserAgent:        userAgent,
		UserAgentDetails: BuildUserAgentDetails(userAgent),
		URLDetails: URLDetails{
			Host:   hostname(r.Host),
			Path:   path,
			Port:   localPort(r),
			Scheme: scheme(r),
		},
	}
	if r.URL != nil && r.URL.RawQuery != "" {
		attrs.URLDetails.QueryString = r.URL.Query()
	}
	if res != nil {
		attrs.StatusCode = res.Status()
	}
	return attrs
}

// BuildOutboundHTTPAttributes describes a request sent to another service. status is 0 when
// no response was received.
func BuildOutboundHTTPAttributes(method, rawURL string, header http.Header, status int) HTTPAttributes {
	attrs := HTTPAttributes{
		Method:     strings.ToUpper(method),
		URL:        rawURL,
		URLDetails: BuildURLDetails(rawURL),
		StatusCode: status,
	}
	if attrs.Method == "" {
		attrs.Method = http.MethodGet
	}
	if header != nil {
		attrs.UserAgent = header.Get(headers.HeaderUserAgent)
	}
	return attrs
}

// BuildURLDetails splits an absolute URL. Unparseable input yields empty details.
func BuildURLDetails(rawURL string) URLDetails {
	u, err := url.Parse(rawURL)
	if err != nil {
		return URLDetails{}
	}
	details := URLDetails{
		Host:   u.Hostname(),
		Path:   u.Path,
		Scheme: u.Scheme,
	}
	if p, err := strconv.Atoi(u.Port()); err == nil {
		details.Port = p
	}
	if u.RawQuery != "" {
		details.QueryString = u.Query()
	}
	return details
}

func requestURI(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	if r.URL != nil {
		return r.URL.RequestURI()
	}
	return ""
}

func hostname(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

func scheme(r *http.Request) string {
	if proto := r.Header.Get(headers.HeaderXForwardedProto); proto != "" {
		return proto
	}
	if r.URL != nil && r.URL.Scheme != "" {
		return r.URL.Scheme
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// localPort is the port the request was received on.
func localPort(r *http.Request) int {
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		if _, port, err := net.SplitHostPort(addr.String()); err == nil {
			if p, err := strconv.Atoi(port); err == nil {
				return p
			}
		}
	}
	if _, port, err := net.SplitHostPort(r.Host); err == nil {
		if p, err := strconv.Atoi(port); err == nil {
			return p
		}
	}
	return 0
}

func (d URLDetails) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	addString(enc, "host", d.Host)
	addString(enc, "path", d.Path)
	if d.Port != 0 {
		enc.AddInt("port", d.Port)
	}
	addString(enc, "scheme", d.Scheme)
	if len(d.QueryString) > 0 {
		return enc.AddObject("queryString", queryString(d.QueryString))
	}
	return nil
}

type queryString url.Values

func (q queryString) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values := q[k]
		if len(values) == 1 {
			enc.AddString(k, values[0])
			continue
		}
		if err := enc.AddArray(k, zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
			for _, v := range values {
				arr.AppendString(v)
			}
			return nil
		})); err != nil {
			return err
		}
	}
	return nil
}

func (a HTTPAttributes) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("method", a.Method)
	enc.AddString("url", a.URL)
	addString(enc, "referer", a.Referer)
	addString(enc, "version", a.Version)
	addString(enc, "useragent", a.UserAgent)
	if err := enc.AddObject("url_details", a.URLDetails); err != nil {
		return err
	}
	if a.UserAgentDetails != nil {
		if err := enc.AddObject("useragent_details", a.UserAgentDetails); err != nil {
			return err
		}
	}
	if a.StatusCode != 0 {
		enc.AddInt("status_code", a.StatusCode)
	}
	return nil
}
