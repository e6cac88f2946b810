package attributes

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/rainbow-me/platform-mdc/common/headers"
)

type GeoIP struct {
	CountryISOCode string `json:"country_iso_code,omitempty"`
}

type ClientAttributes struct {
	IP         string `json:"ip,omitempty"`
	Port       int    `json:"port,omitempty"`
	InternalIP string `json:"internal_ip,omitempty"`
	GeoIP      *GeoIP `json:"geoip,omitempty"`
}

type DestinationAttributes struct {
	IP   string `json:"ip,omitempty"`
	Port int    `json:"port,omitempty"`
}

type NetworkAttributes struct {
	BytesRead    *int64                 `json:"bytes_read,omitempty"`
	BytesWritten *int64                 `json:"bytes_written,omitempty"`
	Client       *ClientAttributes      `json:"client,omitempty"`
	Destination  *DestinationAttributes `json:"destination,omitempty"`
}

// BuildNetworkAttributes describes the client side of an inbound request. The client ip
// prefers CF-Connecting-IP, then X-Forwarded-For (all values joined with a comma), then the
// socket address. Byte counters are only known when the server uses ConnContext.
func BuildNetworkAttributes(r *http.Request) NetworkAttributes {
	if r == nil {
		return NetworkAttributes{}
	}
	var attrs NetworkAttributes
	if cc, ok := ConnFromContext(r.Context()); ok {
		read, written := cc.BytesRead(), cc.BytesWritten()
		attrs.BytesRead, attrs.BytesWritten = &read, &written
	}

	remoteIP, remotePort := splitHostPort(r.RemoteAddr)

	client := &ClientAttributes{
		IP:         firstOf(joined(r.Header, headers.HeaderCFConnectingIP), joined(r.Header, headers.HeaderXForwardedFor), remoteIP),
		Port:       remotePort,
		InternalIP: remoteIP,
	}
	if p, err := strconv.Atoi(r.Header.Get(headers.HeaderXForwardedPort)); err == nil {
		client.Port = p
	}
	if country := r.Header.Get(headers.HeaderCFIPCountry); country != "" {
		client.GeoIP = &GeoIP{CountryISOCode: country}
	}
	attrs.Client = client
	return attrs
}

// BuildOutboundNetworkAttributes describes the destination of an outbound call. Negative byte
// counts are treated as unknown.
func BuildOutboundNetworkAttributes(rawURL string, bytesWritten, bytesRead int64) NetworkAttributes {
	var attrs NetworkAttributes
	details := BuildURLDetails(rawURL)
	if details.Host != "" {
		attrs.Destination = &DestinationAttributes{IP: details.Host, Port: details.Port}
	}
	if bytesWritten >= 0 {
		attrs.BytesWritten = &bytesWritten
	}
	if bytesRead >= 0 {
		attrs.BytesRead = &bytesRead
	}
	return attrs
}

func joined(h http.Header, key string) string {
	values := h.Values(key)
	if len(values) == 0 {
		return ""
	}
	return strings.Join(values, ",")
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitHostPort(addr string) (string, int) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	p, _ := strconv.Atoi(port)
	return host, p
}

func (n NetworkAttributes) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if n.BytesRead != nil {
		enc.AddInt64("bytes_read", *n.BytesRead)
	}
	if n.BytesWritten != nil {
		enc.AddInt64("bytes_written", *n.BytesWritten)
	}
	if n.Client != nil {
		if err := enc.AddObject("client", n.Client); err != nil {
			return err
		}
	}
	if n.Destination != nil {
		return enc.AddObject("destination", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
			addString(enc, "ip", n.Destination.IP)
			if n.Destination.Port != 0 {
				enc.AddInt("port", n.Destination.Port)
			}
			return nil
		}))
	}
	return nil
}

func (c *ClientAttributes) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	addString(enc, "ip", c.IP)
	if c.Port != 0 {
		enc.AddInt("port", c.Port)
	}
	addString(enc, "internal_ip", c.InternalIP)
	if c.GeoIP != nil {
		return enc.AddObject("geoip", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
			return enc.AddObject("country", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
				enc.AddString("iso_code", c.GeoIP.CountryISOCode)
				return nil
			}))
		}))
	}
	return nil
}
