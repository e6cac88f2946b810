package attributes

import (
	"github.com/mssola/useragent"
	"go.uber.org/zap/zapcore"
)

// Device families reported in UserAgentDetails.
const (
	DeviceMobile = "mobile"
	DeviceBot    = "bot"
)

type UserAgentDetails struct {
	OS      OSDetails      `json:"os"`
	Browser BrowserDetails `json:"browser"`
	Device  DeviceDetails  `json:"device"`
}

type OSDetails struct {
	Family string `json:"family,omitempty"`
}

type BrowserDetails struct {
	Family  string `json:"family,omitempty"`
	Version string `json:"version,omitempty"`
}

type DeviceDetails struct {
	Family string `json:"family,omitempty"`
}

// BuildUserAgentDetails parses a User-Agent header. It returns nil for an empty string.
func BuildUserAgentDetails(ua string) *UserAgentDetails {
	if ua == "" {
		return nil
	}
	parsed := useragent.New(ua)
	name, version := parsed.Browser()

	details := &UserAgentDetails{
		OS:      OSDetails{Family: parsed.OSInfo().Name},
		Browser: BrowserDetails{Family: name, Version: version},
	}
	switch {
	case parsed.Bot():
		details.Device.Family = DeviceBot
	case parsed.Mobile():
		details.Device.Family = DeviceMobile
	}
	return details
}

func (d *UserAgentDetails) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if d == nil {
		return nil
	}
	err := enc.AddObject("os", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		addString(enc, "family", d.OS.Family)
		return nil
	}))
	if err != nil {
		return err
	}
	err = enc.AddObject("browser", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		addString(enc, "family", d.Browser.Family)
		addString(enc, "version", d.Browser.Version)
		return nil
	}))
	if err != nil {
		return err
	}
	return enc.AddObject("device", zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		addString(enc, "family", d.Device.Family)
		return nil
	}))
}

func addString(enc zapcore.ObjectEncoder, key, value string) {
	if value != "" {
		enc.AddString(key, value)
	}
}
