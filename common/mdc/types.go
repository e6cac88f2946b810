package mdc

import (
	"go.uber.org/zap/zapcore"
)

// Well known store keys.
const (
	KeyCorrelationID = "correlationId"
	KeyRequestID     = "requestId"
	KeyEntrypoint    = "entrypoint"
	KeyClientInfo    = "clientInfo"
	KeyUser          = "user"
	KeyMeta          = "meta"
)

// Fields is the set of named values held by a scope.
type Fields map[string]any

// ClientInfo identifies the calling application, as announced by the caller.
type ClientInfo struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// IsZero reports whether neither the id nor the name are known.
func (c ClientInfo) IsZero() bool {
	return c.ID == "" && c.Name == ""
}

func (c ClientInfo) merge(o ClientInfo) ClientInfo {
	if o.ID != "" {
		c.ID = o.ID
	}
	if o.Name != "" {
		c.Name = o.Name
	}
	return c
}

func (c ClientInfo) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if c.ID != "" {
		enc.AddString("id", c.ID)
	}
	if c.Name != "" {
		enc.AddString("name", c.Name)
	}
	return nil
}

// User is the principal resolved for the unit of work.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

func (u User) merge(o User) User {
	if o.ID != "" {
		u.ID = o.ID
	}
	if o.Name != "" {
		u.Name = o.Name
	}
	if o.Email != "" {
		u.Email = o.Email
	}
	return u
}

func (u User) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", u.ID)
	if u.Name != "" {
		enc.AddString("name", u.Name)
	}
	if u.Email != "" {
		enc.AddString("email", u.Email)
	}
	return nil
}

// Snapshot is a detached copy of a store. Mutating it never affects the scope it was taken from.
type Snapshot Fields

func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s[key]
	return deepCopy(v), ok
}

func (s Snapshot) String(key string) string {
	v, _ := s[key].(string)
	return v
}

func (s Snapshot) CorrelationID() string { return s.String(KeyCorrelationID) }
func (s Snapshot) RequestID() string     { return s.String(KeyRequestID) }
func (s Snapshot) Entrypoint() string    { return s.String(KeyEntrypoint) }

func (s Snapshot) ClientInfo() (ClientInfo, bool) {
	c, ok := s[KeyClientInfo].(ClientInfo)
	if !ok || c.IsZero() {
		return ClientInfo{}, false
	}
	return c, true
}

func (s Snapshot) User() (User, bool) {
	u, ok := s[KeyUser].(User)
	return u, ok
}

func (s Snapshot) Meta() map[string]any {
	m, _ := s[KeyMeta].(map[string]any)
	return m
}

// deepMerge returns a new map holding dst overlaid with src. Nested maps and
// the identity records are merged key by key, src wins on conflicts.
func deepMerge(dst, src Fields) Fields {
	out := make(Fields, len(dst)+len(src))
	for k, v := range dst {
		out[k] = deepCopy(v)
	}
	for k, v := range src {
		out[k] = mergeValue(out[k], v)
	}
	return out
}

func mergeValue(old, v any) any {
	switch nv := v.(type) {
	case map[string]any:
		if om, ok := old.(map[string]any); ok {
			return map[string]any(deepMerge(om, nv))
		}
	case Fields:
		if om, ok := old.(Fields); ok {
			return deepMerge(om, nv)
		}
	case ClientInfo:
		if oc, ok := old.(ClientInfo); ok {
			return oc.merge(nv)
		}
	case User:
		if ou, ok := old.(User); ok {
			return ou.merge(nv)
		}
	}
	return deepCopy(v)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(deepMerge(nil, t))
	case Fields:
		return deepMerge(nil, t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = deepCopy(t[i])
		}
		return out
	default:
		return v
	}
}
