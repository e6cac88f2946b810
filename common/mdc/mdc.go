// Package mdc implements a mapped diagnostic context carried by context.Context.
//
// A scope is opened with Run and holds a set of named fields (correlation id, request id,
// entrypoint, client info, user and free form meta). Everything that receives the context
// derived by Run, or a context derived from it, observes the same scope. Scopes nest: an
// inner Run sees the outer fields merged with its own, and the outer scope is untouched
// when the inner one returns.
package mdc

import (
	"context"
	"sync"
)

type contextKey struct {
	name string
}

// MDC owns a private context key, so two instances never observe each other's scopes.
type MDC struct {
	key *contextKey
}

// Default is the process wide instance used by the package level helpers.
var Default = New()

// New returns an isolated MDC instance.
func New() *MDC {
	return &MDC{key: &contextKey{name: "mdc"}}
}

type store struct {
	mu     sync.RWMutex
	fields Fields

	// tracks goroutines started with Go so Run can wait for them
	wmu     sync.Mutex
	cond    *sync.Cond
	pending int
	closed  bool
}

func newStore(fields Fields) *store {
	s := &store{fields: fields}
	s.cond = sync.NewCond(&s.wmu)
	return s
}

func (s *store) track() bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closed {
		return false
	}
	s.pending++
	return true
}

func (s *store) done() {
	s.wmu.Lock()
	s.pending--
	if s.pending == 0 {
		s.cond.Broadcast()
	}
	s.wmu.Unlock()
}

func (s *store) waitAndClose() {
	s.wmu.Lock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	s.closed = true
	s.wmu.Unlock()
}

func (s *store) close() {
	s.wmu.Lock()
	s.closed = true
	s.wmu.Unlock()
}

func (s *store) isClosed() bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.closed
}

func (m *MDC) storeFrom(ctx context.Context) *store {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(m.key).(*store)
	return s
}

// Run opens a new scope for the duration of fn. The scope's fields are the deep merge of the
// active scope (if any) with fields, fields winning on conflicts. Run returns once fn and every
// goroutine started with Go inside the scope have returned. The error of fn is returned as is.
// If fn panics the scope is closed and the panic is propagated.
func (m *MDC) Run(ctx context.Context, fields Fields, fn func(ctx context.Context) error) error {
	var merged Fields
	if p := m.storeFrom(ctx); p != nil {
		p.mu.RLock()
		merged = deepMerge(p.fields, fields)
		p.mu.RUnlock()
	} else {
		merged = deepMerge(nil, fields)
	}
	return m.run(ctx, merged, fn)
}

func (m *MDC) run(ctx context.Context, fields Fields, fn func(ctx context.Context) error) error {
	s := newStore(fields)
	ctx = context.WithValue(ctx, m.key, s)

	completed := false
	defer func() {
		if !completed {
			s.close()
		}
	}()
	err := fn(ctx)
	completed = true
	s.waitAndClose()
	return err
}

// Go runs fn on a new goroutine bound to the scope active in ctx. The enclosing Run does not
// return before fn does. Once the scope is closed fn still runs, but nothing waits for it.
func (m *MDC) Go(ctx context.Context, fn func(ctx context.Context)) {
	s := m.storeFrom(ctx)
	if s == nil || !s.track() {
		go fn(ctx)
		return
	}
	go func() {
		defer s.done()
		fn(ctx)
	}()
}

// Active reports whether ctx carries an open scope.
func (m *MDC) Active(ctx context.Context) bool {
	s := m.storeFrom(ctx)
	return s != nil && !s.isClosed()
}

// Detach returns a context that keeps ctx's values and deadlines but no scope.
func (m *MDC) Detach(ctx context.Context) context.Context {
	if m.storeFrom(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, m.key, (*store)(nil))
}

// Set stores value under key in the active scope and reports whether the scope was updated.
// The update is visible to every holder of the scope. Without an open scope Set does nothing.
// A correlation id, once set, cannot be replaced.
func (m *MDC) Set(ctx context.Context, key string, value any) bool {
	s := m.storeFrom(ctx)
	if s == nil || key == "" || s.isClosed() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == KeyCorrelationID {
		if cur, _ := s.fields[key].(string); cur != "" {
			return false
		}
	}
	s.fields[key] = deepCopy(value)
	return true
}

// SetMeta merges a single key into the scope's meta map.
func (m *MDC) SetMeta(ctx context.Context, key string, value any) bool {
	s := m.storeFrom(ctx)
	if s == nil || key == "" || s.isClosed() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.fields[KeyMeta].(map[string]any)
	if !ok {
		meta = make(map[string]any, 1)
		s.fields[KeyMeta] = meta
	}
	meta[key] = deepCopy(value)
	return true
}

// Get returns a copy of the value stored under key in the active scope. Maps and slices are
// copied so later Set or SetMeta calls never change what the caller holds.
func (m *MDC) Get(ctx context.Context, key string) (any, bool) {
	s := m.storeFrom(ctx)
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.fields[key]
	return deepCopy(v), ok
}

// GetString returns the string stored under key, or "" when absent or not a string.
func (m *MDC) GetString(ctx context.Context, key string) string {
	v, _ := m.Get(ctx, key)
	s, _ := v.(string)
	return s
}

// SafeGet returns the value stored under key or fallback when there is no scope or no value.
func (m *MDC) SafeGet(ctx context.Context, key string, fallback any) any {
	if v, ok := m.Get(ctx, key); ok && v != nil {
		return v
	}
	return fallback
}

func (m *MDC) SafeGetString(ctx context.Context, key, fallback string) string {
	if v := m.GetString(ctx, key); v != "" {
		return v
	}
	return fallback
}

// CopyOfStore returns a deep copy of the active scope, or nil without one.
func (m *MDC) CopyOfStore(ctx context.Context) Snapshot {
	s := m.storeFrom(ctx)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot(deepMerge(nil, s.fields))
}

func (m *MDC) CorrelationID(ctx context.Context) string { return m.GetString(ctx, KeyCorrelationID) }
func (m *MDC) RequestID(ctx context.Context) string     { return m.GetString(ctx, KeyRequestID) }
func (m *MDC) Entrypoint(ctx context.Context) string    { return m.GetString(ctx, KeyEntrypoint) }

func (m *MDC) ClientInfo(ctx context.Context) (ClientInfo, bool) {
	v, _ := m.Get(ctx, KeyClientInfo)
	c, ok := v.(ClientInfo)
	if !ok || c.IsZero() {
		return ClientInfo{}, false
	}
	return c, true
}

func (m *MDC) User(ctx context.Context) (User, bool) {
	v, _ := m.Get(ctx, KeyUser)
	u, ok := v.(User)
	return u, ok
}

// Meta returns a copy of the scope's meta map.
func (m *MDC) Meta(ctx context.Context) map[string]any {
	v, _ := m.Get(ctx, KeyMeta)
	meta, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return deepCopy(meta).(map[string]any)
}
