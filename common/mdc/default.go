package mdc

import (
	"context"
)

// Package level helpers operating on Default.

func Run(ctx context.Context, fields Fields, fn func(ctx context.Context) error) error {
	return Default.Run(ctx, fields, fn)
}

func Go(ctx context.Context, fn func(ctx context.Context)) { Default.Go(ctx, fn) }

func Active(ctx context.Context) bool { return Default.Active(ctx) }

func Detach(ctx context.Context) context.Context { return Default.Detach(ctx) }

func Set(ctx context.Context, key string, value any) bool { return Default.Set(ctx, key, value) }

func SetMeta(ctx context.Context, key string, value any) bool {
	return Default.SetMeta(ctx, key, value)
}

func Get(ctx context.Context, key string) (any, bool) { return Default.Get(ctx, key) }

func GetString(ctx context.Context, key string) string { return Default.GetString(ctx, key) }

func SafeGet(ctx context.Context, key string, fallback any) any {
	return Default.SafeGet(ctx, key, fallback)
}

func SafeGetString(ctx context.Context, key, fallback string) string {
	return Default.SafeGetString(ctx, key, fallback)
}

func CopyOfStore(ctx context.Context) Snapshot { return Default.CopyOfStore(ctx) }

func CorrelationID(ctx context.Context) string { return Default.CorrelationID(ctx) }

func RequestID(ctx context.Context) string { return Default.RequestID(ctx) }

func Entrypoint(ctx context.Context) string { return Default.Entrypoint(ctx) }

func ClientInfoFrom(ctx context.Context) (ClientInfo, bool) { return Default.ClientInfo(ctx) }

func UserFrom(ctx context.Context) (User, bool) { return Default.User(ctx) }

func Meta(ctx context.Context) map[string]any { return Default.Meta(ctx) }
