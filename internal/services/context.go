package services

import (
	"context"
	"strings"
)

type ctxKey int

const (
	keyJobID ctxKey = iota
	keyStage
	keyRequestID
)

func withValue(ctx context.Context, key ctxKey, value string) context.Context {
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func valueOf(ctx context.Context, key ctxKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, _ := ctx.Value(key).(string)
	return v, v != ""
}

// WithJobID tags ctx with the evaluation job being processed.
func WithJobID(ctx context.Context, id string) context.Context {
	return withValue(ctx, keyJobID, id)
}

// JobIDFromContext returns the job tagged by WithJobID.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return valueOf(ctx, keyJobID)
}

// WithStage tags ctx with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withValue(ctx, keyStage, stage)
}

func StageFromContext(ctx context.Context) (string, bool) {
	return valueOf(ctx, keyStage)
}

// WithRequestID tags ctx with an API correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, keyRequestID, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	return valueOf(ctx, keyRequestID)
}
