// Package logger provides adapters for the logging interface.
package logger

import (
	"context"
	"maps"
	"strings"
)

// Logger defines the logging interface used throughout the application.
// External loggers that implement these methods can be wrapped with ZapAdapter.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]any)
	Debug(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
	Error(ctx context.Context, msg string, err error, fields map[string]any)
}

// redacted replaces the value of any field whose key names a secret.
const redacted = "[REDACTED]"

var sensitiveKeys = []string{"token", "password", "secret", "authorization"}

// ZapAdapter adapts a Logger to the application's logging interface.
// Fields bound with With are attached to every entry; per-call fields win on conflict.
type ZapAdapter struct {
	log  Logger
	base map[string]any
}

// NewZapAdapter creates a new ZapAdapter wrapping the given logger.
func NewZapAdapter(log Logger) *ZapAdapter {
	return &ZapAdapter{log: log}
}

// With returns an adapter that adds fields to every entry, e.g. component or operation.
func (a *ZapAdapter) With(fields map[string]any) *ZapAdapter {
	base := make(map[string]any, len(a.base)+len(fields))
	maps.Copy(base, a.base)
	maps.Copy(base, fields)
	return &ZapAdapter{log: a.log, base: base}
}

// Info logs an info message.
func (a *ZapAdapter) Info(ctx context.Context, msg string, fields map[string]any) {
	a.log.Info(ctx, msg, a.fields(fields))
}

// Debug logs a debug message.
func (a *ZapAdapter) Debug(ctx context.Context, msg string, fields map[string]any) {
	a.log.Debug(ctx, msg, a.fields(fields))
}

// Warn logs a warning message.
func (a *ZapAdapter) Warn(ctx context.Context, msg string, fields map[string]any) {
	a.log.Warn(ctx, msg, a.fields(fields))
}

// Error logs an error message.
func (a *ZapAdapter) Error(ctx context.Context, msg string, err error, fields map[string]any) {
	a.log.Error(ctx, msg, err, a.fields(fields))
}

// fields merges the bound fields with fields and scrubs secret values.
// It returns fields unchanged when there is nothing to merge or scrub.
func (a *ZapAdapter) fields(fields map[string]any) map[string]any {
	if len(a.base) == 0 && !hasSensitive(fields) {
		return fields
	}
	out := make(map[string]any, len(a.base)+len(fields))
	maps.Copy(out, a.base)
	maps.Copy(out, fields)
	for k := range out {
		if isSensitive(k) {
			out[k] = redacted
		}
	}
	return out
}

func hasSensitive(fields map[string]any) bool {
	for k := range fields {
		if isSensitive(k) {
			return true
		}
	}
	return false
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}
