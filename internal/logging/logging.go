// Package logging sets up structured JSON logging with credential
// redaction. The engine handles passwords on a live byte stream, so any
// attribute whose key looks credential-bearing is redacted before it can
// reach a log sink.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// sensitiveKeys redact any attribute whose lowercased key contains one of
// them.
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"key",
	"credential",
	"passphrase",
	"auth",
}

const redacted = "[REDACTED]"

// RedactingHandler wraps a slog.Handler and replaces sensitive attribute
// values.
type RedactingHandler struct {
	handler slog.Handler
	enabled bool
}

// NewRedactingHandler wraps handler. With enabled false it is a pass-through.
func NewRedactingHandler(handler slog.Handler, enabled bool) *RedactingHandler {
	return &RedactingHandler{handler: handler, enabled: enabled}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.enabled {
		return h.handler.Handle(ctx, r)
	}

	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(redactAttr(a))
		return true
	})
	return h.handler.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if h.enabled {
		clean := make([]slog.Attr, len(attrs))
		for i, a := range attrs {
			clean[i] = redactAttr(a)
		}
		attrs = clean
	}
	return &RedactingHandler{handler: h.handler.WithAttrs(attrs), enabled: h.enabled}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{handler: h.handler.WithGroup(name), enabled: h.enabled}
}

func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(key, sensitive) {
			return slog.String(a.Key, redacted)
		}
	}

	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		clean := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			clean[i] = redactAttr(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	}
	return a
}

// Setup installs the default logger: JSON on stderr at the given level,
// redaction per the sanitize flag.
func Setup(level string, sanitize bool) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, level, sanitize)))
}

// NewHandler builds the JSON + redaction handler stack on w.
func NewHandler(w io.Writer, level string, sanitize bool) slog.Handler {
	json := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return NewRedactingHandler(json, sanitize)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
