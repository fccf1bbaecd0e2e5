// Package logging installs the process-wide JSON logger and keeps sent
// input and credentials out of it.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Redacted replaces the value of every attribute whose key is sensitive.
const Redacted = "[REDACTED]"

// level is shared by every logger Setup installs so SetLevel applies at
// runtime.
var level slog.LevelVar

// sensitive holds key fragments whose values never reach the log. "input"
// covers text sent to a subordinate, which may be a typed password.
var sensitive = [...]string{"input", "password", "passphrase", "secret", "token"}

// Sensitive reports whether values logged under key are redacted.
func Sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, frag := range sensitive {
		if strings.Contains(key, frag) {
			return true
		}
	}
	return false
}

// RedactingHandler forwards records to another handler with sensitive
// attribute values replaced, including inside groups.
type RedactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next.
func NewRedactingHandler(next slog.Handler) *RedactingHandler {
	return &RedactingHandler{next: next}
}

func (h *RedactingHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(redact(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RedactingHandler{next: h.next.WithAttrs(redactAll(attrs))}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

func redact(a slog.Attr) slog.Attr {
	if Sensitive(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() == slog.KindGroup {
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redactAll(a.Value.Group())...)}
	}
	return a
}

func redactAll(attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = redact(a)
	}
	return out
}

// Setup installs a JSON logger on stderr as the slog default. With redact
// unset, sent input and credentials are logged verbatim.
func Setup(levelName string, redact bool) {
	setup(os.Stderr, levelName, redact)
}

func setup(w io.Writer, levelName string, redact bool) {
	level.Set(ParseLevel(levelName))
	var h slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: &level})
	if redact {
		h = NewRedactingHandler(h)
	}
	slog.SetDefault(slog.New(h))
}

// SetLevel changes the level of the logger installed by Setup.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// ParseLevel maps a level name to a slog.Level. Unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
