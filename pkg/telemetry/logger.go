package telemetry

import (
	"io"
	"log/slog"
	"strings"
)

// LogOptions selects the handler and level.
type LogOptions struct {
	JSON    bool
	Verbose bool
	Quiet   bool
}

// NewLogger builds the process logger. Sensitive attribute values are
// replaced with [REDACTED] in both handlers.
func NewLogger(w io.Writer, o LogOptions) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case o.Verbose:
		level = slog.LevelDebug
	case o.Quiet:
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: RedactSensitiveData,
	}
	if o.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

var sensitiveKeys = map[string]bool{
	"password": true, "token": true, "secret": true, "api_key": true,
	"private_key": true, "auth_token": true, "refresh_token": true,
	"access_token": true, "client_secret": true, "certificate": true,
	"signature": true, "credential": true, "authorization": true,
	"connection_string": true, "webhook": true, "slack_webhook": true,
}

// RedactSensitiveData scrubs sensitive keys from logs.
func RedactSensitiveData(groups []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.Attr{
			Key:   a.Key,
			Value: slog.StringValue("[REDACTED]"),
		}
	}
	return a
}
