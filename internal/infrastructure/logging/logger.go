package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/portacool-apex/internal/infrastructure/config"
)

const serviceName = "portacool"

// Redacted replaces the value of any secret attribute.
const Redacted = "[redacted]"

// secretKeys are attribute keys whose values are never written. The
// cloud package logs around sign-in and token exchange, and a stray
// attribute must not leak a credential.
var secretKeys = map[string]struct{}{
	"password":         {},
	"token":            {},
	"access_token":     {},
	"refresh_token":    {},
	"id_token":         {},
	"identity_api_key": {},
	"authorization":    {},
}

// Logger is a slog.Logger carrying service and version on every entry.
//
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to cfg.Output ("stdout" or "stderr").
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewWithWriter(cfg, version, outputFor(cfg.Output))
}

// NewWithWriter creates a Logger writing to w, ignoring cfg.Output.
//
// Parameters:
//   - cfg: level ("debug", "info", "warn", "error") and format ("json", "text")
//   - version: reported in the version field
//   - w: destination
//
// Returns:
//   - *Logger: ready for use
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}
	h := handlerFor(cfg.Format, w, opts).WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(h)}
}

// Default is the logger used until configuration is loaded: JSON, info,
// stdout.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// With returns a Logger that adds args to every entry.
//
//	cloudLog := logger.With("component", "cloud")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func outputFor(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

func handlerFor(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// parseLevel maps a config level to slog. Unknown values mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func redact(_ []string, a slog.Attr) slog.Attr {
	if _, secret := secretKeys[strings.ToLower(a.Key)]; secret {
		return slog.String(a.Key, Redacted)
	}
	return a
}
