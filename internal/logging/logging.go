// Package logging configures the process-wide slog logger and provides the
// event helpers used by the parser, the store and the HTTP server.
//
// Records logged with a context carrying a request ID gain a request_id
// attribute, whichever helper or slog call produced them.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jnterry/awoken-bible-usfm/core/usfm"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

// RequestIDKey is the context key for request IDs.
const RequestIDKey ContextKey = "request_id"

// Format selects the handler that renders records.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseLevel maps a log.level value to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// ParseFormat maps a log.format value to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatText:
		return f, nil
	}
	return FormatJSON, fmt.Errorf("unknown log format %q", s)
}

// Configure replaces the default slog logger with one writing to w.
// Timestamps are rendered as RFC 3339 without fractional seconds.
func Configure(w io.Writer, level slog.Level, format Format) {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if format == FormatText {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(requestIDHandler{h}))
}

// requestIDHandler copies the request ID from a record's context into the
// record.
type requestIDHandler struct {
	slog.Handler
}

func (h requestIDHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := GetRequestID(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h requestIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return requestIDHandler{h.Handler.WithAttrs(attrs)}
}

func (h requestIDHandler) WithGroup(name string) slog.Handler {
	return requestIDHandler{h.Handler.WithGroup(name)}
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) { slog.DebugContext(ctx, msg, args...) }
func InfoContext(ctx context.Context, msg string, args ...any)  { slog.InfoContext(ctx, msg, args...) }
func WarnContext(ctx context.Context, msg string, args ...any)  { slog.WarnContext(ctx, msg, args...) }
func ErrorContext(ctx context.Context, msg string, args ...any) { slog.ErrorContext(ctx, msg, args...) }

// HTTPRequestContext logs a served HTTP request. 5xx responses are logged at
// warn level.
func HTTPRequestContext(ctx context.Context, method, path, remoteAddr string, statusCode int, duration time.Duration, args ...any) {
	level := slog.LevelInfo
	if statusCode >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "http_request", append([]any{
		"method", method,
		"path", path,
		"remote_addr", remoteAddr,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
	}, args...)...)
}

// ParseSummary logs the outcome of parsing one book.
func ParseSummary(ctx context.Context, book string, chapters, diagnostics int, duration time.Duration, args ...any) {
	slog.InfoContext(ctx, "parse_summary", append([]any{
		"book", book,
		"chapters", chapters,
		"diagnostics", diagnostics,
		"duration_ms", duration.Milliseconds(),
	}, args...)...)
}

// ChapterDiagnostics logs each diagnostic of a chapter at debug level and a
// count at warn level. Chapter 0 is the book header and introduction.
func ChapterDiagnostics(ctx context.Context, book string, chapter int, errs []usfm.ParseError) {
	if len(errs) == 0 {
		return
	}
	logger := slog.Default().With("book", book, "chapter", chapter)
	for _, e := range errs {
		logger.DebugContext(ctx, "parse_diagnostic",
			"marker", e.Marker.Tag(),
			"line", e.Marker.Pos.Line,
			"column", e.Marker.Pos.Column,
			"message", e.Message,
		)
	}
	logger.WarnContext(ctx, "chapter_diagnostics", "count", len(errs), "first", errs[0].Error())
}

// IngestEvent logs a book being stored.
func IngestEvent(path, book, digest string, args ...any) {
	slog.Info("ingest", append([]any{"path", path, "book", book, "digest", digest}, args...)...)
}

// WebSocketEvent logs a change in the set of websocket subscribers.
func WebSocketEvent(event string, clientCount int, args ...any) {
	slog.Info("websocket_event", append([]any{"event", event, "client_count", clientCount}, args...)...)
}

// ServerStartup logs a listener coming up.
func ServerStartup(serverType, protocol string, port int, args ...any) {
	slog.Info("server_startup", append([]any{
		"server_type", serverType,
		"protocol", protocol,
		"port", port,
	}, args...)...)
}
