// Package reqlog builds the per-request structured logger described in
// spec sections 4.1 and 7: every log line carries a request id and
// endpoint, and sensitive headers are stripped before anything is
// logged. Failed requests are logged by the HTTP layer's error
// handler: caller errors (4xx) at warn, dependency and programming
// errors (5xx) at error.
package reqlog

import (
	"log/slog"
	"os"
)

// sensitiveHeaders lists header names that must never reach a log line.
var sensitiveHeaders = map[string]struct{}{
	"authorization":   {},
	"x-access-token":  {},
}

// Redact returns a copy of headers with sensitive entries removed,
// safe to attach to a log record.
func Redact(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if _, sensitive := sensitiveHeaders[normalizeHeader(k)]; sensitive {
			continue
		}
		out[k] = v
	}
	return out
}

func normalizeHeader(k string) string {
	b := []byte(k)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// New builds the process-wide base logger. Format follows NODE_ENV:
// development gets a human-readable text handler, production/test get
// JSON — mirroring the teacher's env-driven behavior in server.go.
func New(env string) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if env == "development" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// ForRequest derives a child logger carrying the fixed per-request
// attributes. Handlers log exclusively through the returned logger so
// request_id/endpoint are never forgotten on an individual call site.
func ForRequest(base *slog.Logger, requestID, endpoint string) *slog.Logger {
	return base.With("request_id", requestID, "endpoint", endpoint)
}
