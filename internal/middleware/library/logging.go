package library

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
	"github.com/forattini-dev/raffel/internal/middleware"
)

// defaultRedactedHeaders lists the envelope metadata keys the logging
// interceptor masks before emitting a log record, per spec.md §4.6's
// "redaction of sensitive headers" requirement.
var defaultRedactedHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"x-access-token":      true,
	"x-refresh-token":     true,
	"x-csrf-token":        true,
	"x-xsrf-token":        true,
	"proxy-authorization": true,
	"www-authenticate":    true,
}

// LoggingOptions configures Logging.
type LoggingOptions struct {
	Logger          *slog.Logger
	RedactedHeaders map[string]bool
}

// Logging logs one structured record per dispatched envelope using
// log/slog (the ambient logging library every package in this runtime uses,
// following the teacher pack's own slog-based logging —
// nugget-thane-ai-agent/internal/config/logging.go), with sensitive headers
// masked before the record is emitted.
func Logging(opts LoggingOptions) middleware.Interceptor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redacted := opts.RedactedHeaders
	if redacted == nil {
		redacted = defaultRedactedHeaders
	}

	return func(env *envelope.Envelope, ctx *envelope.Context, next middleware.Next) (any, error) {
		start := time.Now()
		result, err := next()
		elapsed := time.Since(start)

		attrs := []any{
			"procedure", env.Procedure,
			"kind", string(env.Kind),
			"requestId", ctx.RequestID,
			"durationMs", elapsed.Milliseconds(),
			"payloadSize", humanize.Bytes(payloadSize(env.Payload)),
			"metadata", redactMetadata(env.Metadata, redacted),
		}

		if err != nil {
			e := errs.ToError(err)
			logger.Error("dispatch failed", append(attrs, "code", string(e.Code), "message", e.Message)...)
		} else {
			logger.Info("dispatch completed", attrs...)
		}
		return result, err
	}
}

// payloadSize estimates the wire size of an envelope payload for logging;
// a marshal failure just logs as zero rather than failing the dispatch.
func payloadSize(payload any) uint64 {
	if payload == nil {
		return 0
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return uint64(len(raw))
}

func redactMetadata(md map[string]string, redacted map[string]bool) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		if redacted[lower(k)] {
			out[k] = "[REDACTED]"
		} else {
			out[k] = v
		}
	}
	return out
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
