// Package http implements the HTTP protocol adapter (spec.md §4.8): path
// routing of a procedure name onto a URL path, Server-Sent Events for
// streams, and events accepted over POST with no response body. Cancellation
// follows the request's context: client disconnect trips ctx.Cancel via the
// same context.Context propagation net/http already performs on
// ResponseWriter/Request.
package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
	"github.com/forattini-dev/raffel/internal/middleware/library"
	"github.com/forattini-dev/raffel/internal/router"
)

// Options configures the HTTP adapter.
type Options struct {
	BasePath string
	// CORSOrigins, if non-empty, are echoed back in Access-Control-Allow-Origin
	// for matching requests; "*" allows any origin.
	CORSOrigins []string
	// Compress enables gzip/deflate response compression when the client's
	// Accept-Encoding allows it, using klauspost/compress.
	Compress bool
}

// Adapter serves Raffel envelopes over HTTP: one procedure per path, with
// GET/POST both accepted (GET for query-string payloads, POST for JSON
// bodies), SSE for streams, and plain POST-with-empty-response for events.
type Adapter struct {
	Router *router.Router
	Logger *slog.Logger
	Opts   Options
}

// New builds an HTTP adapter bound to r.
func New(r *router.Router, logger *slog.Logger, opts Options) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{Router: r, Logger: logger, Opts: opts}
}

// Handler returns the http.Handler to mount (directly, or under a
// ServeMux/reverse proxy).
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(a.serve)
}

func (a *Adapter) serve(w http.ResponseWriter, req *http.Request) {
	a.applyCORS(w, req)
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	procedure := a.procedureFromPath(req.URL.Path)
	if procedure == "" {
		http.NotFound(w, req)
		return
	}

	env, err := a.decodeEnvelope(req, procedure)
	if err != nil {
		a.writeJSON(w, req, http.StatusBadRequest, "", library.Envelope{Success: false, Error: &envelopeDecodeErr})
		return
	}

	if env.Kind == envelope.KindRequest && acceptsEventStream(req) {
		a.serveStream(w, req, env)
		return
	}

	if env.Kind == envelope.KindEvent {
		var errOut *envelope.Envelope
		a.Router.Dispatch(req.Context(), env, func(out *envelope.Envelope) {
			if out.Kind == envelope.KindError {
				errOut = out
			}
		})
		if errOut != nil {
			applyRateLimitHeaders(w, errOut)
			a.writeJSON(w, req, statusForError(errOut), errOut.ID, wrapOutbound(errOut))
			return
		}
		w.Header().Set("X-Request-Id", env.ID)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	a.Router.Dispatch(req.Context(), env, func(out *envelope.Envelope) {
		status := http.StatusOK
		if out.Kind == envelope.KindError {
			status = statusForError(out)
			applyRateLimitHeaders(w, out)
		}
		a.writeJSON(w, req, status, out.ID, wrapOutbound(out))
	})
}

// serveStream renders a stream:start/data/end sequence as Server-Sent Events.
func (a *Adapter) serveStream(w http.ResponseWriter, req *http.Request, env *envelope.Envelope) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusNotImplemented)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-Id", env.ID)
	w.WriteHeader(http.StatusOK)

	a.Router.Dispatch(req.Context(), env, func(out *envelope.Envelope) {
		raw, err := json.Marshal(out)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", out.Kind, raw)
		flusher.Flush()
	})
}

func (a *Adapter) decodeEnvelope(req *http.Request, procedure string) (*envelope.Envelope, error) {
	env := envelope.New(procedure, envelope.KindRequest, nil)
	env.Metadata = headerMetadata(req)

	switch req.Method {
	case http.MethodGet:
		env.Payload = queryPayload(req)
	default:
		defer req.Body.Close()
		var payload any
		if req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				return nil, err
			}
		}
		env.Payload = payload
	}

	if isEventPath(req.URL.Path) {
		env.Kind = envelope.KindEvent
	}
	return env, nil
}

func (a *Adapter) procedureFromPath(path string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(path, a.Opts.BasePath), "/")
	trimmed = strings.TrimSuffix(trimmed, "/")
	trimmed = strings.TrimPrefix(trimmed, "events/")
	if trimmed == "" {
		return ""
	}
	return strings.ReplaceAll(trimmed, "/", ".")
}

func isEventPath(path string) bool {
	return strings.HasSuffix(path, "/emit") || strings.Contains(path, "/events/")
}

func acceptsEventStream(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/event-stream")
}

func queryPayload(req *http.Request) map[string]any {
	out := make(map[string]any, len(req.URL.Query()))
	for k, v := range req.URL.Query() {
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = v
		}
	}
	return out
}

func headerMetadata(req *http.Request) map[string]string {
	out := make(map[string]string, len(req.Header))
	for k := range req.Header {
		out[strings.ToLower(k)] = req.Header.Get(k)
	}
	return out
}

func (a *Adapter) applyCORS(w http.ResponseWriter, req *http.Request) {
	if len(a.Opts.CORSOrigins) == 0 {
		return
	}
	origin := req.Header.Get("Origin")
	for _, allowed := range a.Opts.CORSOrigins {
		if allowed == "*" || allowed == origin {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			return
		}
	}
}

func (a *Adapter) writeJSON(w http.ResponseWriter, req *http.Request, status int, requestID string, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	w.WriteHeader(status)

	if !a.Opts.Compress {
		w.Write(raw)
		return
	}
	writeCompressed(w, req, raw)
}

// writeCompressed negotiates gzip/deflate via klauspost/compress, matching
// the teacher pack's preference for that library over compress/gzip for hot
// paths (faster implementations, drop-in stdlib-compatible API).
func writeCompressed(w http.ResponseWriter, req *http.Request, raw []byte) {
	accept := req.Header.Get("Accept-Encoding")
	switch {
	case strings.Contains(accept, "gzip"):
		w.Header().Set("Content-Encoding", "gzip")
		gz, _ := gzip.NewWriterLevel(w, gzip.BestSpeed)
		defer gz.Close()
		gz.Write(raw)
	case strings.Contains(accept, "deflate"):
		w.Header().Set("Content-Encoding", "deflate")
		fw, err := flate.NewWriter(w, flate.BestSpeed)
		if err != nil {
			w.Write(raw)
			return
		}
		defer fw.Close()
		fw.Write(raw)
	default:
		w.Write(raw)
	}
}

func wrapOutbound(out *envelope.Envelope) library.Envelope {
	if out.Kind == envelope.KindError {
		return library.Envelope{Success: false, Error: toErrsError(out.Payload), Meta: map[string]any{"requestId": out.ID}}
	}
	return library.Envelope{Success: true, Data: out.Payload, Meta: map[string]any{"requestId": out.ID}}
}

func statusForError(out *envelope.Envelope) int {
	if e := toErrsError(out.Payload); e != nil {
		return e.Code.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// applyRateLimitHeaders translates a RESOURCE_EXHAUSTED error's Details
// (spec.md §4.6) into the X-RateLimit-*/Retry-After response headers
// spec.md §6 requires.
func applyRateLimitHeaders(w http.ResponseWriter, out *envelope.Envelope) {
	e := toErrsError(out.Payload)
	if e == nil || e.Code != errs.ResourceExhausted || e.Details == nil {
		return
	}
	if limit, ok := e.Details["limit"]; ok {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprint(limit))
	}
	if remaining, ok := e.Details["remaining"]; ok {
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprint(remaining))
	}
	if resetAt, ok := e.Details["resetAt"]; ok {
		w.Header().Set("X-RateLimit-Reset", fmt.Sprint(resetAt))
	}
	if retryAfter, ok := e.Details["retryAfter"]; ok {
		w.Header().Set("Retry-After", fmt.Sprint(retryAfter))
	}
}
