// Package jsonrpc implements the JSON-RPC 2.0 protocol adapter (spec.md
// §4.8): single requests, notifications (no id → no response), and batch
// requests whose response array preserves element order. Error codes follow
// the closed taxonomy's JSON-RPC mapping (errs.Code.JSONRPC). The envelope
// translation is adapted from the teacher's BrokerRequest/BrokerResponse
// pair (internal/broker/service.go), generalized from the broker's fixed
// method set to arbitrary registered procedures.
package jsonrpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
	"github.com/forattini-dev/raffel/internal/router"
)

// Request is one JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one JSON-RPC 2.0 response object.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is a JSON-RPC 2.0 error object.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Adapter serves Raffel envelopes over JSON-RPC 2.0, over HTTP POST (the
// transport JSON-RPC is conventionally tunneled through).
type Adapter struct {
	Router *router.Router
	Logger *slog.Logger
}

// New builds a JSON-RPC adapter bound to r.
func New(r *router.Router, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{Router: r, Logger: logger}
}

// Handler returns the http.Handler that accepts single or batch POST bodies.
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(a.serve)
}

func (a *Adapter) serve(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()

	raw, isBatch, err := decodeBody(req.Body)
	if err != nil {
		writeJSON(w, Response{JSONRPC: "2.0", Error: &ResponseError{Code: errs.ParseError.JSONRPC(), Message: "parse error"}})
		return
	}

	if isBatch {
		var requests []Request
		if jsonErr := json.Unmarshal(raw, &requests); jsonErr != nil {
			writeJSON(w, Response{JSONRPC: "2.0", Error: &ResponseError{Code: errs.ParseError.JSONRPC(), Message: "parse error"}})
			return
		}
		responses := a.dispatchBatch(req.Context(), requests)
		writeJSON(w, responses)
		return
	}

	var single Request
	if jsonErr := json.Unmarshal(raw, &single); jsonErr != nil {
		writeJSON(w, Response{JSONRPC: "2.0", Error: &ResponseError{Code: errs.ParseError.JSONRPC(), Message: "parse error"}})
		return
	}
	resp, isNotification := a.dispatchOne(req.Context(), single)
	if isNotification {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, resp)
}

func decodeBody(r io.Reader) (json.RawMessage, bool, error) {
	dec := json.NewDecoder(r)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, false, err
	}
	trimmed := trimLeadingSpace(raw)
	return raw, len(trimmed) > 0 && trimmed[0] == '[', nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

// dispatchBatch runs every request concurrently and preserves the input
// element order in the response array, per spec.md §6's "JSON-RPC batch:
// element order preserved in the response array".
func (a *Adapter) dispatchBatch(ctx context.Context, requests []Request) []Response {
	responses := make([]Response, 0, len(requests))
	results := make([]*Response, len(requests))

	var wg sync.WaitGroup
	for i, r := range requests {
		wg.Add(1)
		go func(i int, r Request) {
			defer wg.Done()
			resp, isNotification := a.dispatchOne(ctx, r)
			if !isNotification {
				results[i] = &resp
			}
		}(i, r)
	}
	wg.Wait()

	for _, r := range results {
		if r != nil {
			responses = append(responses, *r)
		}
	}
	return responses
}

func (a *Adapter) dispatchOne(ctx context.Context, req Request) (Response, bool) {
	isNotification := req.ID == nil
	env := &envelope.Envelope{
		ID:        idString(req.ID),
		Procedure: req.Method,
		Kind:      envelope.KindRequest,
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &env.Payload)
	}

	// A notification (no id) dispatches with its natural kind — KindEvent
	// would fail kindCompatible against a procedure-kind registration and
	// silently never run — and simply has its reply discarded here instead.
	var resp Response
	a.Router.Dispatch(ctx, env, func(out *envelope.Envelope) {
		if isNotification {
			return
		}
		resp = toJSONRPC(req.ID, out)
	})
	return resp, isNotification
}

func toJSONRPC(id any, out *envelope.Envelope) Response {
	if out.Kind == envelope.KindError {
		code := errs.Internal.JSONRPC()
		message := "internal error"
		if e, ok := out.Payload.(*errs.Error); ok {
			code, message = e.Code.JSONRPC(), e.Message
		}
		return Response{JSONRPC: "2.0", ID: id, Error: &ResponseError{Code: code, Message: message}}
	}
	return Response{JSONRPC: "2.0", ID: id, Result: out.Payload}
}

func idString(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return jsonNumberString(v)
	default:
		return ""
	}
}

func jsonNumberString(f float64) string {
	raw, _ := json.Marshal(f)
	return string(raw)
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
