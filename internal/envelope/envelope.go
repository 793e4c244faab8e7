// Package envelope defines the canonical in-flight message shape shared by
// every protocol adapter, the router, the middleware chain, and the channel
// manager.
//
// An Envelope is produced once by an adapter when it parses a wire message,
// flows through the middleware chain (middleware attach data to the
// Context's Extensions; the one in-place change is library.RequestID writing
// Metadata["requestId"]), and is replaced — not edited — when a reply is
// produced. This mirrors the
// immutable, constructor-based Envelope in the GOX broker protocol this
// package is adapted from.
package envelope

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the semantic shape of an Envelope.
type Kind string

const (
	KindRequest     Kind = "request"
	KindResponse    Kind = "response"
	KindEvent       Kind = "event"
	KindAck         Kind = "ack"
	KindError       Kind = "error"
	KindStreamStart Kind = "stream:start"
	KindStreamData  Kind = "stream:data"
	KindStreamEnd   Kind = "stream:end"
	KindStreamError Kind = "stream:error"
)

// IsStream reports whether the kind belongs to the stream family.
func (k Kind) IsStream() bool {
	switch k {
	case KindStreamStart, KindStreamData, KindStreamEnd, KindStreamError:
		return true
	default:
		return false
	}
}

// Envelope is the atomic unit exchanged between adapters and the router.
//
// Adapters and the router construct new Envelope values to reply rather
// than editing the inbound one. The exception is library.RequestID, which
// stamps Metadata["requestId"] on the inbound envelope in place.
type Envelope struct {
	// ID correlates a request with its response. Stream frames share the
	// originating ID; wire-facing adapters are responsible for adding any
	// ":response" / ":error" suffix convention their protocol favors (see
	// internal/adapter/websocket and internal/adapter/jsonrpc).
	ID string `json:"id"`

	// Procedure is the dotted handler name this envelope targets. It may be
	// empty for internal frames such as ack or a bare subscribe/publish
	// channel frame.
	Procedure string `json:"procedure,omitempty"`

	// Kind tags the semantic shape of the envelope. The wire field is named
	// "type", matching the WebSocket/TCP/UDP envelope shape a client parses
	// ({"id":..., "type":"request|response|...", ...}).
	Kind Kind `json:"type"`

	// Payload is the arbitrary structured value carried by the envelope —
	// a request's input, a response's output, a stream frame's datum, or
	// an error's detail object. Adapters decide how to decode/encode it
	// for their wire format; the router and middleware treat it as opaque.
	// The validation interceptor checks it against the entry's InputSchema
	// but does not replace it: handlers receive the value the adapter decoded.
	Payload any `json:"payload,omitempty"`

	// Metadata is a flat string-keyed map: headers, auth tokens, trace ids.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// New builds a request/event envelope with a freshly minted ID.
func New(procedure string, kind Kind, payload any) *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		Procedure: procedure,
		Kind:      kind,
		Payload:   payload,
		Metadata:  make(map[string]string),
	}
}

// Reply builds a response envelope correlated to this one via ID.
func (e *Envelope) Reply(kind Kind, payload any) *Envelope {
	return &Envelope{
		ID:        e.ID,
		Procedure: e.Procedure,
		Kind:      kind,
		Payload:   payload,
		Metadata:  make(map[string]string),
	}
}

// WithMetadata returns a shallow clone of the envelope with one metadata key
// set. Because envelopes are treated as immutable, callers that need to
// attach outgoing metadata (e.g. X-Request-Id) use this rather than mutate
// Metadata on an envelope already handed to another goroutine.
func (e *Envelope) WithMetadata(key, value string) *Envelope {
	clone := *e
	clone.Metadata = make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		clone.Metadata[k] = v
	}
	clone.Metadata[key] = value
	return &clone
}

// Header returns a metadata value, mirroring the teacher envelope's
// GetHeader/SetHeader accessor pair but read-only since Envelope is immutable.
func (e *Envelope) Header(key string) (string, bool) {
	if e.Metadata == nil {
		return "", false
	}
	v, ok := e.Metadata[key]
	return v, ok
}

// ReceivedAt returns the current UTC time in RFC 3339 format with
// nanoseconds, for timestamping metadata.
func ReceivedAt() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
