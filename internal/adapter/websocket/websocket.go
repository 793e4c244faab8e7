// Package websocket implements the WebSocket protocol adapter (spec.md
// §4.8 / §4.7): framed JSON envelopes over gorilla/websocket, delegating
// subscribe/unsubscribe/publish frames to the Channel Manager, with an
// optional heartbeat ping whose missed pong closes the socket. Socket close
// cancels every in-flight context for that socket.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/forattini-dev/raffel/internal/channel"
	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/router"
)

// Options configures the WebSocket adapter.
type Options struct {
	HeartbeatInterval time.Duration // 0 disables heartbeat pings
	PongTimeout       time.Duration
	ReadBufferSize    int
	WriteBufferSize   int
	CheckOrigin       func(r *http.Request) bool
}

func (o Options) normalized() Options {
	if o.HeartbeatInterval > 0 && o.PongTimeout <= 0 {
		o.PongTimeout = o.HeartbeatInterval * 2
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 4096
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = 4096
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(*http.Request) bool { return true }
	}
	return o
}

// Adapter serves Raffel envelopes and channel operations over WebSocket.
type Adapter struct {
	Router  *router.Router
	Channel *channel.Manager
	Logger  *slog.Logger
	Opts    Options
	upgrade websocket.Upgrader

	mu      sync.RWMutex
	sockets map[string]*socket
}

type socket struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
}

// New builds a WebSocket adapter. The Channel Manager's Sender must route
// frames back through this adapter's sockets; construct it with Adapter.send
// once the Adapter exists (see BindChannelManager).
func New(r *router.Router, logger *slog.Logger, opts Options) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	o := opts.normalized()
	a := &Adapter{
		Router:  r,
		Logger:  logger,
		Opts:    o,
		sockets: make(map[string]*socket),
		upgrade: websocket.Upgrader{ReadBufferSize: o.ReadBufferSize, WriteBufferSize: o.WriteBufferSize, CheckOrigin: o.CheckOrigin},
	}
	return a
}

// BindChannelManager wires a Channel Manager whose fan-out Sender delivers
// through this adapter's live sockets.
func (a *Adapter) BindChannelManager() *channel.Manager {
	a.Channel = channel.New(a.send)
	return a.Channel
}

func (a *Adapter) send(socketID string, env *envelope.Envelope) {
	a.mu.RLock()
	sock, ok := a.sockets[socketID]
	a.mu.RUnlock()
	if !ok {
		return
	}
	sock.writeEnvelope(env)
}

func (s *socket) writeEnvelope(env *envelope.Envelope) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.WriteJSON(env)
}

// Handler returns the http.Handler that upgrades connections.
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(a.serve)
}

func (a *Adapter) serve(w http.ResponseWriter, req *http.Request) {
	conn, err := a.upgrade.Upgrade(w, req, nil)
	if err != nil {
		a.Logger.Warn("websocket: upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	socketCtx, cancel := context.WithCancel(req.Context())
	sock := &socket{id: id, conn: conn, cancel: cancel}

	a.mu.Lock()
	a.sockets[id] = sock
	a.mu.Unlock()

	defer a.disconnect(id, sock)

	a.runHeartbeat(sock)
	a.readLoop(socketCtx, sock)
}

func (a *Adapter) disconnect(id string, sock *socket) {
	a.mu.Lock()
	delete(a.sockets, id)
	a.mu.Unlock()
	sock.cancel()
	if a.Channel != nil {
		a.Channel.OnDisconnect(id)
	}
	sock.conn.Close()
}

func (a *Adapter) runHeartbeat(sock *socket) {
	if a.Opts.HeartbeatInterval <= 0 {
		return
	}
	sock.conn.SetReadDeadline(time.Now().Add(a.Opts.PongTimeout))
	sock.conn.SetPongHandler(func(string) error {
		sock.conn.SetReadDeadline(time.Now().Add(a.Opts.PongTimeout))
		return nil
	})

	go func() {
		ticker := time.NewTicker(a.Opts.HeartbeatInterval)
		defer ticker.Stop()
		for range ticker.C {
			sock.writeMu.Lock()
			err := sock.conn.WriteMessage(websocket.PingMessage, nil)
			sock.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()
}

func (a *Adapter) readLoop(ctx context.Context, sock *socket) {
	for {
		_, raw, err := sock.conn.ReadMessage()
		if err != nil {
			return
		}
		a.dispatchMessage(ctx, sock, raw)
	}
}

// clientFrame is the envelope-plus-channel-op shape spec.md §4.8 describes
// for WebSocket client messages: {id, procedure, type, payload, metadata}
// with type additionally carrying "subscribe"/"unsubscribe"/"publish" for
// channel operations.
type clientFrame struct {
	ID        string            `json:"id"`
	Procedure string            `json:"procedure"`
	Type      string            `json:"type"`
	Payload   any               `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Channel   string            `json:"channel"`
	Event     string            `json:"event"`
}

func (a *Adapter) dispatchMessage(ctx context.Context, sock *socket, raw []byte) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		a.Logger.Warn("websocket: malformed frame", "socket", sock.id, "error", err)
		return
	}

	switch frame.Type {
	case "subscribe":
		a.handleChannelOp(ctx, sock, frame, a.Channel.Subscribe)
	case "unsubscribe":
		a.Channel.Unsubscribe(sock.id, frame.Channel)
		sock.writeEnvelope(&envelope.Envelope{ID: frame.ID, Kind: envelope.KindAck, Payload: map[string]any{"type": "unsubscribed", "channel": frame.Channel}})
	case "publish":
		reqCtx := envelope.NewContext(ctx, frame.ID)
		if err := a.Channel.Publish(reqCtx, sock.id, frame.Channel, frame.Event, frame.Payload, false); err != nil {
			sock.writeEnvelope(&envelope.Envelope{ID: frame.ID, Kind: envelope.KindError, Payload: err})
		}
	default:
		env := &envelope.Envelope{ID: frame.ID, Procedure: frame.Procedure, Kind: envelope.KindRequest, Payload: frame.Payload, Metadata: frame.Metadata}
		if frame.Type != "" {
			env.Kind = envelope.Kind(frame.Type)
		}
		a.Router.Dispatch(ctx, env, sock.writeEnvelope)
	}
}

func (a *Adapter) handleChannelOp(ctx context.Context, sock *socket, frame clientFrame, subscribe func(*envelope.Context, string, string) error) {
	reqCtx := envelope.NewContext(ctx, frame.ID)
	if err := subscribe(reqCtx, sock.id, frame.Channel); err != nil {
		sock.writeEnvelope(&envelope.Envelope{ID: frame.ID, Kind: envelope.KindError, Payload: err})
		return
	}
	sock.writeEnvelope(&envelope.Envelope{ID: frame.ID, Kind: envelope.KindAck, Payload: map[string]any{"type": "subscribed", "channel": frame.Channel}})
}
