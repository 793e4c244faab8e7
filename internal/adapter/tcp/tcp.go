// Package tcp implements the TCP protocol adapter (spec.md §4.8): a
// 4-byte big-endian length-prefixed JSON envelope framing, with multiple
// requests per connection handled concurrently. Framing and the
// per-connection write-lock pattern are adapted from the mini-rpc reference
// server's length-prefixed protocol.Decode/Encode and handleConn loop
// (other_examples/2027f93f_BX-D-mini-RPC__server-server.go.go): "reads must
// be sequential to parse frame boundaries... dispatch each request to its
// own goroutine for parallel processing... a per-connection write mutex
// prevents frame interleaving."
package tcp

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/router"
)

const maxFrameSize = 16 << 20 // 16MiB guards against a malformed length prefix exhausting memory

// Codec selects the wire encoding for frame bodies.
type Codec int

const (
	// CodecJSON is the default: each frame body is a JSON envelope.
	CodecJSON Codec = iota
	// CodecMsgpack encodes/decodes frame bodies as MessagePack instead,
	// for callers that want a denser binary wire format on a transport
	// that already pays for its own framing.
	CodecMsgpack
)

// Options configures the TCP adapter.
type Options struct {
	Codec Codec
}

// Adapter serves Raffel envelopes over a length-prefixed TCP stream.
type Adapter struct {
	Router   *router.Router
	Logger   *slog.Logger
	Opts     Options
	listener net.Listener
	wg       sync.WaitGroup
}

// New builds a TCP adapter bound to r. opts is variadic so existing callers
// that only pass a router and logger keep compiling; at most the first
// value is used.
func New(r *router.Router, logger *slog.Logger, opts ...Options) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	return &Adapter{Router: r, Logger: logger, Opts: o}
}

func (a *Adapter) marshal(v any) ([]byte, error) {
	if a.Opts.Codec == CodecMsgpack {
		return msgpack.Marshal(v)
	}
	return json.Marshal(v)
}

func (a *Adapter) unmarshal(raw []byte, v any) error {
	if a.Opts.Codec == CodecMsgpack {
		return msgpack.Unmarshal(raw, v)
	}
	return json.Unmarshal(raw, v)
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (a *Adapter) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp: listen %s: %w", addr, err)
	}
	a.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				a.wg.Wait()
				return nil
			default:
				return fmt.Errorf("tcp: accept: %w", err)
			}
		}
		a.wg.Add(1)
		go a.handleConn(ctx, conn)
	}
}

func (a *Adapter) handleConn(ctx context.Context, conn net.Conn) {
	defer a.wg.Done()
	defer conn.Close()

	var writeMu sync.Mutex
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		frame, err := readFrame(conn)
		if err != nil {
			return
		}

		var env envelope.Envelope
		if decodeErr := a.unmarshal(frame, &env); decodeErr != nil {
			a.Logger.Warn("tcp: malformed envelope", "error", decodeErr)
			continue
		}

		go a.Router.Dispatch(connCtx, &env, func(out *envelope.Envelope) {
			raw, err := a.marshal(out)
			if err != nil {
				return
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			writeFrame(conn, raw)
		})
	}
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("tcp: frame of %d bytes exceeds max %d", size, maxFrameSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func writeFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// Close stops accepting new connections.
func (a *Adapter) Close() error {
	if a.listener == nil {
		return nil
	}
	return a.listener.Close()
}
