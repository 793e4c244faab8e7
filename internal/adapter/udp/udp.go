// Package udp implements the datagram protocol adapter (spec.md §4.8): each
// UDP packet carries one JSON envelope, with an optional ACK mode (the
// adapter replies with a KindAck frame before — or in place of — the real
// response, for callers needing a fast "received" signal on an unreliable
// transport) and optional multicast group membership for fan-out delivery.
package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/ipv4"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/router"
)

const maxDatagramSize = 65507

// Options configures the UDP adapter.
type Options struct {
	// AckMode, if true, sends a KindAck frame immediately on receipt, ahead
	// of the real response/error frame.
	AckMode bool
	// MulticastGroup, if set, joins this multicast address on the bound
	// interface so the adapter also receives datagrams sent to the group.
	MulticastGroup string
}

// Adapter serves Raffel envelopes over UDP datagrams.
type Adapter struct {
	Router *router.Router
	Logger *slog.Logger
	Opts   Options
	conn   *net.UDPConn
}

// New builds a UDP adapter bound to r.
func New(r *router.Router, logger *slog.Logger, opts Options) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{Router: r, Logger: logger, Opts: opts}
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (a *Adapter) ListenAndServe(ctx context.Context, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("udp: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("udp: listen %s: %w", addr, err)
	}
	a.conn = conn

	if a.Opts.MulticastGroup != "" {
		if err := joinMulticast(conn, a.Opts.MulticastGroup); err != nil {
			conn.Close()
			return fmt.Errorf("udp: join multicast %s: %w", a.Opts.MulticastGroup, err)
		}
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("udp: read: %w", err)
			}
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		go a.handleDatagram(ctx, conn, remote, payload)
	}
}

func (a *Adapter) handleDatagram(ctx context.Context, conn *net.UDPConn, remote *net.UDPAddr, payload []byte) {
	var env envelope.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		a.Logger.Warn("udp: malformed envelope", "error", err, "remote", remote.String())
		return
	}

	if a.Opts.AckMode {
		ack := env.Reply(envelope.KindAck, nil)
		ack.ID = env.ID + ":ack"
		a.write(conn, remote, ack)
	}

	a.Router.Dispatch(ctx, &env, func(out *envelope.Envelope) {
		a.write(conn, remote, out)
	})
}

func (a *Adapter) write(conn *net.UDPConn, remote *net.UDPAddr, env *envelope.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	if len(raw) > maxDatagramSize {
		a.Logger.Warn("udp: response exceeds datagram size, dropping",
			"procedure", env.Procedure, "size", humanize.Bytes(uint64(len(raw))))
		return
	}
	if _, err := conn.WriteToUDP(raw, remote); err != nil {
		a.Logger.Warn("udp: write failed", "remote", remote.String(), "error", err)
	}
}

func joinMulticast(conn *net.UDPConn, group string) error {
	addr, err := net.ResolveUDPAddr("udp", group)
	if err != nil {
		return err
	}
	pc := ipv4.NewPacketConn(conn)
	return pc.JoinGroup(nil, &net.UDPAddr{IP: addr.IP})
}

// Close releases the bound socket.
func (a *Adapter) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
