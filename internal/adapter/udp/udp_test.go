package udp

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/registry"
	"github.com/forattini-dev/raffel/internal/router"
)

func startTestServer(t *testing.T, opts Options) (net.Addr, func()) {
	t.Helper()
	reg := registry.New()
	reg.MustRegisterProcedure("echo", func(ctx *envelope.Context, payload any) (any, error) {
		return payload, nil
	}, registry.Options{})

	r := router.New(reg, nil)
	adapter := New(r, nil, opts)

	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("failed to bind test probe socket: %v", err)
	}
	addr := ln.LocalAddr()
	ln.Close() // release the port so ListenAndServe can rebind it

	ctx, cancel := context.WithCancel(context.Background())
	go adapter.ListenAndServe(ctx, addr.String())
	time.Sleep(50 * time.Millisecond) // let the listener come up

	return addr, func() { cancel(); adapter.Close() }
}

func TestUDPRoundTrip(t *testing.T) {
	addr, stop := startTestServer(t, Options{})
	defer stop()

	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("failed to dial test server: %v", err)
	}
	defer conn.Close()

	req := envelope.New("echo", envelope.KindRequest, "hello")
	raw, _ := json.Marshal(req)
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("failed to write datagram: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, maxDatagramSize)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("failed to read response datagram: %v", err)
	}

	var resp envelope.Envelope
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Payload != "hello" {
		t.Fatalf("expected echoed payload 'hello', got %v", resp.Payload)
	}
	if resp.ID != req.ID {
		t.Fatalf("expected response to correlate by ID, got %q want %q", resp.ID, req.ID)
	}
}

func TestUDPAckModeSendsAckBeforeResponse(t *testing.T) {
	addr, stop := startTestServer(t, Options{AckMode: true})
	defer stop()

	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("failed to dial test server: %v", err)
	}
	defer conn.Close()

	req := envelope.New("echo", envelope.KindRequest, "hello")
	raw, _ := json.Marshal(req)
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("failed to write datagram: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, maxDatagramSize)

	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("failed to read ack datagram: %v", err)
	}
	var ack envelope.Envelope
	if err := json.Unmarshal(buf[:n], &ack); err != nil {
		t.Fatalf("failed to decode ack: %v", err)
	}
	if ack.Kind != envelope.KindAck {
		t.Fatalf("expected the first datagram to be a KindAck, got %v", ack.Kind)
	}
	if ack.ID != req.ID+":ack" {
		t.Fatalf("expected the ack id to be the request id with a ':ack' suffix, got %q", ack.ID)
	}

	n, err = conn.Read(buf)
	if err != nil {
		t.Fatalf("failed to read response datagram: %v", err)
	}
	var resp envelope.Envelope
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Payload != "hello" {
		t.Fatalf("expected echoed payload 'hello', got %v", resp.Payload)
	}
}

func TestUDPMalformedDatagramIsIgnored(t *testing.T) {
	addr, stop := startTestServer(t, Options{})
	defer stop()

	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("failed to dial test server: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("not json")); err != nil {
		t.Fatalf("failed to write malformed datagram: %v", err)
	}

	// follow up with a well-formed request; the adapter's single reader loop
	// must have survived the malformed datagram and still process this one.
	req := envelope.New("echo", envelope.KindRequest, "still alive")
	raw, _ := json.Marshal(req)
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("failed to write follow-up datagram: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, maxDatagramSize)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("expected the adapter to keep serving after a malformed datagram: %v", err)
	}
	var resp envelope.Envelope
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Payload != "still alive" {
		t.Fatalf("expected echoed payload 'still alive', got %v", resp.Payload)
	}
}
