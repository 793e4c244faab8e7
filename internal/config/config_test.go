package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "raffel.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host != "0.0.0.0" {
		t.Fatalf("expected default host 0.0.0.0, got %q", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.JSONRPC.Path != "/rpc" {
		t.Fatalf("expected default JSON-RPC path /rpc, got %q", cfg.JSONRPC.Path)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("expected default logging level=info format=json, got %+v", cfg.Logging)
	}
}

func TestLoadRespectsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
port: 9000
host: 127.0.0.1
websocket:
  enabled: true
  path: /socket
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9000 || cfg.Host != "127.0.0.1" {
		t.Fatalf("expected explicit host/port to be preserved, got %+v", cfg)
	}
	if !cfg.WebSocket.Enabled || cfg.WebSocket.Path != "/socket" {
		t.Fatalf("expected websocket block to be preserved, got %+v", cfg.WebSocket)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Fatalf("expected explicit logging config to be preserved, got %+v", cfg.Logging)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	path := writeConfig(t, `port: 99999`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected an out-of-range port to fail validation")
	}
}

func TestLoadRejectsInvalidLoggingLevel(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: noisy
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected an invalid logging level to fail validation")
	}
}

func TestLoadRejectsInvalidTCPCodec(t *testing.T) {
	path := writeConfig(t, `
tcp:
  enabled: true
  codec: protobuf
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected an unrecognized TCP codec to fail validation")
	}
}

func TestLoadAcceptsMsgpackTCPCodec(t *testing.T) {
	path := writeConfig(t, `
tcp:
  enabled: true
  codec: msgpack
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TCP.Codec != "msgpack" {
		t.Fatalf("expected tcp.codec to be preserved as 'msgpack', got %q", cfg.TCP.Codec)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected loading a missing file to fail")
	}
}
