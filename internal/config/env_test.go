package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "")
	cfg := Load()
	if cfg.WS.HeartbeatInterval != 30*time.Second {
		t.Fatalf("heartbeat = %v", cfg.WS.HeartbeatInterval)
	}
	if cfg.WS.SendBuffer != 256 {
		t.Fatalf("send buffer = %d", cfg.WS.SendBuffer)
	}
	if !cfg.Call.StrictLedger {
		t.Fatal("strict ledger should default to true")
	}
	if cfg.Call.RingTimeout != 30*time.Second {
		t.Fatalf("ring timeout = %v", cfg.Call.RingTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "10s")
	t.Setenv("CALL_STRICT_LEDGER", "false")
	t.Setenv("CALL_RING_TIMEOUT", "0s")
	t.Setenv("WS_SEND_BUFFER", "not-a-number")

	cfg := Load()
	if cfg.WS.HeartbeatInterval != 10*time.Second {
		t.Fatalf("heartbeat = %v", cfg.WS.HeartbeatInterval)
	}
	if cfg.WS.PresenceTTL != 15*time.Second {
		t.Fatalf("presence ttl = %v, want 1.5x heartbeat", cfg.WS.PresenceTTL)
	}
	if cfg.Call.StrictLedger {
		t.Fatal("strict ledger should be off")
	}
	if cfg.Call.RingTimeout != 0 {
		t.Fatalf("ring timeout = %v", cfg.Call.RingTimeout)
	}
	if cfg.WS.SendBuffer != 256 {
		t.Fatalf("invalid int should fall back, got %d", cfg.WS.SendBuffer)
	}
}
