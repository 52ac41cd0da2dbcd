package config

import (
	"os"
	"testing"
)

func withEnv(t *testing.T, kv map[string]string, fn func()) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
	_ = os.Unsetenv("QUIK_EVENT_LIST")
	fn()
}

func TestLoadAppliesDefaultsAndValidatesLocalhost(t *testing.T) {
	withEnv(t, map[string]string{"QUIK_RPC_HOST": "tcp://127.0.0.1:5560"}, func() {
		cfg, err := Load("/nonexistent/path/to/.env")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.NSimultaneousSockets != 5 {
			t.Fatalf("expected default n_simultaneous_sockets=5, got %d", cfg.NSimultaneousSockets)
		}
		if cfg.SocketTimeoutMs != 100 {
			t.Fatalf("expected default socket_timeout_ms=100, got %d", cfg.SocketTimeoutMs)
		}
	})
}

func TestValidateRejectsRemoteRPCHost(t *testing.T) {
	cfg := &Config{RPCHost: "tcp://203.0.113.10:5560", NSimultaneousSockets: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to reject a non-local rpc_host")
	}
}

func TestValidateRejectsNonPositiveSocketCount(t *testing.T) {
	cfg := &Config{RPCHost: "tcp://127.0.0.1:5560", NSimultaneousSockets: 0}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected Validate to reject n_simultaneous_sockets <= 0")
	}
}

func TestEventFilterSetLowercasesAndTrims(t *testing.T) {
	cfg := &Config{EventList: []string{" OnTrade ", "OnOrder"}}
	set := cfg.EventFilterSet()
	if _, ok := set["ontrade"]; !ok {
		t.Fatalf("expected lowercased, trimmed key 'ontrade' in filter set")
	}
	if _, ok := set["onorder"]; !ok {
		t.Fatalf("expected lowercased key 'onorder' in filter set")
	}
}

func TestEventFilterSetNilWhenEmpty(t *testing.T) {
	cfg := &Config{}
	if set := cfg.EventFilterSet(); set != nil {
		t.Fatalf("expected nil filter set (accept-all) when EventList is empty, got %v", set)
	}
}
