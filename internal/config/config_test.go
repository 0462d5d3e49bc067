package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected creation on first run")
	}
	if cfg.History.FetchLimit != 100 {
		t.Fatalf("default fetch limit = %d", cfg.History.FetchLimit)
	}

	// Second run loads the existing file.
	_, created, err = Ensure(path)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second run must not recreate")
	}
}

func TestLoadStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"server":{"base_url":"https://collab.example.com"}}`)...)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.BaseURL != "https://collab.example.com" {
		t.Fatalf("base url = %q", cfg.Server.BaseURL)
	}
	// Missing fields keep their defaults.
	if cfg.Outbox.FlushIntervalSec != 15 {
		t.Fatalf("flush interval = %d", cfg.Outbox.FlushIntervalSec)
	}
}

func TestSocketURL(t *testing.T) {
	cfg := Default()
	cfg.Server.BaseURL = "https://collab.example.com/"
	if got := cfg.SocketURL(); got != "wss://collab.example.com/chat" {
		t.Fatalf("derived socket url = %q", got)
	}

	cfg.Server.SocketURL = "wss://sock.example.com/chat"
	if got := cfg.SocketURL(); got != "wss://sock.example.com/chat" {
		t.Fatalf("explicit socket url ignored: %q", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.Server.BaseURL = " " }},
		{"http socket url", func(c *Config) { c.Server.SocketURL = "http://x" }},
		{"zero fetch limit", func(c *Config) { c.History.FetchLimit = 0 }},
		{"zero flush interval", func(c *Config) { c.Outbox.FlushIntervalSec = 0 }},
		{"no stun servers", func(c *Config) { c.Calls.STUNServers = nil }},
		{"negative ring timeout", func(c *Config) { c.Calls.RingTimeoutSec = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}
