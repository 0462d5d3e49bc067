package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/petervdpas/beacon/internal/util"
)

type Config struct {
	Server  Server  `json:"server"`
	Paths   Paths   `json:"paths"`
	History History `json:"history"`
	Outbox  Outbox  `json:"outbox"`
	Calls   Calls   `json:"calls"`
}

type Server struct {
	// BaseURL of the collaboration backend (REST: profile, history).
	BaseURL string `json:"base_url"`

	// SocketURL of the messaging socket. Empty means derived from BaseURL
	// by swapping the scheme to ws(s) and appending /chat.
	SocketURL string `json:"socket_url"`

	// AuthCookie is the session cookie sent on every request and on the
	// socket handshake. Obtaining it is the login flow's problem, not ours:
	// requests are authenticated or they fail.
	AuthCookie string `json:"auth_cookie"`
}

type Paths struct {
	// DataDir holds the local cache database. Relative to the profile dir.
	DataDir string `json:"data_dir"`
}

type History struct {
	// FetchLimit is the number of most-recent messages requested per
	// conversation when history is loaded.
	FetchLimit int `json:"fetch_limit"`
}

type Outbox struct {
	// FlushIntervalSec is how often queued messages are re-attempted while
	// the transport is usable.
	FlushIntervalSec int `json:"flush_interval_sec"`
}

type Calls struct {
	// STUNServers used by the negotiation object.
	STUNServers []string `json:"stun_servers"`

	// RingTimeoutSec tears down a call stuck in outgoing/incoming after
	// this many seconds. 0 disables the timeout.
	RingTimeoutSec int `json:"ring_timeout_sec"`
}

func Default() Config {
	return Config{
		Server: Server{
			BaseURL:   "http://localhost:5000",
			SocketURL: "",
		},
		Paths: Paths{
			DataDir: "data",
		},
		History: History{
			FetchLimit: 100,
		},
		Outbox: Outbox{
			FlushIntervalSec: 15,
		},
		Calls: Calls{
			STUNServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
			RingTimeoutSec: 0,
		},
	}
}

func (c *Config) Validate() error {
	// Server
	if strings.TrimSpace(c.Server.BaseURL) == "" {
		return errors.New("server.base_url is required")
	}
	if _, err := url.Parse(c.Server.BaseURL); err != nil {
		return fmt.Errorf("server.base_url: %w", err)
	}
	if s := strings.TrimSpace(c.Server.SocketURL); s != "" {
		u, err := url.Parse(s)
		if err != nil {
			return fmt.Errorf("server.socket_url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return errors.New("server.socket_url must use ws:// or wss://")
		}
	}

	// Paths
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}

	// History
	if c.History.FetchLimit <= 0 {
		return errors.New("history.fetch_limit must be > 0")
	}

	// Outbox
	if c.Outbox.FlushIntervalSec <= 0 {
		return errors.New("outbox.flush_interval_sec must be > 0")
	}

	// Calls
	if len(c.Calls.STUNServers) == 0 {
		return errors.New("calls.stun_servers must not be empty")
	}
	if c.Calls.RingTimeoutSec < 0 {
		return errors.New("calls.ring_timeout_sec must be >= 0")
	}

	return nil
}

// SocketURL returns the configured socket URL, or one derived from BaseURL.
func (c *Config) SocketURL() string {
	if s := strings.TrimSpace(c.Server.SocketURL); s != "" {
		return s
	}
	return util.WebSocketURL(c.Server.BaseURL) + "/chat"
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
