package wire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/beacon/internal/util"
)

// ErrNotConnected is returned by Emit while the socket is down. Callers that
// can defer delivery (the outbox) treat it as a transport error, not a bug.
var ErrNotConnected = errors.New("socket not connected")

const (
	writeTimeout = 10 * time.Second

	// reconnect backoff bounds
	backoffMin = time.Second
	backoffMax = 30 * time.Second

	journalCap = 256
)

// Client keeps one authenticated websocket to the messaging backend alive,
// decoding inbound envelopes onto the Bus and serializing outbound writes.
type Client struct {
	url    string
	cookie string
	bus    *Bus

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	// journal of recent event names, for the status surface
	journal *eventJournal

	onConnect func()

	done chan struct{}
	once sync.Once
}

// NewClient creates a client for the given ws(s) URL. cookie is the session
// cookie sent on the handshake; empty means unauthenticated (the backend
// will answer with an auth error event).
func NewClient(socketURL, cookie string, bus *Bus) *Client {
	return &Client{
		url:     socketURL,
		cookie:  cookie,
		bus:     bus,
		journal: newEventJournal(journalCap),
		done:    make(chan struct{}),
	}
}

// OnConnect registers a callback fired after each successful (re)connect.
// Must be called before Run.
func (c *Client) OnConnect(fn func()) { c.onConnect = fn }

// Connected reports whether the socket is currently usable.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// RecentEvents returns the names of recently received events, oldest first.
func (c *Client) RecentEvents() []string { return c.journal.snapshot() }

// Emit sends one event. Returns ErrNotConnected when the socket is down —
// the offline queue absorbs that; nothing else should retry blindly.
func (c *Client) Emit(event string, payload any) error {
	env, err := marshalEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(env); err != nil {
		// A failed write means the connection is gone; the read pump will
		// notice too, but flag it now so the next Emit fails fast.
		c.connected = false
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Run dials and maintains the connection until ctx is cancelled or Close is
// called, reconnecting with capped exponential backoff. Blocks.
func (c *Client) Run(ctx context.Context) {
	backoff := backoffMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		conn, err := c.dial(ctx)
		if err != nil {
			log.Printf("SOCKET: dial %s failed: %v (retry in %s)", c.url, err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}

		backoff = backoffMin
		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.mu.Unlock()
		log.Printf("SOCKET: connected to %s", c.url)
		if c.onConnect != nil {
			c.onConnect()
		}

		c.readPump(conn)

		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.mu.Unlock()
	}
}

// Close tears the connection down and stops Run. Idempotent.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cookie != "" {
		header.Set("Cookie", c.cookie)
	}
	dialer := websocket.Dialer{HandshakeTimeout: util.DefaultConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	return conn, err
}

// readPump decodes envelopes until the connection dies.
func (c *Client) readPump(conn *websocket.Conn) {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("SOCKET: read error: %v", err)
			}
			conn.Close()
			return
		}
		if env.Event == "" {
			continue
		}
		c.journal.push(env.Event)
		c.bus.Publish(env.Event, env.Data)
	}
}
