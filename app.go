package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/petervdpas/beacon/internal/api"
	"github.com/petervdpas/beacon/internal/call"
	"github.com/petervdpas/beacon/internal/chat"
	"github.com/petervdpas/beacon/internal/config"
	"github.com/petervdpas/beacon/internal/outbox"
	"github.com/petervdpas/beacon/internal/store"
	"github.com/petervdpas/beacon/internal/util"
	"github.com/petervdpas/beacon/internal/wire"
)

// App owns the full client stack: cache database, REST client, socket,
// chat manager, offline queue, and call engine. One App per session.
type App struct {
	cfg config.Config

	db    *store.DB
	rest  *api.Client
	bus   *wire.Bus
	sock  *wire.Client
	chat  *chat.Manager
	queue *outbox.Queue
	calls *call.Engine

	cancel  context.CancelFunc
	done    chan struct{}
	unsubs  []func()
	started bool

	onAuthExpired func()
}

// NewApp assembles the stack from config. Nothing connects until Run.
func NewApp(cfg config.Config) (*App, error) {
	db, err := store.Open(cfg.Paths.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	a := &App{cfg: cfg, db: db, done: make(chan struct{})}

	a.rest = api.New(cfg.Server.BaseURL, cfg.Server.AuthCookie, func() string {
		return a.chat.Identity()
	})
	a.bus = wire.NewBus()
	a.sock = wire.NewClient(cfg.SocketURL(), cfg.Server.AuthCookie, a.bus)
	a.chat = chat.New(db, a.sock, a.rest, cfg.History.FetchLimit)
	a.queue = outbox.New(db, a.chat, a.sock)

	provider, factory, err := call.NewStack(cfg.Calls.STUNServers)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("media stack: %w", err)
	}
	a.calls = call.NewEngine(a.sock, provider, factory,
		a.chat.Identity, time.Duration(cfg.Calls.RingTimeoutSec)*time.Second)

	return a, nil
}

// OnAuthExpired registers the callback fired when the backend demands a
// fresh login. Fired once per session, after a short grace so the user sees
// the notice before any redirect.
func (a *App) OnAuthExpired(fn func()) { a.onAuthExpired = fn }

// Calls exposes the call engine for UI callback registration.
func (a *App) Calls() *call.Engine { return a.calls }

// Chat exposes the chat manager for UI event subscription.
func (a *App) Chat() *chat.Manager { return a.chat }

// Run resolves the session identity, connects the socket, and starts the
// outbox flusher. Blocks until the identity lookup settles; the socket and
// flusher keep running until Shutdown.
func (a *App) Run(ctx context.Context) error {
	if a.started {
		return nil
	}
	a.started = true

	lookupCtx, cancel := context.WithTimeout(ctx, util.DefaultFetchTimeout)
	profile, err := a.rest.Me(lookupCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("profile lookup: %w", err)
	}
	a.chat.SetIdentity(profile.Email)
	log.Printf("APP: session identity %s", profile.Email)

	a.subscribe()

	runCtx, stop := context.WithCancel(ctx)
	a.cancel = stop

	a.sock.OnConnect(func() {
		log.Printf("APP: socket up, flushing outbox")
		a.queue.Flush()
	})
	go a.sock.Run(runCtx)
	go a.queue.Run(a.done, time.Duration(a.cfg.Outbox.FlushIntervalSec)*time.Second)
	return nil
}

// subscribe wires every inbound socket event to its handler. The cancels
// collected here are released on Shutdown.
func (a *App) subscribe() {
	sub := func(c func()) { a.unsubs = append(a.unsubs, c) }

	sub(wire.On(a.bus, wire.EvMessage, func(ev wire.InboundMessage) {
		a.chat.HandleInbound(ev, false)
	}))
	sub(wire.On(a.bus, wire.EvGroupMessage, func(ev wire.InboundMessage) {
		a.chat.HandleInbound(ev, false)
	}))
	sub(wire.On(a.bus, wire.EvMediaMessage, func(ev wire.InboundMessage) {
		a.chat.HandleInbound(ev, true)
	}))

	sub(wire.On(a.bus, wire.EvIncomingCall, a.calls.HandleIncoming))
	sub(wire.On(a.bus, wire.EvCallAnswered, a.calls.HandleAnswered))
	sub(wire.On(a.bus, wire.EvRemoteCandidate, a.calls.HandleRemoteCandidate))
	sub(wire.On(a.bus, wire.EvCallRejected, a.calls.HandleRejected))
	sub(a.bus.Subscribe(wire.EvCallEnded, func(_ json.RawMessage) {
		a.calls.HandleEnded()
	}))
	sub(wire.On(a.bus, wire.EvCallError, a.calls.HandleError))

	sub(wire.On(a.bus, wire.EvError, a.handleServerError))
}

// handleServerError surfaces backend errors. An auth failure fires the
// relogin hook after a short grace so the error notice is visible first.
func (a *App) handleServerError(ev wire.ServerError) {
	log.Printf("APP: server error: %s (code=%s)", ev.Message, ev.Code)
	if !ev.RequiresLogin {
		return
	}
	if a.onAuthExpired == nil {
		return
	}
	fn := a.onAuthExpired
	a.onAuthExpired = nil
	time.AfterFunc(util.ShortTimeout, fn)
}

// SendText sends (or queues) a text message to the given conversation.
func (a *App) SendText(key, text string, mode chat.Mode) (chat.Message, error) {
	return a.queue.Send(key, text, mode)
}

// SendMedia uploads a file over the socket.
func (a *App) SendMedia(up wire.MediaUpload) error {
	return a.chat.SendMedia(up)
}

// OpenConversation returns the local history immediately and reconciles it
// with the backend, marking the conversation read.
func (a *App) OpenConversation(ctx context.Context, key string, mode chat.Mode) []chat.Message {
	if err := a.chat.MarkRead(key); err != nil {
		log.Printf("APP: mark read %s: %v", key, err)
	}
	return a.chat.RefreshHistory(ctx, key, mode)
}

// PlaceCall starts an outgoing call to callee.
func (a *App) PlaceCall(ctx context.Context, callee string, video bool) error {
	kind := wire.CallKindAudio
	if video {
		kind = wire.CallKindVideo
	}
	return a.calls.Place(ctx, callee, kind)
}

// Status reports the session's health surface: socket state, identity,
// call state, unread badge, and the names of recently received events.
func (a *App) Status() map[string]string {
	return map[string]string{
		"connected":     strconv.FormatBool(a.sock.Connected()),
		"identity":      a.chat.Identity(),
		"call_state":    string(a.calls.State()),
		"unread":        strconv.Itoa(a.chat.TotalUnread()),
		"recent_events": strings.Join(a.sock.RecentEvents(), " "),
	}
}

// Logout drops every trace of the session: active call ended, queue
// cleared, cache wiped. The socket stays up so a fresh login can reuse it.
func (a *App) Logout() error {
	a.calls.End()
	if err := a.queue.Clear(); err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}
	if err := a.db.Wipe(); err != nil {
		return fmt.Errorf("wipe cache: %w", err)
	}
	a.chat.SetIdentity("")
	log.Printf("APP: session state wiped")
	return nil
}

// Shutdown tears everything down in dependency order. Idempotent.
func (a *App) Shutdown() {
	select {
	case <-a.done:
		return
	default:
	}
	close(a.done)

	a.calls.Close()
	if a.cancel != nil {
		a.cancel()
	}
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.sock.Close()
	a.bus.Close()
	a.chat.Close()
	if err := a.db.Close(); err != nil {
		log.Printf("APP: close cache: %v", err)
	}
	log.Printf("APP: shut down")
}
