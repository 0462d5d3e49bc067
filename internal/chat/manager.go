package chat

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/petervdpas/beacon/internal/store"
	"github.com/petervdpas/beacon/internal/wire"
)

// Emitter is the only surface the chat package needs from the socket layer.
type Emitter interface {
	Emit(event string, payload any) error
}

// HistoryFetcher returns up to limit most-recent messages for a conversation
// key. Opaque request/response: no retry contract is imposed here — failure
// degrades to the local-only view.
type HistoryFetcher interface {
	Conversation(ctx context.Context, key string, mode Mode, limit int) ([]Message, error)
}

// Event is delivered to subscribers for every message appended to any
// conversation, live or optimistic.
type Event struct {
	Conversation string
	Message      Message
}

// Manager owns the conversation registry and reconciled message state. It is
// the sole mutator; the UI is a read-only subscriber that issues commands.
type Manager struct {
	db    *store.DB
	emit  Emitter
	fetch HistoryFetcher
	limit int

	mu        sync.RWMutex
	identity  string
	listeners []chan Event
}

// New creates a chat manager over the local cache. fetch may be nil in
// which case RefreshHistory serves the cache only.
func New(db *store.DB, emit Emitter, fetch HistoryFetcher, historyLimit int) *Manager {
	return &Manager{
		db:    db,
		emit:  emit,
		fetch: fetch,
		limit: historyLimit,
	}
}

// SetIdentity records the session identity used to compute is-own and to
// address outbound events. Must be set before inbound events are handled.
func (m *Manager) SetIdentity(email string) {
	m.mu.Lock()
	m.identity = email
	m.mu.Unlock()
}

// Identity returns the current session identity.
func (m *Manager) Identity() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// AddDirect registers a direct conversation with a peer (explicit "new chat").
func (m *Manager) AddDirect(key, role string) error {
	return m.db.UpsertConversation(store.Conversation{
		Key:          key,
		Kind:         store.KindDirect,
		Role:         role,
		LastActivity: time.Now().UnixMilli(),
	})
}

// AddGroup registers a group conversation. Group membership is explicit:
// this is the only way a group enters the list.
func (m *Manager) AddGroup(name string) error {
	return m.db.UpsertConversation(store.Conversation{
		Key:          name,
		Kind:         store.KindGroup,
		Role:         "Team Chat",
		LastActivity: time.Now().UnixMilli(),
	})
}

// Conversations returns the persisted list for one kind, most recent first.
func (m *Manager) Conversations(kind string) ([]store.Conversation, error) {
	return m.db.ListConversations(kind)
}

// HandleInbound converts a live socket event into a Message and appends it
// to the target conversation. is-own is computed against the session
// identity at receipt time. Direct messages for unknown peers create the
// conversation; group messages never do.
func (m *Manager) HandleInbound(ev wire.InboundMessage, isMedia bool) {
	self := m.Identity()

	key := ev.GroupName
	if key == "" {
		if ev.Sender == self {
			key = ev.Receiver
		} else {
			key = ev.Sender
		}
	}
	if key == "" {
		log.Printf("CHAT: dropping inbound event with no conversation key (sender=%s)", ev.Sender)
		return
	}

	ts := ev.CreatedAt
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	content := ev.Text
	if content == "" {
		content = ev.Filename
	}
	if content == "" && (isMedia || ev.MediaURL != "") {
		content = "Media file"
	}

	msg := Message{
		ID:          PendingID(),
		Sender:      ev.Sender,
		Receiver:    ev.Receiver,
		Group:       ev.GroupName,
		Content:     content,
		MediaURL:    ev.MediaURL,
		Filename:    ev.Filename,
		Mimetype:    ev.Mimetype,
		IsOwn:       ev.Sender == self,
		IsMedia:     isMedia || ev.MediaURL != "",
		Timestamp:   ts,
		DisplayTime: FormatDisplayTime(ts),
	}

	if ev.GroupName == "" && !msg.IsOwn {
		// First message from an unknown peer creates the conversation.
		if _, ok := m.db.GetConversation(key); !ok {
			if err := m.AddDirect(key, "Direct Message"); err != nil {
				log.Printf("CHAT: create conversation %s: %v", key, err)
			}
		}
	}

	m.append(key, msg)

	if !msg.IsOwn {
		if err := m.db.IncrementUnread(key); err != nil {
			log.Printf("CHAT: unread increment %s: %v", key, err)
		}
		m.RecordLastSeen(ev.Sender)
	}
}

// AppendOwn appends an optimistic outbound message and returns it. The
// identity key stays stable across the send/echo/history round trip, so the
// entry appears exactly once after reconciliation.
func (m *Manager) AppendOwn(key, text string, mode Mode) Message {
	now := time.Now().UnixMilli()
	msg := Message{
		ID:          PendingID(),
		Sender:      m.Identity(),
		Content:     text,
		IsOwn:       true,
		Timestamp:   now,
		DisplayTime: FormatDisplayTime(now),
	}
	if mode == ModeGroup {
		msg.Group = key
	} else {
		msg.Receiver = key
	}
	m.append(key, msg)
	return msg
}

// append persists one message and notifies listeners.
func (m *Manager) append(key string, msg Message) {
	if err := m.db.AppendMessage(toRecord(key, msg)); err != nil {
		log.Printf("CHAT: persist message for %s: %v", key, err)
	}
	if err := m.db.TouchConversation(key, msg.Timestamp); err != nil {
		log.Printf("CHAT: touch conversation %s: %v", key, err)
	}

	m.mu.RLock()
	for _, listener := range m.listeners {
		select {
		case listener <- Event{Conversation: key, Message: msg}:
		default:
			// Listener buffer full, skip
		}
	}
	m.mu.RUnlock()
}

// History returns the cached history for a conversation, append order.
func (m *Manager) History(key string) []Message {
	recs, err := m.db.GetMessages(key)
	if err != nil {
		log.Printf("CHAT: load history %s: %v", key, err)
		return nil
	}
	out := make([]Message, 0, len(recs))
	for _, r := range recs {
		out = append(out, fromRecord(r))
	}
	return out
}

// RefreshHistory fetches the server history for a conversation and merges it
// with the cached sequence. Server entries win on identity collisions. The
// merged result is persisted and returned. A fetch failure is non-fatal:
// it logs and returns the local view unchanged.
func (m *Manager) RefreshHistory(ctx context.Context, key string, mode Mode) []Message {
	local := m.History(key)
	if m.fetch == nil {
		return local
	}

	server, err := m.fetch.Conversation(ctx, key, mode, m.limit)
	if err != nil {
		log.Printf("CHAT: history fetch for %s failed, local-only: %v", key, err)
		return local
	}

	merged := Merge(local, server)
	recs := make([]store.MessageRecord, 0, len(merged))
	for _, msg := range merged {
		recs = append(recs, toRecord(key, msg))
	}
	if err := m.db.ReplaceMessages(key, recs); err != nil {
		log.Printf("CHAT: persist merged history %s: %v", key, err)
	}
	return merged
}

// MarkRead zeroes the unread counter for one conversation.
func (m *Manager) MarkRead(key string) error {
	return m.db.ClearUnread(key)
}

// TotalUnread is the aggregate badge value across all conversations.
func (m *Manager) TotalUnread() int {
	n, err := m.db.TotalUnread()
	if err != nil {
		log.Printf("CHAT: total unread: %v", err)
		return 0
	}
	return n
}

// SendMedia emits a media upload. Media is not queued offline: the caller
// gets the transport error and decides.
func (m *Manager) SendMedia(up wire.MediaUpload) error {
	up.Sender = m.Identity()
	return m.emit.Emit(wire.EvSendMedia, up)
}

// RecordLastSeen stores now as the last-connection timestamp for a peer.
func (m *Manager) RecordLastSeen(peer string) {
	if err := m.db.SetLastSeen(peer, time.Now().UnixMilli()); err != nil {
		log.Printf("CHAT: last seen %s: %v", peer, err)
	}
}

// LastSeen returns the last-connection timestamp for a peer, or false.
func (m *Manager) LastSeen(peer string) (time.Time, bool) {
	ts, ok := m.db.GetLastSeen(peer)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ts), true
}

// Subscribe returns a channel that receives every appended message.
func (m *Manager) Subscribe() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Event, 16)
	m.listeners = append(m.listeners, ch)
	return ch
}

// Unsubscribe removes a listener channel.
func (m *Manager) Unsubscribe(ch <-chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			close(listener)
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

// Close shuts down the manager and closes all listener channels.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, listener := range m.listeners {
		close(listener)
	}
	m.listeners = nil
}
