package outbox

import (
	"errors"
	"testing"

	"github.com/petervdpas/beacon/internal/chat"
	"github.com/petervdpas/beacon/internal/store"
	"github.com/petervdpas/beacon/internal/wire"
)

// fakeTransport records emits and simulates connectivity.
type fakeTransport struct {
	connected bool
	fail      bool
	events    []string
	payloads  []any
}

func (f *fakeTransport) Connected() bool { return f.connected }

func (f *fakeTransport) Emit(event string, payload any) error {
	if f.fail {
		return errors.New("write: broken pipe")
	}
	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload)
	return nil
}

func newTestQueue(t *testing.T) (*Queue, *fakeTransport, *store.DB) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	tr := &fakeTransport{}
	mgr := chat.New(db, tr, nil, 100)
	mgr.SetIdentity("me@x.io")
	return New(db, mgr, tr), tr, db
}

func TestSendOnline(t *testing.T) {
	q, tr, db := newTestQueue(t)
	tr.connected = true

	msg, err := q.Send("alice@x.io", "hi", chat.ModePrivate)
	if err != nil {
		t.Fatal(err)
	}
	if !msg.IsOwn || msg.Content != "hi" {
		t.Fatalf("optimistic message wrong: %+v", msg)
	}
	if len(tr.events) != 1 || tr.events[0] != wire.EvSendDirect {
		t.Fatalf("expected one direct send, got %v", tr.events)
	}
	dm, ok := tr.payloads[0].(wire.DirectMessage)
	if !ok || dm.Sender != "me@x.io" || dm.Receiver != "alice@x.io" {
		t.Fatalf("payload wrong: %+v", tr.payloads[0])
	}

	// Nothing queued on a clean send.
	if items, _ := db.ListOutboxAll(); len(items) != 0 {
		t.Fatalf("clean send left queue entries: %v", items)
	}
}

func TestSendOfflineQueues(t *testing.T) {
	q, tr, db := newTestQueue(t)
	tr.connected = false

	msg, err := q.Send("eng-team", "standup in 5", chat.ModeGroup)
	if err != nil {
		t.Fatal(err)
	}
	if !msg.IsOwn {
		t.Fatal("offline send must still append optimistically")
	}
	if len(tr.events) != 0 {
		t.Fatalf("offline send must not emit, got %v", tr.events)
	}

	items, err := db.ListOutboxAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 queued entry, got %d", len(items))
	}
	it := items[0]
	if it.Status != store.OutboxPending || it.GroupName != "eng-team" || it.Mode != "group" {
		t.Fatalf("queued entry wrong: %+v", it)
	}
}

func TestSendEmitFailureQueues(t *testing.T) {
	q, tr, db := newTestQueue(t)
	tr.connected = true
	tr.fail = true

	if _, err := q.Send("alice@x.io", "hi", chat.ModePrivate); err != nil {
		t.Fatalf("send must absorb transport failure: %v", err)
	}
	if items, _ := db.ListOutboxAll(); len(items) != 1 {
		t.Fatal("failed emit not queued")
	}
}

func TestRetryCeiling(t *testing.T) {
	q, tr, db := newTestQueue(t)
	tr.connected = false

	id, err := q.Enqueue("alice@x.io", "hi", chat.ModePrivate)
	if err != nil {
		t.Fatal(err)
	}

	var dropped []store.OutboxItem
	q.OnDropped(func(it store.OutboxItem) { dropped = append(dropped, it) })

	for i := 0; i < MaxRetries-1; i++ {
		if err := q.MarkFailed(id); err != nil {
			t.Fatal(err)
		}
		if _, ok := db.GetOutbox(id); !ok {
			t.Fatalf("entry removed before ceiling at attempt %d", i+1)
		}
	}

	// The attempt that reaches the ceiling removes the entry for good.
	if err := q.MarkFailed(id); err != nil {
		t.Fatal(err)
	}
	if _, ok := db.GetOutbox(id); ok {
		t.Fatal("entry survived the retry ceiling")
	}
	if len(dropped) != 1 || dropped[0].ID != id {
		t.Fatalf("drop callback not fired: %v", dropped)
	}
	if dropped[0].Retries != MaxRetries {
		t.Fatalf("dropped with retries=%d, want %d", dropped[0].Retries, MaxRetries)
	}

	// Past the ceiling everything is a no-op.
	if err := q.MarkFailed(id); err != nil {
		t.Fatal(err)
	}
	if len(dropped) != 1 {
		t.Fatal("drop callback fired twice")
	}
}

func TestFlushDrainsOnReconnect(t *testing.T) {
	q, tr, db := newTestQueue(t)
	tr.connected = false

	if _, err := q.Send("alice@x.io", "one", chat.ModePrivate); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Send("eng-team", "two", chat.ModeGroup); err != nil {
		t.Fatal(err)
	}

	// Flush while down is a no-op.
	q.Flush()
	if len(tr.events) != 0 {
		t.Fatalf("flush emitted while disconnected: %v", tr.events)
	}

	var delivered []store.OutboxItem
	q.OnDelivered(func(it store.OutboxItem) { delivered = append(delivered, it) })

	tr.connected = true
	q.Flush()

	if len(tr.events) != 2 {
		t.Fatalf("expected 2 deliveries, got %v", tr.events)
	}
	if items, _ := db.ListOutboxAll(); len(items) != 0 {
		t.Fatalf("queue not drained: %v", items)
	}
	if len(delivered) != 2 {
		t.Fatalf("delivered callbacks = %d, want 2", len(delivered))
	}
}

func TestStartupRecoversInFlightEntries(t *testing.T) {
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	// A previous process died mid-attempt, leaving the entry in sending.
	stuck := store.OutboxItem{
		ID:           "offline-stuck",
		Conversation: "alice@x.io",
		Sender:       "me@x.io",
		Receiver:     "alice@x.io",
		Text:         "did this make it?",
		Mode:         "private",
		EnqueuedAt:   1000,
		Retries:      1,
		Status:       store.OutboxSending,
	}
	if err := db.InsertOutbox(stuck); err != nil {
		t.Fatal(err)
	}

	tr := &fakeTransport{}
	mgr := chat.New(db, tr, nil, 100)
	mgr.SetIdentity("me@x.io")
	q := New(db, mgr, tr)

	got, ok := db.GetOutbox("offline-stuck")
	if !ok {
		t.Fatal("entry lost during recovery")
	}
	if got.Status != store.OutboxPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.Retries != 1 {
		t.Fatalf("recovery must not touch the retry count: %d", got.Retries)
	}

	pending, err := q.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("recovered entry not eligible: %v", pending)
	}

	tr.connected = true
	q.Flush()
	if items, _ := db.ListOutboxAll(); len(items) != 0 {
		t.Fatalf("recovered entry not delivered: %v", items)
	}
}

func TestFlushFailureBumpsRetries(t *testing.T) {
	q, tr, db := newTestQueue(t)
	tr.connected = false

	if _, err := q.Send("alice@x.io", "hi", chat.ModePrivate); err != nil {
		t.Fatal(err)
	}

	tr.connected = true
	tr.fail = true
	q.Flush()

	items, _ := db.ListOutboxAll()
	if len(items) != 1 {
		t.Fatalf("entry vanished on first failure: %v", items)
	}
	if items[0].Status != store.OutboxFailed || items[0].Retries != 1 {
		t.Fatalf("retry accounting wrong: %+v", items[0])
	}

	// Failed entries stay eligible for the next flush.
	pending, _ := q.Pending()
	if len(pending) != 1 {
		t.Fatal("failed entry not eligible for retry")
	}

	tr.fail = false
	q.Flush()
	if items, _ := db.ListOutboxAll(); len(items) != 0 {
		t.Fatal("recovered flush did not drain")
	}
}
