// Package outbox guarantees attempted delivery of outbound messages despite
// transient transport unavailability, with bounded retry. Every mutation is
// persisted before it returns, so queue state survives a crash or restart.
package outbox

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petervdpas/beacon/internal/chat"
	"github.com/petervdpas/beacon/internal/store"
	"github.com/petervdpas/beacon/internal/wire"
)

// MaxRetries is the delivery attempt ceiling. When the counter reaches it
// the entry is permanently dropped — failure is terminal, not retried.
const MaxRetries = 3

// Transport is what the queue needs from the socket layer.
type Transport interface {
	Emit(event string, payload any) error
	Connected() bool
}

// Queue is the durable offline send queue. It sits on top of the chat
// manager: optimistic appends go through it so the reconciled history and
// the queue never disagree about what was sent.
type Queue struct {
	db   *store.DB
	mgr  *chat.Manager
	tr   Transport
	self func() string

	mu          sync.RWMutex
	onDelivered []func(store.OutboxItem)
	onDropped   []func(store.OutboxItem)
}

// New creates a queue over the given cache database and transport. Entries
// left in sending by a previous process are returned to pending so they
// become eligible again instead of sitting in-flight forever.
func New(db *store.DB, mgr *chat.Manager, tr Transport) *Queue {
	if n, err := db.ResetOutboxSending(); err != nil {
		log.Printf("OUTBOX: recover in-flight entries: %v", err)
	} else if n > 0 {
		log.Printf("OUTBOX: recovered %d in-flight entries", n)
	}
	return &Queue{db: db, mgr: mgr, tr: tr, self: mgr.Identity}
}

// OnDelivered registers a callback fired when a queued entry is confirmed sent.
func (q *Queue) OnDelivered(fn func(store.OutboxItem)) {
	q.mu.Lock()
	q.onDelivered = append(q.onDelivered, fn)
	q.mu.Unlock()
}

// OnDropped registers a callback fired when an entry hits the retry ceiling
// and is permanently removed. Whether to surface that to the user is the
// subscriber's call; the queue itself is done with the message.
func (q *Queue) OnDropped(fn func(store.OutboxItem)) {
	q.mu.Lock()
	q.onDropped = append(q.onDropped, fn)
	q.mu.Unlock()
}

// Send appends an optimistic message to the conversation and attempts
// delivery, falling back to the queue when the transport is unusable or the
// emit fails. Send itself never fails on transport trouble — that is the
// queue's whole point.
func (q *Queue) Send(key, text string, mode chat.Mode) (chat.Message, error) {
	msg := q.mgr.AppendOwn(key, text, mode)

	if !q.tr.Connected() {
		_, err := q.Enqueue(key, text, mode)
		return msg, err
	}
	if err := q.emitText(q.self(), key, text, mode); err != nil {
		log.Printf("OUTBOX: send to %s failed, queueing: %v", key, err)
		_, qerr := q.Enqueue(key, text, mode)
		return msg, qerr
	}
	return msg, nil
}

// Enqueue persists a new pending entry and returns its queue-local id.
func (q *Queue) Enqueue(key, text string, mode chat.Mode) (string, error) {
	it := store.OutboxItem{
		ID:           "offline-" + uuid.NewString(),
		Conversation: key,
		Sender:       q.self(),
		Text:         text,
		Mode:         string(mode),
		EnqueuedAt:   time.Now().UnixMilli(),
		Status:       store.OutboxPending,
	}
	if mode == chat.ModeGroup {
		it.GroupName = key
	} else {
		it.Receiver = key
	}
	if err := q.db.InsertOutbox(it); err != nil {
		return "", err
	}
	log.Printf("OUTBOX: queued %s for %s", it.ID, key)
	return it.ID, nil
}

// MarkSending transitions an entry to sending before a delivery attempt.
func (q *Queue) MarkSending(id string) error {
	it, ok := q.db.GetOutbox(id)
	if !ok {
		return nil
	}
	return q.db.UpdateOutbox(id, store.OutboxSending, it.Retries)
}

// MarkFailed transitions an entry to failed and bumps its retry counter.
// At the ceiling the entry is removed for good. Calling MarkFailed on an
// absent id is a no-op.
func (q *Queue) MarkFailed(id string) error {
	it, ok := q.db.GetOutbox(id)
	if !ok {
		return nil
	}
	it.Retries++
	if it.Retries >= MaxRetries {
		if err := q.db.DeleteOutbox(id); err != nil {
			return err
		}
		log.Printf("OUTBOX: dropping %s after %d attempts", id, it.Retries)
		q.mu.RLock()
		dropped := make([]func(store.OutboxItem), len(q.onDropped))
		copy(dropped, q.onDropped)
		q.mu.RUnlock()
		for _, fn := range dropped {
			fn(it)
		}
		return nil
	}
	return q.db.UpdateOutbox(id, store.OutboxFailed, it.Retries)
}

// Dequeue removes an entry on confirmed successful delivery.
func (q *Queue) Dequeue(id string) error {
	return q.db.DeleteOutbox(id)
}

// Pending returns entries eligible for another attempt: pending and failed,
// never sending — a sending entry already has an attempt in flight.
func (q *Queue) Pending() ([]store.OutboxItem, error) {
	return q.db.ListOutboxEligible()
}

// Clear wipes the queue. Used on logout/reset.
func (q *Queue) Clear() error {
	return q.db.ClearOutbox()
}

// Flush attempts delivery of every eligible entry once. Safe to call any
// time; does nothing while the transport is down.
func (q *Queue) Flush() {
	if !q.tr.Connected() {
		return
	}
	items, err := q.Pending()
	if err != nil {
		log.Printf("OUTBOX: list pending: %v", err)
		return
	}
	for _, it := range items {
		if err := q.MarkSending(it.ID); err != nil {
			log.Printf("OUTBOX: mark sending %s: %v", it.ID, err)
			continue
		}
		if err := q.emitText(it.Sender, it.Conversation, it.Text, chat.Mode(it.Mode)); err != nil {
			log.Printf("OUTBOX: retry %s failed (attempt %d): %v", it.ID, it.Retries+1, err)
			if err := q.MarkFailed(it.ID); err != nil {
				log.Printf("OUTBOX: mark failed %s: %v", it.ID, err)
			}
			continue
		}
		if err := q.Dequeue(it.ID); err != nil {
			log.Printf("OUTBOX: dequeue %s: %v", it.ID, err)
			continue
		}
		log.Printf("OUTBOX: delivered %s to %s", it.ID, it.Conversation)
		q.mu.RLock()
		delivered := make([]func(store.OutboxItem), len(q.onDelivered))
		copy(delivered, q.onDelivered)
		q.mu.RUnlock()
		for _, fn := range delivered {
			fn(it)
		}
	}
}

// Run flushes on the given interval until ctx is done. The socket client's
// OnConnect hook should also call Flush directly so reconnects drain the
// queue without waiting out a tick.
func (q *Queue) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			q.Flush()
		}
	}
}

func (q *Queue) emitText(sender, key, text string, mode chat.Mode) error {
	if mode == chat.ModeGroup {
		return q.tr.Emit(wire.EvSendGroup, wire.GroupMessage{
			Sender:    sender,
			GroupName: key,
			Text:      text,
		})
	}
	return q.tr.Emit(wire.EvSendDirect, wire.DirectMessage{
		Sender:   sender,
		Receiver: key,
		Text:     text,
	})
}
