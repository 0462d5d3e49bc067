// Package chat maintains the per-conversation message history: one
// chronologically ordered, duplicate-free sequence per conversation key,
// assembled from the local cache, fetched server history, and live socket
// events.
package chat

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/petervdpas/beacon/internal/store"
)

// Mode distinguishes 1-to-1 from group delivery.
type Mode string

const (
	ModePrivate Mode = "private"
	ModeGroup   Mode = "group"
)

// MessageID is the explicit server-vs-pending identity variant. A confirmed
// ID carries the backend's persisted identifier; a pending ID carries a
// client-generated one that is never authoritative — pending messages are
// identified by their composite key until the server history confirms them.
type MessageID struct {
	Value     string
	Confirmed bool
}

// ServerID wraps a backend-assigned identifier.
func ServerID(id string) MessageID { return MessageID{Value: id, Confirmed: true} }

// PendingID generates a fresh client-local identifier.
func PendingID() MessageID { return MessageID{Value: uuid.NewString()} }

// Message is one entry in a conversation's history. Append-only; never
// edited in place. IsOwn is fixed at receipt time by comparing the sender
// to the session identity, and never re-evaluated.
type Message struct {
	ID          MessageID
	Sender      string
	Receiver    string
	Group       string
	Content     string
	MediaURL    string
	Filename    string
	Mimetype    string
	IsOwn       bool
	IsMedia     bool
	Timestamp   int64  // unix millis, the sortable ordering key
	DisplayTime string // render-only; never compared
}

// IdentityKey is the deduplication key: the server identifier when the
// message is confirmed, otherwise a composite of sender, content, and
// displayed time — which is what lets an optimistic send collapse with its
// server echo. Total: every message has exactly one key.
func (m Message) IdentityKey() string {
	if m.ID.Confirmed {
		return "srv:" + m.ID.Value
	}
	return compositeKey(m)
}

func compositeKey(m Message) string {
	return m.Sender + "\x00" + m.Content + "\x00" + m.DisplayTime
}

// FormatDisplayTime renders a millisecond timestamp the way the UI shows it.
func FormatDisplayTime(ts int64) string {
	return time.UnixMilli(ts).Format("15:04")
}

// Dedup returns msgs with only the first occurrence of each identity key,
// preserving relative order. Idempotent.
func Dedup(msgs []Message) []Message {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		key := m.IdentityKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Merge combines a local sequence (cache or optimistic sends) with a fetched
// server sequence into one deduplicated history. Local entries are inserted
// first; server entries overwrite on identity collision since they carry
// authoritative identifiers and timestamps. A confirmed server row whose
// composite matches a pending local entry replaces that entry — this is how
// an optimistic send collapses with its echo once the backend persists it.
// The result is stable-sorted by Timestamp so histories spanning a day
// boundary or loaded out of request order cannot end up misordered.
func Merge(local, server []Message) []Message {
	merged := make(map[string]Message, len(local)+len(server))
	order := make([]string, 0, len(local)+len(server))

	for _, m := range local {
		key := m.IdentityKey()
		if _, ok := merged[key]; !ok {
			order = append(order, key)
		}
		merged[key] = m
	}
	for _, m := range server {
		key := m.IdentityKey()
		if m.ID.Confirmed {
			// Evict a pending local entry this server row confirms; the
			// row is then stored under its server id like any other, so
			// each message ends up under exactly one key.
			if prev, ok := merged[compositeKey(m)]; ok && !prev.ID.Confirmed {
				delete(merged, compositeKey(m))
			}
		}
		if _, ok := merged[key]; !ok {
			order = append(order, key)
		}
		merged[key] = m
	}

	out := make([]Message, 0, len(order))
	for _, key := range order {
		if m, ok := merged[key]; ok {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// toRecord converts a Message for persistence.
func toRecord(conversation string, m Message) store.MessageRecord {
	rec := store.MessageRecord{
		Conversation: conversation,
		Sender:       m.Sender,
		Receiver:     m.Receiver,
		GroupName:    m.Group,
		Content:      m.Content,
		MediaURL:     m.MediaURL,
		Filename:     m.Filename,
		Mimetype:     m.Mimetype,
		IsOwn:        m.IsOwn,
		IsMedia:      m.IsMedia,
		Timestamp:    m.Timestamp,
		DisplayTime:  m.DisplayTime,
	}
	if m.ID.Confirmed {
		rec.ServerID = m.ID.Value
	} else {
		rec.LocalID = m.ID.Value
	}
	return rec
}

// fromRecord restores a persisted Message.
func fromRecord(rec store.MessageRecord) Message {
	m := Message{
		Sender:      rec.Sender,
		Receiver:    rec.Receiver,
		Group:       rec.GroupName,
		Content:     rec.Content,
		MediaURL:    rec.MediaURL,
		Filename:    rec.Filename,
		Mimetype:    rec.Mimetype,
		IsOwn:       rec.IsOwn,
		IsMedia:     rec.IsMedia,
		Timestamp:   rec.Timestamp,
		DisplayTime: rec.DisplayTime,
	}
	if rec.ServerID != "" {
		m.ID = ServerID(rec.ServerID)
	} else {
		m.ID = MessageID{Value: rec.LocalID}
	}
	return m
}
