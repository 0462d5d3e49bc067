package chat

import (
	"context"
	"testing"

	"github.com/petervdpas/beacon/internal/store"
	"github.com/petervdpas/beacon/internal/wire"
)

type nullEmitter struct{ events []string }

func (e *nullEmitter) Emit(event string, _ any) error {
	e.events = append(e.events, event)
	return nil
}

type stubFetcher struct {
	msgs []Message
	err  error
}

func (f *stubFetcher) Conversation(_ context.Context, _ string, _ Mode, _ int) ([]Message, error) {
	return f.msgs, f.err
}

func newTestManager(t *testing.T, fetch HistoryFetcher) *Manager {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	m := New(db, &nullEmitter{}, fetch, 100)
	m.SetIdentity("me@x.io")
	return m
}

func inbound(sender, receiver, group, text string, ts int64) wire.InboundMessage {
	return wire.InboundMessage{
		Sender:    sender,
		Receiver:  receiver,
		GroupName: group,
		Text:      text,
		CreatedAt: ts,
	}
}

func TestHandleInboundDirect(t *testing.T) {
	m := newTestManager(t, nil)

	m.HandleInbound(inbound("alice@x.io", "me@x.io", "", "hi", 1000), false)

	t.Run("conversation auto-created for unknown peer", func(t *testing.T) {
		convs, err := m.Conversations(store.KindDirect)
		if err != nil {
			t.Fatal(err)
		}
		if len(convs) != 1 || convs[0].Key != "alice@x.io" {
			t.Fatalf("expected alice conversation, got %v", convs)
		}
	})

	t.Run("message keyed by sender", func(t *testing.T) {
		hist := m.History("alice@x.io")
		if len(hist) != 1 {
			t.Fatalf("expected 1 message, got %d", len(hist))
		}
		if hist[0].IsOwn {
			t.Fatal("peer message marked own")
		}
		if hist[0].Content != "hi" {
			t.Fatalf("content = %q", hist[0].Content)
		}
	})

	t.Run("own echo keyed by receiver, no new conversation", func(t *testing.T) {
		m.HandleInbound(inbound("me@x.io", "bob@x.io", "", "yo", 2000), false)
		hist := m.History("bob@x.io")
		if len(hist) != 1 || !hist[0].IsOwn {
			t.Fatalf("own echo misfiled: %v", hist)
		}
		convs, _ := m.Conversations(store.KindDirect)
		for _, c := range convs {
			if c.Key == "bob@x.io" {
				t.Fatal("own message must not auto-create the conversation")
			}
		}
	})

	t.Run("no key dropped", func(t *testing.T) {
		before := m.History("alice@x.io")
		m.HandleInbound(inbound("alice@x.io", "", "", "lost", 3000), false)
		// Sender present so the message lands under the sender key.
		after := m.History("alice@x.io")
		if len(after) != len(before)+1 {
			t.Fatalf("sender-keyed message lost")
		}
	})
}

func TestHandleInboundGroup(t *testing.T) {
	m := newTestManager(t, nil)

	m.HandleInbound(inbound("carol@x.io", "", "eng-team", "standup?", 1000), false)

	t.Run("group conversation never auto-created", func(t *testing.T) {
		convs, err := m.Conversations(store.KindGroup)
		if err != nil {
			t.Fatal(err)
		}
		if len(convs) != 0 {
			t.Fatalf("group auto-created: %v", convs)
		}
	})

	t.Run("history still recorded", func(t *testing.T) {
		if hist := m.History("eng-team"); len(hist) != 1 {
			t.Fatalf("expected 1 message, got %d", len(hist))
		}
	})

	t.Run("explicit membership lists it", func(t *testing.T) {
		if err := m.AddGroup("eng-team"); err != nil {
			t.Fatal(err)
		}
		convs, _ := m.Conversations(store.KindGroup)
		if len(convs) != 1 {
			t.Fatalf("expected 1 group, got %d", len(convs))
		}
	})
}

func TestUnreadAccounting(t *testing.T) {
	m := newTestManager(t, nil)

	for i := int64(0); i < 3; i++ {
		m.HandleInbound(inbound("alice@x.io", "me@x.io", "", "ping", 1000+i), false)
	}
	m.HandleInbound(inbound("carol@x.io", "me@x.io", "", "hey", 2000), false)

	if n := m.TotalUnread(); n != 4 {
		t.Fatalf("total unread = %d, want 4", n)
	}

	if err := m.MarkRead("alice@x.io"); err != nil {
		t.Fatal(err)
	}
	if n := m.TotalUnread(); n != 1 {
		t.Fatalf("after mark read total = %d, want 1", n)
	}

	// Own messages never count.
	m.HandleInbound(inbound("me@x.io", "alice@x.io", "", "reply", 3000), false)
	if n := m.TotalUnread(); n != 1 {
		t.Fatalf("own message changed unread: %d", n)
	}
}

func TestAppendOwnOptimistic(t *testing.T) {
	m := newTestManager(t, nil)

	msg := m.AppendOwn("alice@x.io", "on my way", ModePrivate)
	if !msg.IsOwn || msg.ID.Confirmed {
		t.Fatalf("optimistic message malformed: %+v", msg)
	}
	if msg.Receiver != "alice@x.io" {
		t.Fatalf("receiver = %q", msg.Receiver)
	}

	hist := m.History("alice@x.io")
	if len(hist) != 1 || hist[0].Content != "on my way" {
		t.Fatalf("optimistic append not visible: %v", hist)
	}

	grp := m.AppendOwn("eng-team", "done", ModeGroup)
	if grp.Group != "eng-team" || grp.Receiver != "" {
		t.Fatalf("group addressing wrong: %+v", grp)
	}
}

func TestRefreshHistory(t *testing.T) {
	t.Run("merges server over local", func(t *testing.T) {
		fetch := &stubFetcher{msgs: []Message{
			confirmed("m1", "alice@x.io", "hi", 1000),
			confirmed("m2", "me@x.io", "hello", 2000),
		}}
		m := newTestManager(t, fetch)
		m.AppendOwn("alice@x.io", "hello", ModePrivate)

		merged := m.RefreshHistory(context.Background(), "alice@x.io", ModePrivate)
		if len(merged) != 3 {
			t.Fatalf("merged length = %d, want 3", len(merged))
		}

		// Merged result is persisted: a second local read agrees.
		if hist := m.History("alice@x.io"); len(hist) != 3 {
			t.Fatalf("persisted length = %d, want 3", len(hist))
		}
	})

	t.Run("fetch failure returns local view", func(t *testing.T) {
		fetch := &stubFetcher{err: context.DeadlineExceeded}
		m := newTestManager(t, fetch)
		m.AppendOwn("alice@x.io", "queued thought", ModePrivate)

		out := m.RefreshHistory(context.Background(), "alice@x.io", ModePrivate)
		if len(out) != 1 || out[0].Content != "queued thought" {
			t.Fatalf("local view lost on fetch failure: %v", out)
		}
	})

	t.Run("refresh is idempotent", func(t *testing.T) {
		fetch := &stubFetcher{msgs: []Message{confirmed("m1", "alice@x.io", "hi", 1000)}}
		m := newTestManager(t, fetch)

		first := m.RefreshHistory(context.Background(), "alice@x.io", ModePrivate)
		second := m.RefreshHistory(context.Background(), "alice@x.io", ModePrivate)
		if len(first) != 1 || len(second) != 1 {
			t.Fatalf("repeat refresh not idempotent: %d then %d", len(first), len(second))
		}
	})
}

func TestSubscribe(t *testing.T) {
	m := newTestManager(t, nil)
	ch := m.Subscribe()

	m.HandleInbound(inbound("alice@x.io", "me@x.io", "", "hi", 1000), false)

	select {
	case ev := <-ch:
		if ev.Conversation != "alice@x.io" || ev.Message.Content != "hi" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("no event delivered")
	}

	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatal("channel not closed on unsubscribe")
	}
}
