package chat

import (
	"testing"
)

func confirmed(id, sender, content string, ts int64) Message {
	return Message{
		ID:          ServerID(id),
		Sender:      sender,
		Content:     content,
		Timestamp:   ts,
		DisplayTime: FormatDisplayTime(ts),
	}
}

func pending(sender, content string, ts int64) Message {
	return Message{
		ID:          PendingID(),
		Sender:      sender,
		Content:     content,
		Timestamp:   ts,
		DisplayTime: FormatDisplayTime(ts),
	}
}

func TestDedup(t *testing.T) {
	a := confirmed("m1", "alice@x.io", "hi", 1000)
	b := confirmed("m2", "bob@x.io", "hello", 2000)

	t.Run("removes duplicate server ids", func(t *testing.T) {
		out := Dedup([]Message{a, b, a})
		if len(out) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(out))
		}
		if out[0].ID.Value != "m1" || out[1].ID.Value != "m2" {
			t.Fatalf("order not preserved: %v", out)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		once := Dedup([]Message{a, b, a})
		twice := Dedup(once)
		if len(twice) != len(once) {
			t.Fatalf("second pass changed length: %d vs %d", len(twice), len(once))
		}
	})

	t.Run("pending messages collapse on composite key", func(t *testing.T) {
		p1 := pending("alice@x.io", "hi", 1000)
		p2 := pending("alice@x.io", "hi", 1000)
		out := Dedup([]Message{p1, p2})
		if len(out) != 1 {
			t.Fatalf("expected composite collapse, got %d messages", len(out))
		}
	})

	t.Run("same content different sender kept", func(t *testing.T) {
		p1 := pending("alice@x.io", "hi", 1000)
		p2 := pending("bob@x.io", "hi", 1000)
		if out := Dedup([]Message{p1, p2}); len(out) != 2 {
			t.Fatalf("distinct senders merged: %d", len(out))
		}
	})
}

func TestMerge(t *testing.T) {
	t.Run("server wins on identity collision", func(t *testing.T) {
		local := []Message{confirmed("m1", "alice@x.io", "hi", 1000)}
		server := []Message{confirmed("m1", "alice@x.io", "hi there", 1000)}
		out := Merge(local, server)
		if len(out) != 1 {
			t.Fatalf("expected 1 message, got %d", len(out))
		}
		if out[0].Content != "hi there" {
			t.Fatalf("local version survived: %q", out[0].Content)
		}
	})

	t.Run("optimistic send collapses with server echo", func(t *testing.T) {
		ts := int64(1_700_000_000_000)
		opt := pending("me@x.io", "on my way", ts)
		opt.IsOwn = true
		echo := confirmed("srv-9", "me@x.io", "on my way", ts)
		echo.DisplayTime = opt.DisplayTime

		out := Merge([]Message{opt}, []Message{echo})
		if len(out) != 1 {
			t.Fatalf("optimistic send did not collapse with echo: %d messages", len(out))
		}
		if !out[0].ID.Confirmed || out[0].ID.Value != "srv-9" {
			t.Fatalf("server identity must win: %+v", out[0].ID)
		}
	})

	t.Run("every identity key appears exactly once", func(t *testing.T) {
		// The cache already holds the confirmed row AND a fresh optimistic
		// send of the same text in the same display minute. Confirming the
		// pending entry must not leave the server row under two keys.
		ts := int64(1_700_000_000_000)
		c := confirmed("srv-1", "me@x.io", "ok", ts)
		p := pending("me@x.io", "ok", ts)
		p.IsOwn = true

		out := Merge([]Message{c, p}, []Message{c})
		if len(out) != 1 {
			t.Fatalf("expected 1 message, got %d", len(out))
		}
		seen := make(map[string]int)
		for _, m := range out {
			seen[m.IdentityKey()]++
		}
		for key, n := range seen {
			if n != 1 {
				t.Fatalf("identity key %q appears %d times", key, n)
			}
		}
	})

	t.Run("no entries lost", func(t *testing.T) {
		local := []Message{
			confirmed("m1", "a@x.io", "one", 1000),
			pending("me@x.io", "two", 2000),
		}
		server := []Message{
			confirmed("m3", "b@x.io", "three", 3000),
		}
		out := Merge(local, server)
		if len(out) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(out))
		}
	})

	t.Run("sorted by timestamp", func(t *testing.T) {
		local := []Message{confirmed("m2", "a@x.io", "later", 5000)}
		server := []Message{
			confirmed("m1", "b@x.io", "earlier", 1000),
			confirmed("m3", "b@x.io", "latest", 9000),
		}
		out := Merge(local, server)
		for i := 1; i < len(out); i++ {
			if out[i-1].Timestamp > out[i].Timestamp {
				t.Fatalf("out of order at %d: %d > %d", i, out[i-1].Timestamp, out[i].Timestamp)
			}
		}
	})

	t.Run("stable for equal timestamps", func(t *testing.T) {
		a := confirmed("m1", "a@x.io", "first", 1000)
		b := confirmed("m2", "a@x.io", "second", 1000)
		out := Merge([]Message{a, b}, nil)
		if out[0].ID.Value != "m1" || out[1].ID.Value != "m2" {
			t.Fatalf("equal-timestamp order not stable: %v, %v", out[0].ID, out[1].ID)
		}
	})

	t.Run("empty inputs", func(t *testing.T) {
		if out := Merge(nil, nil); len(out) != 0 {
			t.Fatalf("expected empty, got %d", len(out))
		}
		one := []Message{confirmed("m1", "a@x.io", "hi", 1)}
		if out := Merge(one, nil); len(out) != 1 {
			t.Fatalf("local-only merge lost entries")
		}
		if out := Merge(nil, one); len(out) != 1 {
			t.Fatalf("server-only merge lost entries")
		}
	})
}

func TestIdentityKey(t *testing.T) {
	c := confirmed("m1", "a@x.io", "hi", 1000)
	p := pending("a@x.io", "hi", 1000)
	if c.IdentityKey() == p.IdentityKey() {
		t.Fatalf("confirmed and pending keys must differ")
	}

	p2 := pending("a@x.io", "hi", 1000)
	if p.IdentityKey() != p2.IdentityKey() {
		t.Fatalf("composite key must ignore the client-local id")
	}
}
