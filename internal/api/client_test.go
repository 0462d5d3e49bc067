package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/petervdpas/beacon/internal/chat"
)

func TestMe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/me" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Cookie") != "session=abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"_id":"u1","email":"me@x.io","name":"Me","role":"member"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "session=abc", func() string { return "" })
	p, err := c.Me(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p.Email != "me@x.io" || p.Name != "Me" {
		t.Fatalf("profile wrong: %+v", p)
	}

	// Wrong cookie surfaces as a status error.
	bad := New(srv.URL, "session=xyz", func() string { return "" })
	if _, err := bad.Me(context.Background()); err == nil {
		t.Fatal("expected auth failure")
	}
}

func TestConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat/conversation/private/alice@x.io":
			if r.URL.Query().Get("limit") != "100" {
				t.Errorf("limit = %q", r.URL.Query().Get("limit"))
			}
			w.Write([]byte(`{"success":true,"messages":[
				{"_id":"m1","sender":"alice@x.io","receiver":"me@x.io","text":"hi","createdAt":1000},
				{"_id":"m2","sender":"me@x.io","receiver":"alice@x.io","mediaUrl":"/up/f.png","filename":"f.png","mimetype":"image/png","isMedia":true,"createdAt":2000}
			]}`))
		case "/api/chat/conversation/group/eng-team":
			w.Write([]byte(`{"success":false}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "", func() string { return "me@x.io" })

	msgs, err := c.Conversation(context.Background(), "alice@x.io", chat.ModePrivate, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if !msgs[0].ID.Confirmed || msgs[0].ID.Value != "m1" {
		t.Fatalf("server id lost: %+v", msgs[0].ID)
	}
	if msgs[0].IsOwn {
		t.Fatal("peer message marked own")
	}
	if !msgs[1].IsOwn || !msgs[1].IsMedia || msgs[1].Content != "f.png" {
		t.Fatalf("media row mapped wrong: %+v", msgs[1])
	}

	if _, err := c.Conversation(context.Background(), "eng-team", chat.ModeGroup, 100); err == nil {
		t.Fatal("refused fetch must error")
	}
}
