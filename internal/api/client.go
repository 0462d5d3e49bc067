// Package api is the REST client for the messaging backend: profile lookup,
// user search, and conversation history. The socket layer carries live
// traffic; this package only reads persisted state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/petervdpas/beacon/internal/chat"
	"github.com/petervdpas/beacon/internal/util"
)

// Client talks to the backend REST API with cookie authentication.
type Client struct {
	baseURL string
	cookie  string
	self    func() string
	http    *http.Client
}

// New creates a Client for the given base URL. The cookie is sent verbatim
// in the Cookie header of every request. self supplies the session identity
// at call time; it is not known until the profile lookup completes.
func New(baseURL, cookie string, self func() string) *Client {
	return &Client{
		baseURL: util.NormalizeURL(baseURL),
		cookie:  cookie,
		self:    self,
		http:    &http.Client{Timeout: util.DefaultFetchTimeout},
	}
}

// Profile is the authenticated user's account record.
type Profile struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// User is a directory search result.
type User struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// serverMessage is one backend history record. The backend stores media and
// text messages in the same collection; media rows carry mediaUrl.
type serverMessage struct {
	ID        string `json:"_id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	GroupName string `json:"groupName"`
	Text      string `json:"text"`
	MediaURL  string `json:"mediaUrl"`
	Filename  string `json:"filename"`
	Mimetype  string `json:"mimetype"`
	IsMedia   bool   `json:"isMedia"`
	CreatedAt int64  `json:"createdAt"` // unix millis
}

type conversationResponse struct {
	Success  bool            `json:"success"`
	Messages []serverMessage `json:"messages"`
}

// Me returns the authenticated user's profile. The profile's email is the
// chat identity everywhere else in beacon.
func (c *Client) Me(ctx context.Context) (Profile, error) {
	var p Profile
	if err := c.getJSON(ctx, "/api/users/me", &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// SearchUsers looks up directory users matching query.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var users []User
	path := "/api/users/search?q=" + url.QueryEscape(query)
	if err := c.getJSON(ctx, path, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Conversation fetches up to limit most-recent messages for the given
// conversation key. Satisfies the history fetcher seam of the chat package;
// ownership is decided here by comparing the sender to self.
func (c *Client) Conversation(ctx context.Context, key string, mode chat.Mode, limit int) ([]chat.Message, error) {
	var path string
	if mode == chat.ModeGroup {
		path = fmt.Sprintf("/api/chat/conversation/group/%s?limit=%d", url.PathEscape(key), limit)
	} else {
		path = fmt.Sprintf("/api/chat/conversation/private/%s?limit=%d", url.PathEscape(key), limit)
	}

	var resp conversationResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("history fetch for %s refused by backend", key)
	}

	self := c.self()
	out := make([]chat.Message, 0, len(resp.Messages))
	for _, sm := range resp.Messages {
		content := sm.Text
		if content == "" {
			content = sm.Filename
		}
		if content == "" && sm.MediaURL != "" {
			content = "Media file"
		}
		out = append(out, chat.Message{
			ID:          chat.ServerID(sm.ID),
			Sender:      sm.Sender,
			Receiver:    sm.Receiver,
			Group:       sm.GroupName,
			Content:     content,
			MediaURL:    sm.MediaURL,
			Filename:    sm.Filename,
			Mimetype:    sm.Mimetype,
			IsOwn:       sm.Sender == self,
			IsMedia:     sm.IsMedia || sm.MediaURL != "",
			Timestamp:   sm.CreatedAt,
			DisplayTime: chat.FormatDisplayTime(sm.CreatedAt),
		})
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
