package store

// Conversation kinds. Direct conversations are keyed by the peer's email;
// group conversations by the group name.
const (
	KindDirect = "direct"
	KindGroup  = "group"
)

// Conversation is the persisted record of one chat in the sidebar lists.
type Conversation struct {
	Key          string
	Kind         string
	Role         string
	Unread       int
	LastActivity int64
}

// UpsertConversation stores or updates a conversation entry. Unread is left
// untouched on update — counters move only through the unread methods.
func (d *DB) UpsertConversation(c Conversation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO conversations (key, kind, role, unread, last_activity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			kind          = excluded.kind,
			role          = excluded.role,
			last_activity = excluded.last_activity`,
		c.Key, c.Kind, c.Role, c.Unread, c.LastActivity,
	)
	return err
}

// GetConversation returns a conversation by key, or false if unknown.
func (d *DB) GetConversation(key string) (Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var c Conversation
	err := d.db.QueryRow(`
		SELECT key, kind, role, unread, last_activity
		FROM conversations WHERE key = ?`, key).
		Scan(&c.Key, &c.Kind, &c.Role, &c.Unread, &c.LastActivity)
	if err != nil {
		return Conversation{}, false
	}
	return c, true
}

// ListConversations returns all conversations of one kind, most recent first.
func (d *DB) ListConversations(kind string) ([]Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT key, kind, role, unread, last_activity
		FROM conversations WHERE kind = ?
		ORDER BY last_activity DESC`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.Key, &c.Kind, &c.Role, &c.Unread, &c.LastActivity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TouchConversation bumps last_activity for an existing conversation.
// Unknown keys are a no-op.
func (d *DB) TouchConversation(key string, ts int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`UPDATE conversations SET last_activity = ? WHERE key = ?`, ts, key)
	return err
}

// IncrementUnread bumps the unread counter for a conversation.
func (d *DB) IncrementUnread(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`UPDATE conversations SET unread = unread + 1 WHERE key = ?`, key)
	return err
}

// ClearUnread marks a conversation read.
func (d *DB) ClearUnread(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`UPDATE conversations SET unread = 0 WHERE key = ?`, key)
	return err
}

// TotalUnread returns the sum of all conversations' unread counters.
func (d *DB) TotalUnread() (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var n int
	err := d.db.QueryRow(`SELECT COALESCE(SUM(unread), 0) FROM conversations`).Scan(&n)
	return n, err
}
