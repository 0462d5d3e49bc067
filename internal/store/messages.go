package store

import "fmt"

// MessageRecord is the persisted form of one chat message. Exactly one of
// ServerID/LocalID is set: ServerID once the backend has persisted the
// message, LocalID for optimistic client-generated entries.
type MessageRecord struct {
	Conversation string
	ServerID     string
	LocalID      string
	Sender       string
	Receiver     string
	GroupName    string
	Content      string
	MediaURL     string
	Filename     string
	Mimetype     string
	IsOwn        bool
	IsMedia      bool
	Timestamp    int64 // unix millis, sortable
	DisplayTime  string
}

// AppendMessage appends one message to a conversation's history.
func (d *DB) AppendMessage(m MessageRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO messages
			(conversation, server_id, local_id, sender, receiver, group_name,
			 content, media_url, filename, mimetype, is_own, is_media, ts, display_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Conversation, m.ServerID, m.LocalID, m.Sender, m.Receiver, m.GroupName,
		m.Content, m.MediaURL, m.Filename, m.Mimetype, boolInt(m.IsOwn), boolInt(m.IsMedia),
		m.Timestamp, m.DisplayTime,
	)
	return err
}

// ReplaceMessages swaps a conversation's entire history for the given
// sequence, atomically. Used to persist a merge result.
func (d *DB) ReplaceMessages(conversation string, msgs []MessageRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation = ?`, conversation); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO messages
			(conversation, server_id, local_id, sender, receiver, group_name,
			 content, media_url, filename, mimetype, is_own, is_media, ts, display_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.Exec(
			conversation, m.ServerID, m.LocalID, m.Sender, m.Receiver, m.GroupName,
			m.Content, m.MediaURL, m.Filename, m.Mimetype, boolInt(m.IsOwn), boolInt(m.IsMedia),
			m.Timestamp, m.DisplayTime,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

// GetMessages returns a conversation's history in append order.
func (d *DB) GetMessages(conversation string) ([]MessageRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT conversation, server_id, local_id, sender, receiver, group_name,
		       content, media_url, filename, mimetype, is_own, is_media, ts, display_time
		FROM messages WHERE conversation = ? ORDER BY seq`, conversation)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var m MessageRecord
		var own, media int
		if err := rows.Scan(
			&m.Conversation, &m.ServerID, &m.LocalID, &m.Sender, &m.Receiver, &m.GroupName,
			&m.Content, &m.MediaURL, &m.Filename, &m.Mimetype, &own, &media,
			&m.Timestamp, &m.DisplayTime,
		); err != nil {
			return nil, err
		}
		m.IsOwn = own != 0
		m.IsMedia = media != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
