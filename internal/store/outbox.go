package store

import "fmt"

// Outbox entry statuses.
const (
	OutboxPending = "pending"
	OutboxSending = "sending"
	OutboxFailed  = "failed"
)

// OutboxItem is one queued outbound message. The row is written before
// Enqueue returns and updated before every status transition returns, so a
// crash between mutation and next read cannot lose queue state.
type OutboxItem struct {
	ID           string
	Conversation string
	Sender       string
	Receiver     string
	GroupName    string
	Text         string
	Mode         string // "private" or "group"
	EnqueuedAt   int64
	Retries      int
	Status       string
}

// InsertOutbox persists a new queue entry.
func (d *DB) InsertOutbox(it OutboxItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`
		INSERT INTO outbox
			(id, conversation, sender, receiver, group_name, text, mode, enqueued_at, retries, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.Conversation, it.Sender, it.Receiver, it.GroupName,
		it.Text, it.Mode, it.EnqueuedAt, it.Retries, it.Status,
	)
	return err
}

// GetOutbox returns one queue entry by id, or false if absent.
func (d *DB) GetOutbox(id string) (OutboxItem, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var it OutboxItem
	err := d.db.QueryRow(`
		SELECT id, conversation, sender, receiver, group_name, text, mode, enqueued_at, retries, status
		FROM outbox WHERE id = ?`, id).
		Scan(&it.ID, &it.Conversation, &it.Sender, &it.Receiver, &it.GroupName,
			&it.Text, &it.Mode, &it.EnqueuedAt, &it.Retries, &it.Status)
	if err != nil {
		return OutboxItem{}, false
	}
	return it, true
}

// UpdateOutbox persists a status transition and retry count.
func (d *DB) UpdateOutbox(id, status string, retries int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.Exec(`UPDATE outbox SET status = ?, retries = ? WHERE id = ?`, status, retries, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("outbox entry %s not found", id)
	}
	return nil
}

// DeleteOutbox removes one queue entry. Deleting an absent id is a no-op.
func (d *DB) DeleteOutbox(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`DELETE FROM outbox WHERE id = ?`, id)
	return err
}

// ResetOutboxSending returns every in-flight entry to pending and reports
// how many were moved. A row stuck in sending means the process died mid-
// attempt; run once at startup before the first flush.
func (d *DB) ResetOutboxSending() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.Exec(`UPDATE outbox SET status = ? WHERE status = ?`,
		OutboxPending, OutboxSending)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight outbox entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ListOutboxEligible returns entries with status pending or failed, oldest
// first. Entries currently sending are excluded so two flush passes never
// attempt the same message concurrently.
func (d *DB) ListOutboxEligible() ([]OutboxItem, error) {
	return d.listOutbox(`WHERE status IN (?, ?) ORDER BY enqueued_at`, OutboxPending, OutboxFailed)
}

// ListOutboxAll returns the whole queue, oldest first.
func (d *DB) ListOutboxAll() ([]OutboxItem, error) {
	return d.listOutbox(`ORDER BY enqueued_at`)
}

func (d *DB) listOutbox(clause string, args ...any) ([]OutboxItem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rows, err := d.db.Query(`
		SELECT id, conversation, sender, receiver, group_name, text, mode, enqueued_at, retries, status
		FROM outbox `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutboxItem
	for rows.Next() {
		var it OutboxItem
		if err := rows.Scan(&it.ID, &it.Conversation, &it.Sender, &it.Receiver, &it.GroupName,
			&it.Text, &it.Mode, &it.EnqueuedAt, &it.Retries, &it.Status); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ClearOutbox wipes the queue. Used on logout/reset.
func (d *DB) ClearOutbox() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`DELETE FROM outbox`)
	return err
}
