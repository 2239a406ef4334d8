package store

import "time"

// OutboxEntry is a queued outgoing message. Entries survive daemon
// restarts so a send interrupted mid-flight can be retried.
type OutboxEntry struct {
	ID             int64
	ClientID       string
	ConversationID string
	Recipient      string
	Kind           string
	Body           string
	MediaURL       string
	FileName       string
	FileSize       int64
	MimeType       string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerID       string
}

// QueueOutbox adds a message to the send outbox.
func (db *DB) QueueOutbox(e OutboxEntry) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_id, conversation_id, recipient, kind, body,
			media_url, file_name, file_size, mime_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'queued', ?, ?)`,
		e.ClientID, e.ConversationID, e.Recipient, e.Kind, e.Body,
		e.MediaURL, e.FileName, e.FileSize, e.MimeType, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', updated_at = ? WHERE client_id = ?`, now, clientID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server-assigned id.
func (db *DB) MarkOutboxSent(clientID, serverID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_id = ?, updated_at = ? WHERE client_id = ?`, serverID, now, clientID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_id = ?`, errMsg, now, clientID)
	return err
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
// Entries stuck in 'sending' are included: the daemon may have died
// mid-flight, and resubmitting is safe because the remote write upserts
// on client_id.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_id, conversation_id, recipient, kind, body,
			media_url, file_name, file_size, mime_type, status, error_message, server_id
		FROM outbox WHERE status IN ('queued', 'sending') ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientID, &e.ConversationID, &e.Recipient,
			&e.Kind, &e.Body, &e.MediaURL, &e.FileName, &e.FileSize, &e.MimeType,
			&e.Status, &e.ErrorMessage, &e.ServerID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
