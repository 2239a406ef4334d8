package store

import (
	"database/sql"
	"errors"
)

const keyActiveConversation = "active_conversation"

// SaveActiveConversation persists the open conversation's id so the next
// session restores it. An empty id clears the saved state.
func (db *DB) SaveActiveConversation(id string) error {
	if id == "" {
		_, err := db.Exec(`DELETE FROM ui_state WHERE key = ?`, keyActiveConversation)
		return err
	}
	_, err := db.Exec(`
		INSERT INTO ui_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		keyActiveConversation, id)
	return err
}

// ActiveConversation returns the persisted open conversation id, or ""
// when none was saved.
func (db *DB) ActiveConversation() (string, error) {
	var id string
	err := db.QueryRow(`SELECT value FROM ui_state WHERE key = ?`, keyActiveConversation).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}
