package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Turn is one recorded side of a conversation exchange.
type Turn struct {
	Role    string
	Content string
}

// Reminder is a user-requested notification created through the calendar
// pipeline and delivered by the background scheduler.
type Reminder struct {
	ID          int64
	ChatID      string
	Description string
	RemindAt    time.Time
}

// HistoryStore persists conversation turns and reminders in sqlite.
type HistoryStore struct {
	DB *sql.DB
}

func NewHistoryStore(dbPath string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			description TEXT,
			remind_at DATETIME,
			sent INTEGER DEFAULT 0
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return &HistoryStore{DB: db}, nil
}

func (h *HistoryStore) AddMessage(chatID, role, content string) error {
	_, err := h.DB.Exec(
		`INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`,
		chatID, role, content,
	)
	return err
}

// GetHistory returns the most recent turns for a chat in chronological
// order.
func (h *HistoryStore) GetHistory(chatID string, limit int) ([]Turn, error) {
	rows, err := h.DB.Query(
		`SELECT role, content FROM messages WHERE chat_id = ? ORDER BY timestamp DESC LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, err
		}
		history = append(history, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

func (h *HistoryStore) AddReminder(chatID, description string, remindAt time.Time) error {
	_, err := h.DB.Exec(
		`INSERT INTO reminders (chat_id, description, remind_at) VALUES (?, ?, ?)`,
		chatID, description, remindAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetDueReminders returns unsent reminders whose time has passed.
func (h *HistoryStore) GetDueReminders(now time.Time) ([]Reminder, error) {
	rows, err := h.DB.Query(
		`SELECT id, chat_id, description, remind_at FROM reminders
		 WHERE sent = 0 AND remind_at <= ?`,
		now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []Reminder
	for rows.Next() {
		var r Reminder
		var remindAt string
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Description, &remindAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, remindAt); err == nil {
			r.RemindAt = t
		}
		due = append(due, r)
	}
	return due, rows.Err()
}

// ListReminders returns a chat's unsent reminders, soonest first.
func (h *HistoryStore) ListReminders(chatID string) ([]Reminder, error) {
	rows, err := h.DB.Query(
		`SELECT id, chat_id, description, remind_at FROM reminders
		 WHERE sent = 0 AND chat_id = ? ORDER BY remind_at`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []Reminder
	for rows.Next() {
		var r Reminder
		var remindAt string
		if err := rows.Scan(&r.ID, &r.ChatID, &r.Description, &remindAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, remindAt); err == nil {
			r.RemindAt = t
		}
		pending = append(pending, r)
	}
	return pending, rows.Err()
}

func (h *HistoryStore) MarkReminderSent(id int64) error {
	_, err := h.DB.Exec(`UPDATE reminders SET sent = 1 WHERE id = ?`, id)
	return err
}

func (h *HistoryStore) Close() error {
	return h.DB.Close()
}
