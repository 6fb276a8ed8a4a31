package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	h, err := NewHistoryStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistoryRoundTrip(t *testing.T) {
	h := newTestStore(t)

	require.NoError(t, h.AddMessage("chat-1", "human", "schedule a meeting tomorrow"))
	require.NoError(t, h.AddMessage("chat-1", "ai", "Done, it's on your calendar."))
	require.NoError(t, h.AddMessage("chat-2", "human", "unrelated"))

	history, err := h.GetHistory("chat-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Chronological order, oldest first.
	assert.Equal(t, "human", history[0].Role)
	assert.Equal(t, "schedule a meeting tomorrow", history[0].Content)
	assert.Equal(t, "ai", history[1].Role)
}

func TestGetHistoryLimit(t *testing.T) {
	h := newTestStore(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, h.AddMessage("chat-1", "human", "msg"))
	}
	history, err := h.GetHistory("chat-1", 3)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestReminders(t *testing.T) {
	h := newTestStore(t)
	now := time.Now()

	require.NoError(t, h.AddReminder("chat-1", "standup in 10", now.Add(-time.Minute)))
	require.NoError(t, h.AddReminder("chat-1", "later", now.Add(time.Hour)))

	due, err := h.GetDueReminders(now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "standup in 10", due[0].Description)

	require.NoError(t, h.MarkReminderSent(due[0].ID))
	due, err = h.GetDueReminders(now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestListReminders(t *testing.T) {
	h := newTestStore(t)
	now := time.Now().Truncate(time.Second)

	require.NoError(t, h.AddReminder("chat-1", "second", now.Add(2*time.Hour)))
	require.NoError(t, h.AddReminder("chat-1", "first", now.Add(time.Hour)))
	require.NoError(t, h.AddReminder("chat-2", "elsewhere", now.Add(time.Hour)))

	pending, err := h.ListReminders("chat-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// Soonest first, scoped to the chat.
	assert.Equal(t, "first", pending[0].Description)
	assert.Equal(t, "second", pending[1].Description)

	// Sent reminders drop out of the listing.
	require.NoError(t, h.MarkReminderSent(pending[0].ID))
	pending, err = h.ListReminders("chat-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "second", pending[0].Description)
}
