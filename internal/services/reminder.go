package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rahul/concierge/internal/store"
	"github.com/rahul/concierge/internal/timeutil"
)

// ReminderStore is the persistence surface the reminder service needs.
// *store.HistoryStore satisfies it.
type ReminderStore interface {
	AddReminder(chatID, description string, remindAt time.Time) error
	ListReminders(chatID string) ([]store.Reminder, error)
}

// ReminderService schedules one-off notifications. Delivery is handled
// by the background scheduler polling the same store.
type ReminderService struct {
	store ReminderStore
	loc   *time.Location
	log   zerolog.Logger
}

func NewReminderService(store ReminderStore, loc *time.Location, log zerolog.Logger) *ReminderService {
	if loc == nil {
		loc = time.Local
	}
	return &ReminderService{store: store, loc: loc, log: log.With().Str("service", "reminder").Logger()}
}

func (s *ReminderService) Execute(ctx context.Context, method string, params map[string]any) (*Result, error) {
	switch method {
	case "schedule_reminder":
		return s.schedule(params)
	case "list_reminders":
		return s.list(params)
	default:
		return Errorf("reminder service has no method %q", method), nil
	}
}

func (s *ReminderService) list(params map[string]any) (*Result, error) {
	chatID := StringParam(params, "chat_id")
	if chatID == "" {
		return Errorf("listing reminders needs a chat"), nil
	}
	pending, err := s.store.ListReminders(chatID)
	if err != nil {
		return nil, fmt.Errorf("listing reminders: %w", err)
	}

	formatted := make([]map[string]any, 0, len(pending))
	for _, r := range pending {
		formatted = append(formatted, map[string]any{
			"description": r.Description,
			"remind_at":   r.RemindAt.In(s.loc).Format(time.RFC3339),
		})
	}
	return Success(
		fmt.Sprintf("You have %d pending reminder(s)", len(formatted)),
		map[string]any{"reminders": formatted, "count": len(formatted)},
	), nil
}

func (s *ReminderService) schedule(params map[string]any) (*Result, error) {
	chatID := StringParam(params, "chat_id")
	if chatID == "" {
		return Errorf("reminder has no destination chat"), nil
	}
	description := StringParam(params, "description")
	if description == "" {
		description = StringParam(params, "summary")
	}
	if description == "" {
		return Errorf("reminder needs a description"), nil
	}

	remindAt, err := timeutil.ParseISO(StringParam(params, "start_time"))
	if err != nil {
		return Errorf("reminder needs a time: %v", err), nil
	}
	if err := s.store.AddReminder(chatID, description, remindAt); err != nil {
		return nil, fmt.Errorf("storing reminder: %w", err)
	}
	s.log.Info().Str("chat_id", chatID).Time("remind_at", remindAt).Msg("reminder scheduled")
	return Success(
		fmt.Sprintf("Reminder set for %s: %s", remindAt.In(s.loc).Format("Mon Jan 2 3:04 PM"), description),
		map[string]any{"remind_at": remindAt.Format(time.RFC3339)},
	), nil
}
