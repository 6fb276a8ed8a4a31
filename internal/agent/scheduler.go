package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rahul/concierge/internal/store"
)

// reminderSource is the slice of the history store the scheduler reads.
type reminderSource interface {
	GetDueReminders(now time.Time) ([]store.Reminder, error)
	MarkReminderSent(id int64) error
}

// Scheduler polls for due reminders and pushes them out through the
// gateway. Each reminder is marked sent only after a successful send,
// so a delivery failure retries on the next tick.
type Scheduler struct {
	source   reminderSource
	replier  Replier
	interval time.Duration
	log      zerolog.Logger
}

func NewScheduler(source reminderSource, replier Replier, interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		source:   source,
		replier:  replier,
		interval: interval,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.deliverDue(now)
		}
	}
}

func (s *Scheduler) deliverDue(now time.Time) {
	due, err := s.source.GetDueReminders(now)
	if err != nil {
		s.log.Error().Err(err).Msg("reading due reminders")
		return
	}
	for _, r := range due {
		if err := s.replier.Send(r.ChatID, "⏰ Reminder: "+r.Description); err != nil {
			s.log.Error().Err(err).Int64("id", r.ID).Msg("reminder delivery failed")
			continue
		}
		if err := s.source.MarkReminderSent(r.ID); err != nil {
			s.log.Error().Err(err).Int64("id", r.ID).Msg("marking reminder sent")
		}
	}
}
