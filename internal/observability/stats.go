package observability

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Stats tracks pipeline counters for the periodic heartbeat.
type Stats struct {
	MessagesHandled atomic.Int64
	ActionsExecuted atomic.Int64
	RepliesSent     atomic.Int64
}

// Heartbeat logs the counters at the given interval until ctx is
// cancelled. The active gauge is sampled through the callback so the
// package stays decoupled from the conversation store.
func (s *Stats) Heartbeat(ctx context.Context, interval time.Duration, active func() int, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info().
				Int("active_conversations", active()).
				Int64("messages_handled", s.MessagesHandled.Load()).
				Int64("actions_executed", s.ActionsExecuted.Load()).
				Int64("replies_sent", s.RepliesSent.Load()).
				Msg("heartbeat")
		}
	}
}
