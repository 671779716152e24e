package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// IdleEvictor ends sessions unused for longer than ttl and reports how many.
type IdleEvictor interface {
	EvictIdle(ttl time.Duration) int
	Len() int
}

// SessionJanitor periodically ends idle sessions so abandoned browser tabs
// don't keep their actors alive.
type SessionJanitor struct {
	sessions IdleEvictor
	ttl      time.Duration
	every    time.Duration
	log      zerolog.Logger
}

func NewSessionJanitor(sessions IdleEvictor, ttl, every time.Duration, log zerolog.Logger) *SessionJanitor {
	return &SessionJanitor{
		sessions: sessions,
		ttl:      ttl,
		every:    every,
		log:      log.With().Str("component", "session_janitor").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop
// ----------------------------------------------------------------

func (w *SessionJanitor) Start(ctx context.Context) {
	w.log.Info().
		Dur("ttl", w.ttl).
		Dur("every", w.every).
		Msg("SessionJanitor started")

	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("SessionJanitor stopped")
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *SessionJanitor) sweep() int {
	n := w.sessions.EvictIdle(w.ttl)
	if n > 0 {
		w.log.Info().
			Int("evicted", n).
			Int("remaining", w.sessions.Len()).
			Msg("Evicted idle sessions")
	}
	return n
}
