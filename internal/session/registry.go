package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-tutor/internal/metrics"
)

// Registry owns every live session of the process. Sessions never share a
// Store; the map itself is the only structure guarded across requests.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry

	userID string
	scorer Scorer
	log    zerolog.Logger
	now    func() time.Time
}

type entry struct {
	ctrl     *Controller
	cancel   context.CancelFunc
	lastSeen time.Time
}

// NewRegistry creates an empty registry. Every session it starts acts on
// behalf of userID.
func NewRegistry(userID string, scorer Scorer, log zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		userID:   userID,
		scorer:   scorer,
		log:      log.With().Str("component", "session_registry").Logger(),
		now:      time.Now,
	}
}

// Start creates a session and launches its actor under ctx.
func (r *Registry) Start(ctx context.Context) (string, *Controller) {
	id := uuid.New().String()
	ctrl := NewController(r.userID, r.scorer, r.log.With().Str("session_id", id).Logger())

	runCtx, cancel := context.WithCancel(ctx)
	go ctrl.Run(runCtx)

	r.mu.Lock()
	r.sessions[id] = &entry{ctrl: ctrl, cancel: cancel, lastSeen: r.now()}
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	r.log.Info().Str("session_id", id).Int("active", n).Msg("Session started")
	return id, ctrl
}

// Get returns the session's controller and marks it as recently used.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.ctrl, true
}

// End stops the session's actor and forgets it.
func (r *Registry) End(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.cancel()
	metrics.ActiveSessions.Set(float64(n))
	r.log.Info().Str("session_id", id).Int("active", n).Msg("Session ended")
	return true
}

// EvictIdle ends sessions unused for longer than ttl. Sessions with a
// workflow in flight or an attached stream are kept.
func (r *Registry) EvictIdle(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	var stale []*entry
	for id, e := range r.sessions {
		if e.lastSeen.After(cutoff) {
			continue
		}
		if e.ctrl.Snapshot().Loading || e.ctrl.Subscribers() > 0 {
			continue
		}
		delete(r.sessions, id)
		stale = append(stale, e)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, e := range stale {
		e.cancel()
	}
	if len(stale) > 0 {
		metrics.ActiveSessions.Set(float64(n))
	}
	return len(stale)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll ends every session and waits for in-flight workflows to settle
// or for ctx to expire.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range all {
		e.cancel()
	}
	for _, e := range all {
		select {
		case <-e.ctrl.Done():
		case <-ctx.Done():
			r.log.Warn().Msg("Timed out waiting for sessions to settle")
			return
		}
	}
	metrics.ActiveSessions.Set(0)
}
