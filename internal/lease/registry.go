package lease

import (
	"context"
	"time"
)

// SessionStatus is a snapshot of one session's occupancy. Total excludes
// completed items; Locked counts only live leases.
type SessionStatus struct {
	Session          string
	Total            int
	Locked           int
	Completed        int
	EarliestLockedAt *time.Time
}

// Available is the number of items an acquire could hand out right now.
func (s SessionStatus) Available() int {
	return max(s.Total-s.Locked, 0)
}

// NextFreeAt is the earliest time a currently held lease can lapse, or nil
// when nothing is locked.
func (s SessionStatus) NextFreeAt(ttl time.Duration) *time.Time {
	if s.EarliestLockedAt == nil {
		return nil
	}
	at := s.EarliestLockedAt.Add(ttl)
	return &at
}

// Registry answers read-only questions about sessions.
type Registry struct {
	store Store
	clock Clock
	ttl   time.Duration
}

// NewRegistry builds a registry applying ttl as the expiry rule.
func NewRegistry(store Store, clock Clock, ttl time.Duration) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Registry{store: store, clock: clock, ttl: ttl}
}

// ListSessions returns session names in order of first appearance.
func (r *Registry) ListSessions(ctx context.Context) ([]string, error) {
	sessions, err := r.store.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []string{}
	}
	return sessions, nil
}

// Status aggregates session using the same expiry rule as acquire.
func (r *Registry) Status(ctx context.Context, session string) (SessionStatus, error) {
	counts, err := r.store.SessionCounts(ctx, session, r.clock.Now().Add(-r.ttl))
	if err != nil {
		return SessionStatus{}, err
	}
	return SessionStatus{
		Session:          session,
		Total:            counts.Total,
		Locked:           counts.Locked,
		Completed:        counts.Completed,
		EarliestLockedAt: counts.EarliestLockedAt,
	}, nil
}
