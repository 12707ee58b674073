package lease

import (
	"context"
	"fmt"
	"slices"
	"time"

	"intake/internal/backlog"
)

// Ordering is the selector comparator: items never skipped come first, then
// skipped items oldest skip first, ties broken by creation sequence.
func Ordering(a, b *backlog.Item) int {
	switch {
	case a.SkippedAt == nil && b.SkippedAt != nil:
		return -1
	case a.SkippedAt != nil && b.SkippedAt == nil:
		return 1
	case a.SkippedAt != nil && b.SkippedAt != nil:
		if c := a.SkippedAt.Compare(*b.SkippedAt); c != 0 {
			return c
		}
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	default:
		return 0
	}
}

// Selector chooses which claimable item in a session is handed out next.
type Selector struct {
	store    Store
	registry *Registry
	ttl      time.Duration
}

// NewSelector builds a selector over store. registry backs cross-session
// suggestions.
func NewSelector(store Store, registry *Registry, ttl time.Duration) *Selector {
	return &Selector{store: store, registry: registry, ttl: ttl}
}

// Ordered returns every item in session claimable at now, in hand-out order.
func (s *Selector) Ordered(ctx context.Context, session string, now time.Time) ([]*backlog.Item, error) {
	items, err := s.store.Candidates(ctx, session, now.Add(-s.ttl))
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(items, Ordering)
	return items, nil
}

// SuggestOtherSessions returns the sessions other than current that still
// have unlocked work, in order of first appearance. The result is advisory;
// callers never switch sessions on the operator's behalf.
func (s *Selector) SuggestOtherSessions(ctx context.Context, current string) ([]string, error) {
	all, err := s.registry.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range all {
		if name == current {
			continue
		}
		status, err := s.registry.Status(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("status %s: %w", name, err)
		}
		if status.Available() > 0 {
			out = append(out, name)
		}
	}
	return out, nil
}
