package lease

import (
	"context"
	"time"

	"intake/internal/backlog"
)

// Store is the subset of backlog.Store the lease layer depends on.
type Store interface {
	GetByID(ctx context.Context, id int64) (*backlog.Item, error)
	Candidates(ctx context.Context, session string, cutoff time.Time) ([]*backlog.Item, error)
	HeldBy(ctx context.Context, session, holder string, cutoff time.Time) (*backlog.Item, error)
	TryLease(ctx context.Context, id int64, holder string, now, cutoff time.Time) (bool, error)
	RenewLease(ctx context.Context, id int64, holder string, now, cutoff time.Time) (bool, error)
	ReleaseLease(ctx context.Context, id int64, holder string, now time.Time) (bool, error)
	SkipItem(ctx context.Context, id int64, holder string, now, cutoff time.Time) (bool, error)
	CompleteLease(ctx context.Context, id int64, holder, payloadJSON string, now, cutoff time.Time) (bool, error)
	UpdateURL(ctx context.Context, id int64, holder, url string, now, cutoff time.Time) (bool, error)
	ReclaimExpired(ctx context.Context, now, cutoff time.Time) (int64, error)
	Sessions(ctx context.Context) ([]string, error)
	SessionCounts(ctx context.Context, session string, cutoff time.Time) (backlog.SessionCounts, error)
}

var _ Store = (*backlog.Store)(nil)
