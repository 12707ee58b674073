package backlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Every statement here is a single compare-and-set: the WHERE clause carries
// the transition precondition and RowsAffected tells the caller whether it
// won. cutoff is now-ttl; a lease with renewed_at < cutoff is expired.

// Candidates returns the items in session that an acquire at cutoff could
// claim: available items plus leased items whose lease has expired.
// Ordering is left to the caller.
func (s *Store) Candidates(ctx context.Context, session string, cutoff time.Time) ([]*Item, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+itemColumns+` FROM work_items
         WHERE session = ?
           AND (status = ? OR (status = ? AND renewed_at < ?))`,
		session,
		StatusAvailable,
		StatusLeased,
		formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// HeldBy returns the item in session that holder leases with a live lease,
// or nil.
func (s *Store) HeldBy(ctx context.Context, session, holder string, cutoff time.Time) (*Item, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+itemColumns+` FROM work_items
         WHERE session = ? AND status = ? AND lease_holder = ? AND renewed_at >= ?
         ORDER BY leased_at LIMIT 1`,
		session,
		StatusLeased,
		holder,
		formatTime(cutoff),
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("held by: %w", err)
	}
	return item, nil
}

// TryLease claims id for holder if it is available or its lease expired.
func (s *Store) TryLease(ctx context.Context, id int64, holder string, now, cutoff time.Time) (bool, error) {
	ts := formatTime(now)
	ok, err := s.execAffected(ctx,
		`UPDATE work_items
         SET status = ?, lease_holder = ?, leased_at = ?, renewed_at = ?, updated_at = ?
         WHERE id = ? AND (status = ? OR (status = ? AND renewed_at < ?))`,
		StatusLeased, holder, ts, ts, ts,
		id, StatusAvailable, StatusLeased, formatTime(cutoff),
	)
	if err != nil {
		return false, fmt.Errorf("lease item: %w", err)
	}
	return ok, nil
}

// RenewLease extends holder's live lease on id.
func (s *Store) RenewLease(ctx context.Context, id int64, holder string, now, cutoff time.Time) (bool, error) {
	ts := formatTime(now)
	ok, err := s.execAffected(ctx,
		`UPDATE work_items SET renewed_at = ?, updated_at = ?
         WHERE id = ? AND status = ? AND lease_holder = ? AND renewed_at >= ?`,
		ts, ts,
		id, StatusLeased, holder, formatTime(cutoff),
	)
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return ok, nil
}

// ReleaseLease returns id to the pool if holder leases it. Expired leases
// still belonging to holder are released too.
func (s *Store) ReleaseLease(ctx context.Context, id int64, holder string, now time.Time) (bool, error) {
	ok, err := s.execAffected(ctx,
		`UPDATE work_items
         SET status = ?, lease_holder = NULL, leased_at = NULL, renewed_at = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND lease_holder = ?`,
		StatusAvailable, formatTime(now),
		id, StatusLeased, holder,
	)
	if err != nil {
		return false, fmt.Errorf("release lease: %w", err)
	}
	return ok, nil
}

// SkipItem returns id to the pool stamped with skipped_at so it sorts behind
// never-skipped work. It succeeds when the item is available, leased by
// holder, or leased under an expired lease.
func (s *Store) SkipItem(ctx context.Context, id int64, holder string, now, cutoff time.Time) (bool, error) {
	ts := formatTime(now)
	ok, err := s.execAffected(ctx,
		`UPDATE work_items
         SET status = ?, lease_holder = NULL, leased_at = NULL, renewed_at = NULL,
             skipped_at = ?, skip_count = skip_count + 1, updated_at = ?
         WHERE id = ? AND (status = ? OR (status = ? AND (lease_holder = ? OR renewed_at < ?)))`,
		StatusAvailable, ts, ts,
		id, StatusAvailable, StatusLeased, holder, formatTime(cutoff),
	)
	if err != nil {
		return false, fmt.Errorf("skip item: %w", err)
	}
	return ok, nil
}

// CompleteLease moves id to completed with the committed payload, provided
// holder still owns a live lease. Lease fields are cleared in the same write.
func (s *Store) CompleteLease(ctx context.Context, id int64, holder, payloadJSON string, now, cutoff time.Time) (bool, error) {
	ts := formatTime(now)
	ok, err := s.execAffected(ctx,
		`UPDATE work_items
         SET status = ?, lease_holder = NULL, leased_at = NULL, renewed_at = NULL,
             payload_json = ?, completed_by = ?, completed_at = ?, updated_at = ?
         WHERE id = ? AND status = ? AND lease_holder = ? AND renewed_at >= ?`,
		StatusCompleted, nullableString(payloadJSON), holder, ts, ts,
		id, StatusLeased, holder, formatTime(cutoff),
	)
	if err != nil {
		return false, fmt.Errorf("complete lease: %w", err)
	}
	return ok, nil
}

// UpdateURL replaces the source URL of id while holder owns a live lease.
func (s *Store) UpdateURL(ctx context.Context, id int64, holder, url string, now, cutoff time.Time) (bool, error) {
	ok, err := s.execAffected(ctx,
		`UPDATE work_items SET url = ?, updated_at = ?
         WHERE id = ? AND status = ? AND lease_holder = ? AND renewed_at >= ?`,
		nullableString(url), formatTime(now),
		id, StatusLeased, holder, formatTime(cutoff),
	)
	if err != nil {
		return false, fmt.Errorf("update url: %w", err)
	}
	return ok, nil
}

// ReclaimExpired clears every lease whose renewal is older than cutoff and
// returns the number of items made available. Acquire already treats such
// leases as free; this is an operator maintenance command.
func (s *Store) ReclaimExpired(ctx context.Context, now, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE work_items
         SET status = ?, lease_holder = NULL, leased_at = NULL, renewed_at = NULL, updated_at = ?
         WHERE status = ? AND renewed_at < ?`,
		StatusAvailable, formatTime(now),
		StatusLeased, formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return res.RowsAffected()
}
