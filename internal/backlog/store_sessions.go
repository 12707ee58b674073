package backlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Sessions returns every session name ordered by first appearance in the
// backlog.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT session FROM work_items GROUP BY session ORDER BY MIN(seq)`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		sessions = append(sessions, name)
	}
	return sessions, rows.Err()
}

// SessionCounts aggregates a session in one snapshot. Leases renewed before
// cutoff do not count as locked.
func (s *Store) SessionCounts(ctx context.Context, session string, cutoff time.Time) (SessionCounts, error) {
	live := formatTime(cutoff)
	var (
		counts   SessionCounts
		total    sql.NullInt64
		locked   sql.NullInt64
		done     sql.NullInt64
		earliest sql.NullString
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT
             SUM(CASE WHEN status <> ? THEN 1 ELSE 0 END),
             SUM(CASE WHEN status = ? AND renewed_at >= ? THEN 1 ELSE 0 END),
             SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
             MIN(CASE WHEN status = ? AND renewed_at >= ? THEN renewed_at END)
         FROM work_items WHERE session = ?`,
		StatusCompleted,
		StatusLeased, live,
		StatusCompleted,
		StatusLeased, live,
		session,
	).Scan(&total, &locked, &done, &earliest)
	if err != nil {
		return SessionCounts{}, fmt.Errorf("session counts: %w", err)
	}
	counts.Total = int(total.Int64)
	counts.Locked = int(locked.Int64)
	counts.Completed = int(done.Int64)
	counts.EarliestLockedAt = parseNullTime(earliest)
	return counts, nil
}
