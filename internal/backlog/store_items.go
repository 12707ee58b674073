package backlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const insertItemSQL = `INSERT INTO work_items (
    seq, session, label, number, sku, url, location, note, batch_code, qa,
    inspected_at, status, attributes_json, created_at, updated_at
) VALUES (
    (SELECT COALESCE(MAX(seq), 0) + 1 FROM work_items),
    ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertItem(ctx context.Context, db execer, item NewItem, now time.Time) (int64, error) {
	session := strings.TrimSpace(item.Session)
	if session == "" {
		return 0, errors.New("session is required")
	}
	attrs, err := nullableJSON(item.Attributes)
	if err != nil {
		return 0, fmt.Errorf("marshal attributes: %w", err)
	}
	timestamp := formatTime(now)
	res, err := db.ExecContext(ctx, insertItemSQL,
		session,
		nullableString(item.Label),
		nullableString(item.Number),
		nullableString(item.SKU),
		nullableString(item.URL),
		nullableString(item.Location),
		nullableString(item.Note),
		nullableString(item.BatchCode),
		nullableString(item.QA),
		nullableTime(item.InspectedAt),
		StatusAvailable,
		attrs,
		timestamp,
		timestamp,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Insert adds a new available item at the end of the creation order.
func (s *Store) Insert(ctx context.Context, item NewItem) (*Item, error) {
	ctx = ensureContext(ctx)
	var id int64
	err := retryOnBusy(ctx, func() error {
		var insertErr error
		id, insertErr = insertItem(ctx, s.db, item, time.Now())
		return insertErr
	})
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	return s.GetByID(ctx, id)
}

// InsertBatch adds items in one transaction, preserving slice order as
// creation order. It returns the number of inserted rows.
func (s *Store) InsertBatch(ctx context.Context, items []NewItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	ctx = ensureContext(ctx)
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now()
		for idx, item := range items {
			if _, err := insertItem(ctx, tx, item, now); err != nil {
				return fmt.Errorf("item %d: %w", idx, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("insert batch: %w", err)
	}
	return len(items), nil
}

// GetByID fetches a work item by identifier. It returns nil when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// List returns items in a session (all sessions when session is empty),
// filtered by status set, in creation order.
func (s *Store) List(ctx context.Context, session string, statuses ...Status) ([]*Item, error) {
	var (
		clauses []string
		args    []any
	)
	if session != "" {
		clauses = append(clauses, "session = ?")
		args = append(args, session)
	}
	if len(statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(statuses))+")")
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query := `SELECT ` + itemColumns + ` FROM work_items`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
