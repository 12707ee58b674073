package backlog

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a work item.
type Status string

const (
	StatusAvailable Status = "available"
	StatusLeased    Status = "leased"
	StatusCompleted Status = "completed"
)

// ParseStatus converts a string into a Status value.
func ParseStatus(value string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusAvailable:
		return StatusAvailable, nil
	case StatusLeased:
		return StatusLeased, nil
	case StatusCompleted:
		return StatusCompleted, nil
	default:
		return "", fmt.Errorf("unknown status %q", value)
	}
}

// Item is a single backlog record awaiting enrichment. Lease state lives
// inline: LeaseHolder, LeasedAt and RenewedAt are set only while Status is
// StatusLeased.
type Item struct {
	ID          int64
	Seq         int64
	Session     string
	Label       string
	Number      string
	SKU         string
	URL         string
	Location    string
	Note        string
	BatchCode   string
	QA          string
	InspectedAt *time.Time
	Attributes  map[string]any

	Status      Status
	LeaseHolder string
	LeasedAt    *time.Time
	RenewedAt   *time.Time
	SkippedAt   *time.Time
	SkipCount   int

	PayloadJSON string
	CompletedBy string
	CompletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LeaseLive reports whether the item is leased and was renewed within ttl of now.
func (i *Item) LeaseLive(now time.Time, ttl time.Duration) bool {
	if i == nil || i.Status != StatusLeased || i.RenewedAt == nil {
		return false
	}
	return !now.After(i.RenewedAt.Add(ttl))
}

// NewItem carries the ingestion fields for a work item.
type NewItem struct {
	Session     string
	Label       string
	Number      string
	SKU         string
	URL         string
	Location    string
	Note        string
	BatchCode   string
	QA          string
	InspectedAt *time.Time
	Attributes  map[string]any
}

// SessionCounts aggregates lease occupancy for one session.
type SessionCounts struct {
	Total            int
	Locked           int
	Completed        int
	EarliestLockedAt *time.Time
}

// DatabaseHealth reports on-disk diagnostics for the backlog database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TableExists      bool
	MissingColumns   []string
	IntegrityCheck   bool
	TotalItems       int
	Error            string
}

// Healthy reports whether every diagnostic passed.
func (h DatabaseHealth) Healthy() bool {
	return h.DatabaseExists && h.DatabaseReadable && h.TableExists && len(h.MissingColumns) == 0 && h.IntegrityCheck
}
