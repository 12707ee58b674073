package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"intake/internal/assets"
	"intake/internal/backlog"
	"intake/internal/lease"
)

// FromItem converts a backlog record to its API representation.
func FromItem(item *backlog.Item) Item {
	if item == nil {
		return Item{}
	}
	dto := Item{
		ID:          item.ID,
		Seq:         item.Seq,
		Session:     item.Session,
		Label:       item.Label,
		Number:      item.Number,
		SKU:         item.SKU,
		URL:         item.URL,
		Location:    item.Location,
		Note:        item.Note,
		BatchCode:   item.BatchCode,
		QA:          item.QA,
		InspectedAt: formatOptional(item.InspectedAt),
		Attributes:  item.Attributes,
		Status:      string(item.Status),
		LeaseHolder: item.LeaseHolder,
		LeasedAt:    formatOptional(item.LeasedAt),
		RenewedAt:   formatOptional(item.RenewedAt),
		SkippedAt:   formatOptional(item.SkippedAt),
		SkipCount:   item.SkipCount,
		CompletedBy: item.CompletedBy,
		CompletedAt: formatOptional(item.CompletedAt),
	}
	if !item.CreatedAt.IsZero() {
		dto.CreatedAt = FormatTime(item.CreatedAt)
	}
	if !item.UpdatedAt.IsZero() {
		dto.UpdatedAt = FormatTime(item.UpdatedAt)
	}
	if raw := item.PayloadJSON; raw != "" && json.Valid([]byte(raw)) {
		dto.Record = json.RawMessage(raw)
	}
	return dto
}

// FromSessionStatus converts a registry snapshot. ttl is used to derive
// NextFreeAt.
func FromSessionStatus(status lease.SessionStatus, ttl time.Duration) SessionStatus {
	dto := SessionStatus{
		Session:   status.Session,
		Total:     status.Total,
		Locked:    status.Locked,
		Completed: status.Completed,
		Available: status.Available(),
	}
	dto.NextLockedAt = formatOptional(status.EarliestLockedAt)
	dto.NextFreeAt = formatOptional(status.NextFreeAt(ttl))
	return dto
}

// FromRenewal converts a lease renewal.
func FromRenewal(renewal lease.Renewal) Renewal {
	dto := Renewal{RenewedAt: FormatTime(renewal.RenewedAt)}
	if !renewal.LeasedAt.IsZero() {
		dto.LeasedAt = FormatTime(renewal.LeasedAt)
	}
	return dto
}

// FromAssets converts a catalog listing.
func FromAssets(listed []assets.Asset) []Asset {
	out := make([]Asset, 0, len(listed))
	for _, a := range listed {
		out = append(out, Asset{Name: a.Name, Ref: a.Ref, Size: a.Size})
	}
	return out
}

// FromDatabaseHealth converts backlog diagnostics.
func FromDatabaseHealth(h backlog.DatabaseHealth) DatabaseHealth {
	return DatabaseHealth{
		DBPath:           h.DBPath,
		DatabaseExists:   h.DatabaseExists,
		DatabaseReadable: h.DatabaseReadable,
		SchemaVersion:    h.SchemaVersion,
		TableExists:      h.TableExists,
		MissingColumns:   h.MissingColumns,
		IntegrityCheck:   h.IntegrityCheck,
		TotalItems:       h.TotalItems,
		Error:            h.Error,
	}
}

// MergeStats converts per-status counts to string keys, filling zeroes for
// statuses with no rows.
func MergeStats(stats map[backlog.Status]int) map[string]int {
	out := map[string]int{
		string(backlog.StatusAvailable): 0,
		string(backlog.StatusLeased):    0,
		string(backlog.StatusCompleted): 0,
	}
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// FormatTime renders t in the API timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime parses an API timestamp. Empty input yields nil.
func ParseTime(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return &t, nil
}

func formatOptional(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return FormatTime(*t)
}
