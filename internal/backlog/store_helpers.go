package backlog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const itemColumns = "id, seq, session, label, number, sku, url, location, note, batch_code, qa, inspected_at, status, lease_holder, leased_at, renewed_at, skipped_at, skip_count, attributes_json, payload_json, completed_by, completed_at, created_at, updated_at"

var expectedColumns = []string{
	"id", "seq", "session", "label", "number", "sku", "url", "location", "note",
	"batch_code", "qa", "inspected_at", "status", "lease_holder", "leased_at",
	"renewed_at", "skipped_at", "skip_count", "attributes_json", "payload_json",
	"completed_by", "completed_at", "created_at", "updated_at",
}

// timeLayout is fixed width so stored timestamps order correctly as strings;
// lease expiry comparisons happen in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		item           Item
		statusStr      string
		label          sql.NullString
		number         sql.NullString
		sku            sql.NullString
		url            sql.NullString
		location       sql.NullString
		note           sql.NullString
		batchCode      sql.NullString
		qa             sql.NullString
		inspectedRaw   sql.NullString
		leaseHolder    sql.NullString
		leasedRaw      sql.NullString
		renewedRaw     sql.NullString
		skippedRaw     sql.NullString
		attributesJSON sql.NullString
		payloadJSON    sql.NullString
		completedBy    sql.NullString
		completedRaw   sql.NullString
		createdRaw     string
		updatedRaw     string
	)

	if err := scanner.Scan(
		&item.ID,
		&item.Seq,
		&item.Session,
		&label,
		&number,
		&sku,
		&url,
		&location,
		&note,
		&batchCode,
		&qa,
		&inspectedRaw,
		&statusStr,
		&leaseHolder,
		&leasedRaw,
		&renewedRaw,
		&skippedRaw,
		&item.SkipCount,
		&attributesJSON,
		&payloadJSON,
		&completedBy,
		&completedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item.Status = Status(statusStr)
	item.Label = label.String
	item.Number = number.String
	item.SKU = sku.String
	item.URL = url.String
	item.Location = location.String
	item.Note = note.String
	item.BatchCode = batchCode.String
	item.QA = qa.String
	item.LeaseHolder = leaseHolder.String
	item.PayloadJSON = payloadJSON.String
	item.CompletedBy = completedBy.String
	item.InspectedAt = parseNullTime(inspectedRaw)
	item.LeasedAt = parseNullTime(leasedRaw)
	item.RenewedAt = parseNullTime(renewedRaw)
	item.SkippedAt = parseNullTime(skippedRaw)
	item.CompletedAt = parseNullTime(completedRaw)

	if attributesJSON.Valid && attributesJSON.String != "" {
		if err := json.Unmarshal([]byte(attributesJSON.String), &item.Attributes); err != nil {
			return nil, err
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	return &item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func nullableJSON(value map[string]any) (any, error) {
	if len(value) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := range count {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
