// Package api defines wire-format types and converters for the HTTP lease API.
// It translates backlog and lease models into transport-friendly DTOs that the
// CLI, the operator console and browser clients can use without coupling to
// internal types.
//
// # Key Types
//
// Item: transport representation of a work item with lease metadata and, once
// completed, the committed record.
//
// SessionStatus: occupancy counts for one session plus the earliest live lock
// so clients can say when an item frees up.
//
// ErrorResponse: the {error, code} body every failing route returns.
//
// # Converters
//
// FromItem: backlog.Item -> Item.
//
// FromSessionStatus: lease.SessionStatus -> SessionStatus.
//
// StatusFor: error -> HTTP status and error code, in one place.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript consumers. Timestamps use
// RFC3339 with milliseconds. Committed records pass through as
// json.RawMessage to avoid double-encoding.
package api
