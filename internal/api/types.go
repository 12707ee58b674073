package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Item describes a work item in a transport-friendly format.
type Item struct {
	ID          int64           `json:"id"`
	Seq         int64           `json:"seq"`
	Session     string          `json:"session"`
	Label       string          `json:"label"`
	Number      string          `json:"number"`
	SKU         string          `json:"sku,omitempty"`
	URL         string          `json:"url,omitempty"`
	Location    string          `json:"location,omitempty"`
	Note        string          `json:"note,omitempty"`
	BatchCode   string          `json:"batchCode,omitempty"`
	QA          string          `json:"qa,omitempty"`
	InspectedAt string          `json:"inspectedAt,omitempty"`
	Attributes  map[string]any  `json:"attributes,omitempty"`
	Status      string          `json:"status"`
	LeaseHolder string          `json:"leaseHolder,omitempty"`
	LeasedAt    string          `json:"leasedAt,omitempty"`
	RenewedAt   string          `json:"renewedAt,omitempty"`
	SkippedAt   string          `json:"skippedAt,omitempty"`
	SkipCount   int             `json:"skipCount"`
	CompletedBy string          `json:"completedBy,omitempty"`
	CompletedAt string          `json:"completedAt,omitempty"`
	CreatedAt   string          `json:"createdAt,omitempty"`
	UpdatedAt   string          `json:"updatedAt,omitempty"`
	Record      json.RawMessage `json:"record,omitempty"`
}

// ItemResponse wraps a single item.
type ItemResponse struct {
	Item Item `json:"item"`
}

// SessionListResponse lists sessions in order of first appearance.
type SessionListResponse struct {
	Sessions []string `json:"sessions"`
}

// SessionStatus reports occupancy for one session. NextLockedAt is the
// acquisition time of the oldest live lease; NextFreeAt adds the lease TTL.
type SessionStatus struct {
	Session      string `json:"session"`
	Total        int    `json:"total"`
	Locked       int    `json:"locked"`
	Completed    int    `json:"completed"`
	Available    int    `json:"available"`
	NextLockedAt string `json:"nextLockedAt,omitempty"`
	NextFreeAt   string `json:"nextFreeAt,omitempty"`
}

// Renewal is returned by a successful renew.
type Renewal struct {
	LeasedAt  string `json:"leasedAt,omitempty"`
	RenewedAt string `json:"renewedAt"`
}

// Asset is one image attached to an item.
type Asset struct {
	Name string `json:"name"`
	Ref  string `json:"ref"`
	Size int64  `json:"size"`
}

// AssetListResponse wraps an item's image listing.
type AssetListResponse struct {
	Assets []Asset `json:"assets"`
}

// UpdateURLRequest changes an item's source URL.
type UpdateURLRequest struct {
	URL string `json:"url"`
}

// FieldError names one rejected submission field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every failing request.
type ErrorResponse struct {
	Error  string       `json:"error"`
	Code   string       `json:"code"`
	Fields []FieldError `json:"fields,omitempty"`
	// Suggestions accompanies a not_found answer to next.
	Suggestions []string `json:"suggestions,omitempty"`
}

// DatabaseHealth mirrors backlog diagnostics.
type DatabaseHealth struct {
	DBPath           string   `json:"dbPath"`
	DatabaseExists   bool     `json:"databaseExists"`
	DatabaseReadable bool     `json:"databaseReadable"`
	SchemaVersion    int      `json:"schemaVersion"`
	TableExists      bool     `json:"tableExists"`
	MissingColumns   []string `json:"missingColumns,omitempty"`
	IntegrityCheck   bool     `json:"integrityCheck"`
	TotalItems       int      `json:"totalItems"`
	Error            string   `json:"error,omitempty"`
}

// HealthResponse is served by the health route.
type HealthResponse struct {
	Status   string         `json:"status"`
	Database DatabaseHealth `json:"database"`
	Counts   map[string]int `json:"counts,omitempty"`
	LeaseTTL int            `json:"leaseTtlSeconds"`
}
