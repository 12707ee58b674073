// Package manifest loads work items from a YAML manifest into the backlog.
//
// A manifest names a default session and lists items in creation order:
//
//	session: Spring 26
//	items:
//	  - number: "1"
//	    sku: SKU-001
//	    inspectedAt: 2026-03-01T10:00:00Z
//	  - number: "2"
//	    session: Autumn 25
//	    label: a25-2
//
// Labels default to <session>-<number> and are upper-cased.
package manifest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"intake/internal/backlog"
	"intake/internal/submission"
)

// Manifest is the decoded YAML document.
type Manifest struct {
	Session string  `yaml:"session"`
	Items   []Entry `yaml:"items"`
}

// Entry is one item row.
type Entry struct {
	Session     string         `yaml:"session"`
	Label       string         `yaml:"label"`
	Number      string         `yaml:"number"`
	SKU         string         `yaml:"sku"`
	URL         string         `yaml:"url"`
	Location    string         `yaml:"location"`
	Note        string         `yaml:"note"`
	BatchCode   string         `yaml:"batchCode"`
	QA          string         `yaml:"qa"`
	InspectedAt string         `yaml:"inspectedAt"`
	Attributes  map[string]any `yaml:"attributes"`
}

// Inserter persists a batch of new items in order.
type Inserter interface {
	InsertBatch(ctx context.Context, items []backlog.NewItem) (int, error)
}

// Parse decodes and validates a manifest.
func Parse(data []byte) ([]backlog.NewItem, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("manifest: payload is empty")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	return m.NewItems()
}

// Read decodes a manifest from r.
func Read(r io.Reader) ([]backlog.NewItem, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("manifest: read: %w", err)
	}
	return Parse(data)
}

// Load decodes the manifest at path.
func Load(path string) ([]backlog.NewItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	items, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return items, nil
}

// Import inserts items in one batch.
func Import(ctx context.Context, store Inserter, items []backlog.NewItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	return store.InsertBatch(ctx, items)
}

// NewItems converts entries to store rows, applying defaults and rejecting
// incomplete or duplicate rows. Every problem is reported, not just the first.
func (m Manifest) NewItems() ([]backlog.NewItem, error) {
	if len(m.Items) == 0 {
		return nil, fmt.Errorf("manifest: no items")
	}
	var (
		problems []string
		out      = make([]backlog.NewItem, 0, len(m.Items))
		seen     = make(map[string]int, len(m.Items))
	)
	for idx, entry := range m.Items {
		item, err := entry.toNewItem(strings.TrimSpace(m.Session))
		if err != nil {
			problems = append(problems, fmt.Sprintf("item %d: %v", idx+1, err))
			continue
		}
		key := item.Session + "\x00" + item.Label
		if first, dup := seen[key]; dup {
			problems = append(problems, fmt.Sprintf("item %d: label %q duplicates item %d", idx+1, item.Label, first))
			continue
		}
		seen[key] = idx + 1
		out = append(out, item)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("manifest: %s", strings.Join(problems, "; "))
	}
	return out, nil
}

func (e Entry) toNewItem(defaultSession string) (backlog.NewItem, error) {
	session := strings.TrimSpace(e.Session)
	if session == "" {
		session = defaultSession
	}
	if session == "" {
		return backlog.NewItem{}, fmt.Errorf("session is required")
	}
	number := strings.TrimSpace(e.Number)
	if number == "" {
		return backlog.NewItem{}, fmt.Errorf("number is required")
	}
	label := strings.TrimSpace(e.Label)
	if label == "" {
		label = session + "-" + number
	}

	item := backlog.NewItem{
		Session:    session,
		Label:      submission.NormalizeLabel(label),
		Number:     number,
		SKU:        strings.TrimSpace(e.SKU),
		URL:        strings.TrimSpace(e.URL),
		Location:   strings.TrimSpace(e.Location),
		Note:       strings.TrimSpace(e.Note),
		BatchCode:  strings.TrimSpace(e.BatchCode),
		QA:         strings.TrimSpace(e.QA),
		Attributes: e.Attributes,
	}
	if raw := strings.TrimSpace(e.InspectedAt); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return backlog.NewItem{}, err
		}
		item.InspectedAt = &ts
	}
	return item, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("inspectedAt %q is not a timestamp", raw)
}
