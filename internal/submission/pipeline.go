// Package submission validates operator payloads and commits them through the
// lease manager so that persisting the enrichment and dropping the lease
// happen in one write.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"intake/internal/backlog"
	"intake/internal/lease"
	"intake/internal/logging"
)

// Completer is the lease surface the pipeline commits through.
type Completer interface {
	Item(ctx context.Context, id int64) (*backlog.Item, error)
	ForceComplete(ctx context.Context, id int64, holder, payloadJSON string) (*backlog.Item, error)
}

// AssetLister supplies image references when the operator sent none.
type AssetLister interface {
	Refs(session, number string) ([]string, error)
}

// Pipeline turns a Payload into a completed item.
type Pipeline struct {
	leases Completer
	assets AssetLister
	now    func() time.Time
	logger *slog.Logger
}

// NewPipeline builds a pipeline. assets may be nil.
func NewPipeline(leases Completer, assets AssetLister, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		leases: leases,
		assets: assets,
		now:    time.Now,
		logger: logging.NewComponentLogger(logger, "submission"),
	}
}

// Submit validates payload and, if it passes, completes id on behalf of
// holder. Validation failures are returned as *ValidationError without any
// store access; lease failures come back as lease errors. An unknown id is a
// conflict: the holder cannot own a lease on it.
func (p *Pipeline) Submit(ctx context.Context, id int64, holder string, payload Payload) (*backlog.Item, error) {
	payload.Normalize()
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	item, err := p.leases.Item(ctx, id)
	if errors.Is(err, lease.ErrNotFound) {
		return nil, &lease.Error{Op: "submit", ItemID: id, Err: lease.ErrConflict}
	}
	if err != nil {
		return nil, err
	}

	if len(payload.Images) == 0 && p.assets != nil {
		refs, err := p.assets.Refs(item.Session, item.Number)
		if err != nil {
			logging.WarnWithContext(p.logger, "asset listing failed; committing without images", "asset_list_failed",
				logging.ItemID(id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "record stored with empty image list"),
			)
		} else {
			payload.Images = refs
		}
	}

	record := BuildRecord(item, payload, holder, p.now())
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	completed, err := p.leases.ForceComplete(ctx, id, holder, string(encoded))
	if err != nil {
		return nil, err
	}
	p.logger.Info("submission committed",
		logging.ItemID(id),
		logging.Holder(holder),
		logging.Int("image_count", record.ImageCount),
	)
	return completed, nil
}

// DecodeRecord parses a completed item's payload JSON.
func DecodeRecord(item *backlog.Item) (Record, error) {
	var rec Record
	if item == nil || item.PayloadJSON == "" {
		return rec, fmt.Errorf("item has no committed record")
	}
	if err := json.Unmarshal([]byte(item.PayloadJSON), &rec); err != nil {
		return rec, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
