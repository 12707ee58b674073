package api

import (
	"context"
	"errors"
	"time"

	"intake/internal/assets"
	"intake/internal/backlog"
	"intake/internal/lease"
	"intake/internal/submission"
)

// Leaser abstracts the lease manager operations exposed over the API.
type Leaser interface {
	AcquireNext(ctx context.Context, session, holder string) (*backlog.Item, error)
	Renew(ctx context.Context, id int64, holder string) (lease.Renewal, error)
	Release(ctx context.Context, id int64, holder string) error
	Skip(ctx context.Context, id int64, holder string) error
	UpdateURL(ctx context.Context, id int64, holder, url string) (*backlog.Item, error)
	Item(ctx context.Context, id int64) (*backlog.Item, error)
	SuggestSessions(ctx context.Context, session string) ([]string, error)
	TTL() time.Duration
}

// SessionReader answers session listing and status queries.
type SessionReader interface {
	ListSessions(ctx context.Context) ([]string, error)
	Status(ctx context.Context, session string) (lease.SessionStatus, error)
}

// Submitter commits operator payloads.
type Submitter interface {
	Submit(ctx context.Context, id int64, holder string, payload submission.Payload) (*backlog.Item, error)
}

// AssetLister lists an item's images.
type AssetLister interface {
	List(session, number string) ([]assets.Asset, error)
}

// HealthReader exposes backlog diagnostics.
type HealthReader interface {
	CheckHealth(ctx context.Context) (backlog.DatabaseHealth, error)
	Stats(ctx context.Context) (map[backlog.Status]int, error)
}

// LeaseService exposes lease operations returning API DTOs.
type LeaseService struct {
	leases    Leaser
	sessions  SessionReader
	submitter Submitter
	catalog   AssetLister
	health    HealthReader
}

// NewLeaseService wires the service. catalog and health may be nil.
func NewLeaseService(leases Leaser, sessions SessionReader, submitter Submitter, catalog AssetLister, health HealthReader) *LeaseService {
	return &LeaseService{
		leases:    leases,
		sessions:  sessions,
		submitter: submitter,
		catalog:   catalog,
		health:    health,
	}
}

// Sessions lists session names in order of first appearance.
func (s *LeaseService) Sessions(ctx context.Context) ([]string, error) {
	return s.sessions.ListSessions(ctx)
}

// Status reports occupancy for session.
func (s *LeaseService) Status(ctx context.Context, session string) (SessionStatus, error) {
	status, err := s.sessions.Status(ctx, session)
	if err != nil {
		return SessionStatus{}, err
	}
	return FromSessionStatus(status, s.leases.TTL()), nil
}

// Next leases the next item in session to holder. An exhausted session comes
// back as *Exhausted carrying the other sessions worth trying.
func (s *LeaseService) Next(ctx context.Context, session, holder string) (Item, error) {
	item, err := s.leases.AcquireNext(ctx, session, holder)
	if errors.Is(err, lease.ErrNotFound) {
		suggestions, serr := s.leases.SuggestSessions(ctx, session)
		if serr != nil {
			return Item{}, errors.Join(err, serr)
		}
		return Item{}, &Exhausted{Session: session, Suggestions: suggestions, Err: err}
	}
	if err != nil {
		return Item{}, err
	}
	return FromItem(item), nil
}

// Renew extends holder's lease on id.
func (s *LeaseService) Renew(ctx context.Context, id int64, holder string) (Renewal, error) {
	renewal, err := s.leases.Renew(ctx, id, holder)
	if err != nil {
		return Renewal{}, err
	}
	return FromRenewal(renewal), nil
}

// Release drops holder's lease on id if it has one.
func (s *LeaseService) Release(ctx context.Context, id int64, holder string) error {
	return s.leases.Release(ctx, id, holder)
}

// Skip releases id and moves it behind never-skipped items.
func (s *LeaseService) Skip(ctx context.Context, id int64, holder string) error {
	return s.leases.Skip(ctx, id, holder)
}

// Submit commits payload for id.
func (s *LeaseService) Submit(ctx context.Context, id int64, holder string, payload submission.Payload) (Item, error) {
	item, err := s.submitter.Submit(ctx, id, holder, payload)
	if err != nil {
		return Item{}, err
	}
	return FromItem(item), nil
}

// UpdateURL changes the source URL of an item holder leases.
func (s *LeaseService) UpdateURL(ctx context.Context, id int64, holder, url string) (Item, error) {
	item, err := s.leases.UpdateURL(ctx, id, holder, url)
	if err != nil {
		return Item{}, err
	}
	return FromItem(item), nil
}

// Describe fetches a single item.
func (s *LeaseService) Describe(ctx context.Context, id int64) (Item, error) {
	item, err := s.leases.Item(ctx, id)
	if err != nil {
		return Item{}, err
	}
	return FromItem(item), nil
}

// Assets lists the images stored for id.
func (s *LeaseService) Assets(ctx context.Context, id int64) ([]Asset, error) {
	item, err := s.leases.Item(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.catalog == nil {
		return []Asset{}, nil
	}
	listed, err := s.catalog.List(item.Session, item.Number)
	if errors.Is(err, assets.ErrInvalidKey) {
		return []Asset{}, nil
	}
	if err != nil {
		return nil, err
	}
	return FromAssets(listed), nil
}

// Health gathers database diagnostics and reports whether they all passed.
func (s *LeaseService) Health(ctx context.Context) (HealthResponse, bool) {
	resp := HealthResponse{Status: "ok", LeaseTTL: int(s.leases.TTL() / time.Second)}
	if s.health == nil {
		resp.Status = "unavailable"
		return resp, false
	}
	health, err := s.health.CheckHealth(ctx)
	resp.Database = FromDatabaseHealth(health)
	if err != nil && resp.Database.Error == "" {
		resp.Database.Error = err.Error()
	}
	healthy := err == nil && health.Healthy()
	if healthy {
		if stats, statsErr := s.health.Stats(ctx); statsErr == nil {
			resp.Counts = MergeStats(stats)
		}
	} else {
		resp.Status = "degraded"
	}
	return resp, healthy
}
