package lease

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"intake/internal/backlog"
	"intake/internal/logging"
)

// Renewal is the result of a successful renew.
type Renewal struct {
	LeasedAt  time.Time
	RenewedAt time.Time
}

// Manager is the lease state machine. It holds no in-process locks: every
// transition is one conditional write against the store, so any number of
// managers may share a database.
type Manager struct {
	store    Store
	clock    Clock
	ttl      time.Duration
	logger   *slog.Logger
	registry *Registry
	selector *Selector
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets the logger used for lease events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager builds a manager that expires leases not renewed within ttl.
func NewManager(store Store, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{store: store, clock: SystemClock{}, ttl: ttl}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "lease")
	m.registry = NewRegistry(store, m.clock, ttl)
	m.selector = NewSelector(store, m.registry, ttl)
	return m
}

// Registry returns the session registry sharing this manager's clock and TTL.
func (m *Manager) Registry() *Registry { return m.registry }

// Selector returns the selector used by AcquireNext.
func (m *Manager) Selector() *Selector { return m.selector }

// TTL returns the lease lifetime without renewal.
func (m *Manager) TTL() time.Duration { return m.ttl }

func (m *Manager) window() (now, cutoff time.Time) {
	now = m.clock.Now().UTC()
	return now, now.Add(-m.ttl)
}

func validHolder(op string, holder string) error {
	if strings.TrimSpace(holder) == "" {
		return newError(op, 0, fmt.Errorf("%w: holder is required", ErrInvalid))
	}
	return nil
}

// AcquireNext leases the next claimable item in session to holder. A holder
// that already owns a live lease in the session gets that item back rather
// than a second one. ErrNotFound means nothing in the session is claimable.
func (m *Manager) AcquireNext(ctx context.Context, session, holder string) (*backlog.Item, error) {
	const op = "acquire"
	if err := validHolder(op, holder); err != nil {
		return nil, err
	}
	if strings.TrimSpace(session) == "" {
		return nil, newError(op, 0, fmt.Errorf("%w: session is required", ErrInvalid))
	}
	now, cutoff := m.window()

	held, err := m.store.HeldBy(ctx, session, holder, cutoff)
	if err != nil {
		return nil, newError(op, 0, err)
	}
	if held != nil {
		m.logger.Debug("holder reacquired existing lease",
			logging.ItemID(held.ID), logging.Session(session), logging.Holder(holder))
		return held, nil
	}

	candidates, err := m.selector.Ordered(ctx, session, now)
	if err != nil {
		return nil, newError(op, 0, err)
	}
	for _, candidate := range candidates {
		won, err := m.store.TryLease(ctx, candidate.ID, holder, now, cutoff)
		if err != nil {
			return nil, newError(op, candidate.ID, err)
		}
		if !won {
			continue
		}
		item, err := m.store.GetByID(ctx, candidate.ID)
		if err != nil {
			return nil, newError(op, candidate.ID, err)
		}
		if candidate.Status == backlog.StatusLeased {
			m.logger.Info("expired lease taken over",
				logging.ItemID(candidate.ID),
				logging.String("previous_holder", candidate.LeaseHolder),
				logging.Holder(holder))
		}
		m.logger.Info("lease acquired",
			logging.ItemID(item.ID), logging.Session(session), logging.Holder(holder))
		return item, nil
	}
	return nil, newError(op, 0, ErrNotFound)
}

// SuggestSessions lists the sessions other than session where an acquire
// would currently succeed. It backs the hint sent with an exhausted acquire.
func (m *Manager) SuggestSessions(ctx context.Context, session string) ([]string, error) {
	others, err := m.selector.SuggestOtherSessions(ctx, session)
	if err != nil {
		return nil, newError("suggest", 0, err)
	}
	return others, nil
}

// Renew extends holder's lease on id. Any state other than "leased by holder
// and not expired" is ErrConflict, including a missing item.
func (m *Manager) Renew(ctx context.Context, id int64, holder string) (Renewal, error) {
	const op = "renew"
	if err := validHolder(op, holder); err != nil {
		return Renewal{}, err
	}
	now, cutoff := m.window()
	ok, err := m.store.RenewLease(ctx, id, holder, now, cutoff)
	if err != nil {
		return Renewal{}, newError(op, id, err)
	}
	if !ok {
		m.logger.Info("renew rejected", logging.ItemID(id), logging.Holder(holder))
		return Renewal{}, newError(op, id, ErrConflict)
	}
	item, err := m.store.GetByID(ctx, id)
	if err != nil {
		return Renewal{}, newError(op, id, err)
	}
	renewal := Renewal{RenewedAt: now}
	if item != nil && item.LeasedAt != nil {
		renewal.LeasedAt = *item.LeasedAt
	}
	return renewal, nil
}

// Release returns id to the pool if holder leases it. It never fails on lease
// state: releasing an unleased item, or one held by somebody else, is a no-op.
func (m *Manager) Release(ctx context.Context, id int64, holder string) error {
	const op = "release"
	if err := validHolder(op, holder); err != nil {
		return err
	}
	now, _ := m.window()
	ok, err := m.store.ReleaseLease(ctx, id, holder, now)
	if err != nil {
		return newError(op, id, err)
	}
	if ok {
		m.logger.Info("lease released", logging.ItemID(id), logging.Holder(holder))
	} else {
		m.logger.Debug("release ignored; holder does not lease item", logging.ItemID(id), logging.Holder(holder))
	}
	return nil
}

// Skip releases id without touching its payload and sends it behind every
// never-skipped item in the session.
func (m *Manager) Skip(ctx context.Context, id int64, holder string) error {
	const op = "skip"
	if err := validHolder(op, holder); err != nil {
		return err
	}
	now, cutoff := m.window()
	ok, err := m.store.SkipItem(ctx, id, holder, now, cutoff)
	if err != nil {
		return newError(op, id, err)
	}
	if ok {
		m.logger.Info("item skipped", logging.ItemID(id), logging.Holder(holder))
		return nil
	}
	return m.classifyMiss(ctx, op, id)
}

// ForceComplete marks id completed with payloadJSON and drops the lease in a
// single write. Only the current holder of a live lease may do this.
func (m *Manager) ForceComplete(ctx context.Context, id int64, holder, payloadJSON string) (*backlog.Item, error) {
	const op = "complete"
	if err := validHolder(op, holder); err != nil {
		return nil, err
	}
	now, cutoff := m.window()
	ok, err := m.store.CompleteLease(ctx, id, holder, payloadJSON, now, cutoff)
	if err != nil {
		return nil, newError(op, id, err)
	}
	if !ok {
		return nil, m.classifyMiss(ctx, op, id)
	}
	item, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, newError(op, id, err)
	}
	m.logger.Info("item completed", logging.ItemID(id), logging.Holder(holder))
	return item, nil
}

// UpdateURL changes the source URL of an item holder currently leases.
func (m *Manager) UpdateURL(ctx context.Context, id int64, holder, url string) (*backlog.Item, error) {
	const op = "update url"
	if err := validHolder(op, holder); err != nil {
		return nil, err
	}
	now, cutoff := m.window()
	ok, err := m.store.UpdateURL(ctx, id, holder, strings.TrimSpace(url), now, cutoff)
	if err != nil {
		return nil, newError(op, id, err)
	}
	if !ok {
		return nil, m.classifyMiss(ctx, op, id)
	}
	return m.Item(ctx, id)
}

// ReclaimExpired returns every expired lease to the pool. Acquire treats
// expired leases as free anyway; this only tidies stored status.
func (m *Manager) ReclaimExpired(ctx context.Context) (int64, error) {
	now, cutoff := m.window()
	n, err := m.store.ReclaimExpired(ctx, now, cutoff)
	if err != nil {
		return 0, newError("reclaim", 0, err)
	}
	if n > 0 {
		m.logger.Info("expired leases reclaimed", logging.Int64("count", n))
	}
	return n, nil
}

// Item fetches id, returning ErrNotFound when it does not exist.
func (m *Manager) Item(ctx context.Context, id int64) (*backlog.Item, error) {
	item, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, newError("get", id, err)
	}
	if item == nil {
		return nil, newError("get", id, ErrNotFound)
	}
	return item, nil
}

func (m *Manager) classifyMiss(ctx context.Context, op string, id int64) error {
	item, err := m.store.GetByID(ctx, id)
	if err != nil {
		return newError(op, id, err)
	}
	if item == nil {
		return newError(op, id, ErrNotFound)
	}
	m.logger.Info(op+" rejected",
		logging.ItemID(id),
		logging.String("status", string(item.Status)),
		logging.String("lease_holder", item.LeaseHolder),
		logging.Bool("lease_live", item.LeaseLive(m.clock.Now(), m.ttl)))
	return newError(op, id, ErrConflict)
}
