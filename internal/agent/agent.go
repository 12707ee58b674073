// Package agent holds one operator's lease on the client side.
//
// An Agent owns at most one lease at a time. While it has one, a single
// renewal loop heartbeats it; that loop is cancelled and waited for whenever
// the agent leaves HasLease. A failed renewal moves the agent to Lost, which
// is sticky until Reset. Close stops the loop, sends a release beacon and
// hands back a channel that closes once the beacon has been answered.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"intake/internal/api"
	"intake/internal/lease"
	"intake/internal/logging"
	"intake/internal/submission"
)

// DefaultRenewInterval matches the server's default renew cadence.
const DefaultRenewInterval = 150 * time.Second

const releaseTimeout = 3 * time.Second

// Backend is the lease API as seen by one holder.
type Backend interface {
	Status(ctx context.Context, session string) (api.SessionStatus, error)
	AcquireNext(ctx context.Context, session string) (*api.Item, error)
	Renew(ctx context.Context, id int64) (api.Renewal, error)
	Release(ctx context.Context, id int64) error
	Skip(ctx context.Context, id int64) error
	Submit(ctx context.Context, id int64, payload submission.Payload) (*api.Item, error)
	// Beacon releases id without a caller context. The returned channel
	// closes when the request has finished, successfully or not.
	Beacon(id int64) <-chan struct{}
}

// Notifier is told when a lease is lost. LeaseLost may block (a modal
// notice); the agent does not hold any lock while calling it.
type Notifier interface {
	LeaseLost(item api.Item, cause error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(item api.Item, cause error)

// LeaseLost implements Notifier.
func (f NotifierFunc) LeaseLost(item api.Item, cause error) { f(item, cause) }

// Option customizes an Agent.
type Option func(*Agent)

// WithRenewInterval sets the heartbeat period.
func WithRenewInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithNotifier sets the lease-loss receiver.
func WithNotifier(n Notifier) Option {
	return func(a *Agent) { a.notifier = n }
}

// WithLogger sets the agent logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

type heartbeat struct {
	itemID int64
	cancel context.CancelFunc
	done   chan struct{}
}

// Agent is one operator's client-side lease holder.
type Agent struct {
	id       string
	backend  Backend
	interval time.Duration
	notifier Notifier
	logger   *slog.Logger

	// op serializes calls that mutate lease state on the server, renewals
	// included. Ticks use TryLock so a tick during Submit/Skip/Release is
	// dropped rather than queued.
	op sync.Mutex

	mu        sync.Mutex
	state     State
	current   *api.Item
	session   string
	hb        *heartbeat
	lost      *api.Item
	lostCause error
	renewedAt time.Time
	closed    bool
	closeDone chan struct{}
}

// New builds an idle agent.
func New(backend Backend, opts ...Option) *Agent {
	a := &Agent{
		id:       uuid.NewString(),
		backend:  backend,
		interval: DefaultRenewInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.NewComponentLogger(a.logger, "agent").With(logging.String("agent_id", a.id))
	return a
}

// ID returns the agent's instance identifier.
func (a *Agent) ID() string { return a.id }

// State returns the current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Current returns a copy of the leased item, or nil.
func (a *Agent) Current() *api.Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil
	}
	item := *a.current
	return &item
}

// Session returns the session of the most recent Next call.
func (a *Agent) Session() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// LastRenewal returns when the current lease was last renewed by this agent.
func (a *Agent) LastRenewal() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.renewedAt
}

// Lost returns the item and cause of the last lease loss while in StateLost.
func (a *Agent) Lost() (*api.Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateLost {
		return nil, nil
	}
	return a.lost, a.lostCause
}

// Next releases the current item, if any, then leases the next one in
// session. Exhaustion comes back as *ExhaustedEmpty, *ExhaustedTryOthers or
// *ExhaustedLocked, all of which match lease.ErrNotFound.
func (a *Agent) Next(ctx context.Context, session string) (*api.Item, error) {
	a.op.Lock()
	defer a.op.Unlock()

	if err := a.usable(); err != nil {
		return nil, err
	}
	a.releaseCurrent(ctx)

	a.mu.Lock()
	a.session = session
	a.mu.Unlock()

	item, err := a.backend.AcquireNext(ctx, session)
	if err != nil {
		if errors.Is(err, lease.ErrNotFound) {
			return nil, a.classifyExhaustion(ctx, session, err)
		}
		return nil, err
	}

	a.mu.Lock()
	if a.closed {
		// Close ran while the acquire was in flight.
		a.mu.Unlock()
		a.giveBack(ctx, item.ID)
		return nil, ErrClosed
	}
	a.current = item
	a.state = StateHasLease
	a.renewedAt = time.Now()
	a.startHeartbeatLocked(item.ID)
	a.mu.Unlock()

	a.logger.Info("lease acquired", logging.ItemID(item.ID), logging.Session(session))
	copied := *item
	return &copied, nil
}

// Submit validates payload locally, then commits it. On success the lease is
// gone and the agent is Idle. A commit failure other than a conflict leaves
// the lease and its heartbeat in place so the operator can retry.
func (a *Agent) Submit(ctx context.Context, payload submission.Payload) (*api.Item, error) {
	a.op.Lock()
	defer a.op.Unlock()

	id, err := a.begin(StateSubmitting)
	if err != nil {
		return nil, err
	}

	payload.Normalize()
	if err := payload.Validate(); err != nil {
		a.restore()
		return nil, err
	}

	item, err := a.backend.Submit(ctx, id, payload)
	if err != nil {
		return nil, a.afterFailure(id, err)
	}

	a.finish()
	a.logger.Info("submission committed", logging.ItemID(id))
	return item, nil
}

// Skip returns the current item to the pool behind never-skipped items and
// immediately asks for the next one in the same session.
func (a *Agent) Skip(ctx context.Context) (*api.Item, error) {
	session, err := a.skipCurrent(ctx)
	if err != nil {
		return nil, err
	}
	return a.Next(ctx, session)
}

func (a *Agent) skipCurrent(ctx context.Context) (string, error) {
	a.op.Lock()
	defer a.op.Unlock()

	id, err := a.begin(StateSkipping)
	if err != nil {
		return "", err
	}
	if err := a.backend.Skip(ctx, id); err != nil {
		return "", a.afterFailure(id, err)
	}
	a.finish()
	a.logger.Info("item skipped", logging.ItemID(id))
	return a.Session(), nil
}

// Release gives up the current lease, if any. Server-side failures are
// logged and ignored: an unreleased lease simply expires.
func (a *Agent) Release(ctx context.Context) error {
	a.op.Lock()
	defer a.op.Unlock()
	if err := a.usable(); err != nil {
		return err
	}
	a.releaseCurrent(ctx)
	return nil
}

// Reset clears StateLost (the equivalent of a full reload). Any lease still
// held is released first.
func (a *Agent) Reset(ctx context.Context) {
	a.op.Lock()
	defer a.op.Unlock()
	a.releaseCurrent(ctx)

	a.mu.Lock()
	if a.state == StateLost {
		a.logger.Info("agent reset after lease loss")
	}
	a.state = StateIdle
	a.lost = nil
	a.lostCause = nil
	a.mu.Unlock()
}

// Close stops the heartbeat and sends a release beacon for the current item.
// The returned channel closes once the beacon has finished and any Next still
// in flight has handed back what it acquired. Close itself never blocks on
// the server; callers that exit right after should wait on the channel for a
// bounded time.
func (a *Agent) Close() <-chan struct{} {
	a.mu.Lock()
	if a.closed {
		done := a.closeDone
		a.mu.Unlock()
		return done
	}
	a.closed = true
	done := make(chan struct{})
	a.closeDone = done
	hb := a.hb
	a.hb = nil
	current := a.current
	a.current = nil
	if a.state != StateLost {
		a.state = StateIdle
	}
	a.mu.Unlock()

	stopHeartbeat(hb)
	var sent <-chan struct{}
	if current != nil {
		sent = a.backend.Beacon(current.ID)
		a.logger.Info("release beacon sent", logging.ItemID(current.ID))
	}
	go func() {
		if sent != nil {
			<-sent
		}
		a.op.Lock()
		a.op.Unlock()
		close(done)
	}()
	return done
}

// giveBack releases an item acquired after Close. The caller's context may
// already be cancelled by then, so the release gets its own deadline.
func (a *Agent) giveBack(ctx context.Context, id int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := a.backend.Release(ctx, id); err != nil {
		logging.WarnWithContext(a.logger, "release after close failed; lease will expire", "lease_release_failed",
			logging.ItemID(id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "item stays locked until its lease expires"),
		)
		return
	}
	a.logger.Info("lease acquired during close released", logging.ItemID(id))
}

func (a *Agent) usable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.state == StateLost {
		return ErrLeaseLost
	}
	return nil
}

// begin moves HasLease to a mutating state and returns the leased id.
func (a *Agent) begin(next State) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return 0, ErrClosed
	case a.state == StateLost:
		return 0, ErrLeaseLost
	case a.current == nil:
		return 0, ErrNoLease
	}
	a.state = next
	return a.current.ID, nil
}

func (a *Agent) restore() {
	a.mu.Lock()
	if a.current != nil && a.state != StateLost {
		a.state = StateHasLease
	}
	a.mu.Unlock()
}

// finish drops the lease after the server confirmed it is gone.
func (a *Agent) finish() {
	a.mu.Lock()
	hb := a.hb
	a.hb = nil
	a.current = nil
	a.state = StateIdle
	a.mu.Unlock()
	stopHeartbeat(hb)
}

// afterFailure handles a failed submit or skip. A conflict proves the lease
// is gone; anything else leaves it in place.
func (a *Agent) afterFailure(id int64, err error) error {
	if errors.Is(err, lease.ErrConflict) {
		a.mu.Lock()
		hb := a.hb
		a.hb = nil
		item := a.markLostLocked(err)
		a.mu.Unlock()
		stopHeartbeat(hb)
		a.notifyLost(item, err)
		return errors.Join(ErrLeaseLost, err)
	}
	a.restore()
	a.logger.Info("lease operation failed; lease kept", logging.ItemID(id), logging.Error(err))
	return err
}

func (a *Agent) releaseCurrent(ctx context.Context) {
	a.mu.Lock()
	current := a.current
	if current == nil {
		a.mu.Unlock()
		return
	}
	hb := a.hb
	a.hb = nil
	a.state = StateReleasing
	a.mu.Unlock()

	stopHeartbeat(hb)
	if err := a.backend.Release(ctx, current.ID); err != nil {
		logging.WarnWithContext(a.logger, "release failed; lease will expire", "lease_release_failed",
			logging.ItemID(current.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "item stays locked until its lease expires"),
		)
	}

	a.mu.Lock()
	a.current = nil
	if a.state == StateReleasing {
		a.state = StateIdle
	}
	a.mu.Unlock()
}

func (a *Agent) markLostLocked(cause error) api.Item {
	var item api.Item
	if a.current != nil {
		item = *a.current
	}
	lost := item
	a.lost = &lost
	a.lostCause = cause
	a.current = nil
	a.state = StateLost
	return item
}

func (a *Agent) notifyLost(item api.Item, cause error) {
	logging.WarnWithContext(a.logger, "lease lost", "lease_lost",
		logging.ItemID(item.ID),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "unsaved edits for this item must be discarded"),
	)
	if a.notifier != nil {
		a.notifier.LeaseLost(item, cause)
	}
}

// startHeartbeatLocked starts the single renewal loop for itemID. Callers
// hold mu and have already stopped any previous loop.
func (a *Agent) startHeartbeatLocked(itemID int64) {
	ctx, cancel := context.WithCancel(context.Background())
	hb := &heartbeat{itemID: itemID, cancel: cancel, done: make(chan struct{})}
	a.hb = hb
	go a.runRenewLoop(ctx, hb)
}

func stopHeartbeat(hb *heartbeat) {
	if hb == nil {
		return
	}
	hb.cancel()
	<-hb.done
}

func (a *Agent) runRenewLoop(ctx context.Context, hb *heartbeat) {
	item, cause := a.renewUntilLost(ctx, hb)
	close(hb.done)
	if cause != nil {
		a.notifyLost(item, cause)
	}
}

// renewUntilLost ticks until ctx is cancelled or a renewal fails. On failure
// it moves the agent to Lost and returns the lost item and cause.
func (a *Agent) renewUntilLost(ctx context.Context, hb *heartbeat) (api.Item, error) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return api.Item{}, nil
		case <-ticker.C:
		}

		if !a.op.TryLock() {
			a.logger.Debug("renewal skipped; lease call in flight", logging.ItemID(hb.itemID))
			continue
		}
		if ctx.Err() != nil {
			a.op.Unlock()
			return api.Item{}, nil
		}

		renewal, err := a.backend.Renew(ctx, hb.itemID)
		if err != nil && ctx.Err() != nil {
			a.op.Unlock()
			return api.Item{}, nil
		}
		if err != nil {
			a.mu.Lock()
			if a.hb != hb {
				a.mu.Unlock()
				a.op.Unlock()
				return api.Item{}, nil
			}
			a.hb = nil
			item := a.markLostLocked(fmt.Errorf("renew item %d: %w", hb.itemID, err))
			cause := a.lostCause
			a.mu.Unlock()
			a.op.Unlock()
			return item, cause
		}

		a.mu.Lock()
		if parsed, perr := api.ParseTime(renewal.RenewedAt); perr == nil && parsed != nil {
			a.renewedAt = *parsed
		} else {
			a.renewedAt = time.Now()
		}
		a.mu.Unlock()
		a.op.Unlock()
		a.logger.Debug("lease renewed", logging.ItemID(hb.itemID))
	}
}

// classifyExhaustion explains an empty acquire: fully leased sessions point
// at the other sessions the server suggested when there are any, otherwise at
// the time the oldest lease can lapse.
func (a *Agent) classifyExhaustion(ctx context.Context, session string, acquireErr error) error {
	status, err := a.backend.Status(ctx, session)
	if err != nil {
		return errors.Join(&ExhaustedLocked{Session: session}, err)
	}
	locked := &ExhaustedLocked{Session: session}
	locked.EarliestLockedAt, _ = api.ParseTime(status.NextLockedAt)
	locked.NextFreeAt, _ = api.ParseTime(status.NextFreeAt)

	switch {
	case status.Locked > 0 && status.Total-status.Locked <= 0:
		if others := suggestedSessions(acquireErr, session); len(others) > 0 {
			return &ExhaustedTryOthers{Session: session, Sessions: others}
		}
		return locked
	case status.Total == 0:
		return &ExhaustedEmpty{Session: session}
	default:
		return locked
	}
}

type sessionSuggester interface {
	SuggestedSessions() []string
}

func suggestedSessions(err error, current string) []string {
	var s sessionSuggester
	if !errors.As(err, &s) {
		return nil
	}
	var out []string
	for _, name := range s.SuggestedSessions() {
		if name != current {
			out = append(out, name)
		}
	}
	return out
}
