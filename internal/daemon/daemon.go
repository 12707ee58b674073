package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gofrs/flock"

	"intake/internal/api"
	"intake/internal/assets"
	"intake/internal/backlog"
	"intake/internal/config"
	"intake/internal/lease"
	"intake/internal/logging"
	"intake/internal/preflight"
	"intake/internal/submission"
)

// Daemon serves the lease API and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *backlog.Store
	manager *lease.Manager
	service *api.LeaseService
	api     *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	DatabasePath string
	LockFilePath string
	APIAddress   string
}

// Option customizes a Daemon.
type Option func(*options)

type options struct {
	clock lease.Clock
}

// WithClock overrides the lease clock. Tests use it to drive expiry.
func WithClock(clock lease.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *backlog.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	leaseOpts := []lease.Option{lease.WithLogger(logger)}
	if o.clock != nil {
		leaseOpts = append(leaseOpts, lease.WithClock(o.clock))
	}
	manager := lease.NewManager(store, cfg.LeaseTTL(), leaseOpts...)
	catalog := assets.NewCatalog(cfg.Paths.ImageRoot)
	pipeline := submission.NewPipeline(manager, catalog, logger)
	service := api.NewLeaseService(manager, manager.Registry(), pipeline, catalog, store)

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		manager:  manager,
		service:  service,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, service, logger)
	return d, nil
}

// Start acquires the daemon lock, reclaims leases that expired while the
// server was down and starts the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another intake daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	for _, result := range preflight.Failed(preflight.RunAll(d.ctx, d.cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "operations touching this path may fail"),
		)
	}
	if _, err := d.manager.ReclaimExpired(d.ctx); err != nil {
		logging.WarnWithContext(d.logger, "startup lease reclaim failed", "lease_reclaim_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "expired leases stay marked leased until acquired"),
		)
	}
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start api: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("intake daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.address()),
		logging.Duration("lease_ttl", d.manager.TTL()),
	)
	return nil
}

// Stop shuts down the API and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next start may report a running instance"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("intake daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Handler returns the HTTP handler serving the lease API.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

// Manager exposes the lease manager.
func (d *Daemon) Manager() *lease.Manager {
	return d.manager
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:      d.running.Load(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		APIAddress:   d.api.address(),
	}
}
