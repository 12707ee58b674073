package agent_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"intake/internal/agent"
	"intake/internal/api"
	"intake/internal/backlog"
	"intake/internal/client"
	"intake/internal/daemon"
	"intake/internal/lease"
	"intake/internal/logging"
	"intake/internal/submission"
	"intake/internal/testsupport"
)

type fakeBackend struct {
	mu       sync.Mutex
	items    map[string][]api.Item
	statuses map[string]api.SessionStatus
	sessions []string

	renewErr  error
	submitErr error
	skipErr   error

	renews   int
	released []int64
	skipped  []int64
	submits  int
	beacons  []int64

	// Gates hold a call open until closed; entered is signalled first.
	acquireEntered chan struct{}
	acquireGate    chan struct{}
	submitEntered  chan struct{}
	submitGate     chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		items:    map[string][]api.Item{},
		statuses: map[string]api.SessionStatus{},
	}
}

func (f *fakeBackend) add(session string, ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.items[session] = append(f.items[session], api.Item{ID: id, Session: session, Status: "locked"})
	}
	f.sessions = append(f.sessions, session)
}

func (f *fakeBackend) setRenewErr(err error) {
	f.mu.Lock()
	f.renewErr = err
	f.mu.Unlock()
}

func (f *fakeBackend) renewCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renews
}

func (f *fakeBackend) Status(_ context.Context, session string) (api.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[session], nil
}

func (f *fakeBackend) AcquireNext(_ context.Context, session string) (*api.Item, error) {
	if f.acquireGate != nil {
		f.acquireEntered <- struct{}{}
		<-f.acquireGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.items[session]
	if len(queue) == 0 {
		var others []string
		for _, name := range f.sessions {
			st := f.statuses[name]
			if name != session && st.Total-st.Locked > 0 {
				others = append(others, name)
			}
		}
		return nil, &api.Exhausted{Session: session, Suggestions: others}
	}
	item := queue[0]
	f.items[session] = queue[1:]
	return &item, nil
}

func (f *fakeBackend) Renew(_ context.Context, id int64) (api.Renewal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renews++
	if f.renewErr != nil {
		return api.Renewal{}, f.renewErr
	}
	return api.Renewal{RenewedAt: api.FormatTime(time.Now())}, nil
}

func (f *fakeBackend) Release(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
	return nil
}

func (f *fakeBackend) Skip(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.skipErr != nil {
		return f.skipErr
	}
	f.skipped = append(f.skipped, id)
	return nil
}

func (f *fakeBackend) Submit(_ context.Context, id int64, _ submission.Payload) (*api.Item, error) {
	if f.submitGate != nil {
		f.submitEntered <- struct{}{}
		<-f.submitGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &api.Item{ID: id, Status: "completed"}, nil
}

func (f *fakeBackend) Beacon(id int64) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beacons = append(f.beacons, id)
	done := make(chan struct{})
	close(done)
	return done
}

func newAgent(backend agent.Backend, opts ...agent.Option) *agent.Agent {
	opts = append([]agent.Option{
		agent.WithRenewInterval(10 * time.Millisecond),
		agent.WithLogger(logging.NewNop()),
	}, opts...)
	return agent.New(backend, opts...)
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func validPayload() submission.Payload {
	return submission.Payload{Title: "Lamp", Price: decimal.RequireFromString("12.50")}
}

func TestHeartbeatRunsWhileLeasedAndStopsAfterSubmit(t *testing.T) {
	backend := newFakeBackend()
	backend.add("S1", 1)
	a := newAgent(backend)
	defer a.Close()
	ctx := context.Background()

	item, err := a.Next(ctx, "S1")
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if item.ID != 1 || a.State() != agent.StateHasLease {
		t.Fatalf("unexpected item %+v state %s", item, a.State())
	}
	waitFor(t, func() bool { return backend.renewCount() >= 2 }, "renewals")

	if _, err := a.Submit(ctx, validPayload()); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if a.State() != agent.StateIdle || a.Current() != nil {
		t.Fatalf("expected idle without lease, got %s", a.State())
	}

	after := backend.renewCount()
	time.Sleep(50 * time.Millisecond)
	if got := backend.renewCount(); got != after {
		t.Fatalf("heartbeat kept running after submit: %d -> %d", after, got)
	}
}

func TestRenewFailureMovesToLost(t *testing.T) {
	backend := newFakeBackend()
	backend.add("S1", 7)
	backend.add("S2", 8)

	var (
		mu    sync.Mutex
		calls []int64
	)
	notifier := agent.NotifierFunc(func(item api.Item, cause error) {
		mu.Lock()
		calls = append(calls, item.ID)
		mu.Unlock()
	})
	a := newAgent(backend, agent.WithNotifier(notifier))
	defer a.Close()
	ctx := context.Background()

	if _, err := a.Next(ctx, "S1"); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	backend.setRenewErr(lease.ErrConflict)
	waitFor(t, func() bool { return a.State() == agent.StateLost }, "lost state")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, "lease lost notice")

	lost, cause := a.Lost()
	if lost == nil || lost.ID != 7 || !errors.Is(cause, lease.ErrConflict) {
		t.Fatalf("unexpected lost item %+v cause %v", lost, cause)
	}
	if _, err := a.Next(ctx, "S2"); !errors.Is(err, agent.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
	if _, err := a.Submit(ctx, validPayload()); !errors.Is(err, agent.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost on submit, got %v", err)
	}

	before := backend.renewCount()
	time.Sleep(40 * time.Millisecond)
	if backend.renewCount() != before {
		t.Fatal("heartbeat still running after loss")
	}
	mu.Lock()
	if len(calls) != 1 {
		t.Fatalf("expected one notice, got %d", len(calls))
	}
	mu.Unlock()

	a.Reset(ctx)
	backend.setRenewErr(nil)
	if a.State() != agent.StateIdle {
		t.Fatalf("expected idle after reset, got %s", a.State())
	}
	if item, err := a.Next(ctx, "S2"); err != nil || item.ID != 8 {
		t.Fatalf("Next after reset = %+v, %v", item, err)
	}
}

func TestSubmitFailures(t *testing.T) {
	backend := newFakeBackend()
	backend.add("S1", 1)
	a := newAgent(backend)
	defer a.Close()
	ctx := context.Background()

	if _, err := a.Submit(ctx, validPayload()); !errors.Is(err, agent.ErrNoLease) {
		t.Fatalf("expected ErrNoLease, got %v", err)
	}
	if _, err := a.Next(ctx, "S1"); err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	_, err := a.Submit(ctx, submission.Payload{Price: decimal.NewFromInt(1)})
	var verr *submission.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	backend.mu.Lock()
	submits := backend.submits
	backend.mu.Unlock()
	if submits != 0 {
		t.Fatal("invalid payload reached the backend")
	}
	if a.State() != agent.StateHasLease {
		t.Fatalf("validation failure should keep the lease, got %s", a.State())
	}

	backend.mu.Lock()
	backend.submitErr = errors.New("connection reset")
	backend.mu.Unlock()
	if _, err := a.Submit(ctx, validPayload()); err == nil {
		t.Fatal("expected commit failure")
	}
	if a.State() != agent.StateHasLease || a.Current() == nil {
		t.Fatalf("transport failure should keep the lease, got %s", a.State())
	}
	before := backend.renewCount()
	waitFor(t, func() bool { return backend.renewCount() > before }, "heartbeat after failed commit")

	backend.mu.Lock()
	backend.submitErr = lease.ErrConflict
	backend.mu.Unlock()
	_, err = a.Submit(ctx, validPayload())
	if !errors.Is(err, agent.ErrLeaseLost) || !errors.Is(err, lease.ErrConflict) {
		t.Fatalf("expected lost+conflict, got %v", err)
	}
	if a.State() != agent.StateLost {
		t.Fatalf("expected lost, got %s", a.State())
	}
}

func TestNextReleasesPreviousAndSkipAdvances(t *testing.T) {
	backend := newFakeBackend()
	backend.add("S1", 1, 2, 3)
	a := newAgent(backend)
	defer a.Close()
	ctx := context.Background()

	if _, err := a.Next(ctx, "S1"); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	second, err := a.Next(ctx, "S1")
	if err != nil || second.ID != 2 {
		t.Fatalf("second Next = %+v, %v", second, err)
	}
	third, err := a.Skip(ctx)
	if err != nil || third.ID != 3 {
		t.Fatalf("Skip = %+v, %v", third, err)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.released) != 1 || backend.released[0] != 1 {
		t.Fatalf("expected release of 1, got %v", backend.released)
	}
	if len(backend.skipped) != 1 || backend.skipped[0] != 2 {
		t.Fatalf("expected skip of 2, got %v", backend.skipped)
	}
}

func TestExhaustionClassification(t *testing.T) {
	lockedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	freeAt := lockedAt.Add(10 * time.Minute)

	tests := []struct {
		name   string
		status map[string]api.SessionStatus
		check  func(t *testing.T, err error)
	}{
		{
			name:   "empty session",
			status: map[string]api.SessionStatus{"S1": {Total: 0}},
			check: func(t *testing.T, err error) {
				var target *agent.ExhaustedEmpty
				if !errors.As(err, &target) {
					t.Fatalf("expected ExhaustedEmpty, got %v", err)
				}
			},
		},
		{
			name: "other sessions have work",
			status: map[string]api.SessionStatus{
				"S1": {Total: 2, Locked: 2},
				"S2": {Total: 3, Locked: 3},
				"S3": {Total: 4, Locked: 1},
			},
			check: func(t *testing.T, err error) {
				var target *agent.ExhaustedTryOthers
				if !errors.As(err, &target) {
					t.Fatalf("expected ExhaustedTryOthers, got %v", err)
				}
				if len(target.Sessions) != 1 || target.Sessions[0] != "S3" {
					t.Fatalf("unexpected suggestions %v", target.Sessions)
				}
			},
		},
		{
			name: "everything leased",
			status: map[string]api.SessionStatus{
				"S1": {Total: 2, Locked: 2, NextLockedAt: api.FormatTime(lockedAt), NextFreeAt: api.FormatTime(freeAt)},
				"S2": {Total: 1, Locked: 1},
			},
			check: func(t *testing.T, err error) {
				var target *agent.ExhaustedLocked
				if !errors.As(err, &target) {
					t.Fatalf("expected ExhaustedLocked, got %v", err)
				}
				if target.NextFreeAt == nil || !target.NextFreeAt.Equal(freeAt) {
					t.Fatalf("unexpected next free %v", target.NextFreeAt)
				}
				if target.EarliestLockedAt == nil || !target.EarliestLockedAt.Equal(lockedAt) {
					t.Fatalf("unexpected earliest locked %v", target.EarliestLockedAt)
				}
			},
		},
		{
			name:   "completed rest",
			status: map[string]api.SessionStatus{"S1": {Total: 2, Locked: 0, Completed: 2}},
			check: func(t *testing.T, err error) {
				var target *agent.ExhaustedLocked
				if !errors.As(err, &target) {
					t.Fatalf("expected ExhaustedLocked, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			for _, name := range []string{"S1", "S2", "S3"} {
				if _, ok := tt.status[name]; ok {
					backend.sessions = append(backend.sessions, name)
				}
			}
			backend.statuses = tt.status
			a := newAgent(backend)
			defer a.Close()

			_, err := a.Next(context.Background(), "S1")
			if !errors.Is(err, lease.ErrNotFound) {
				t.Fatalf("exhaustion should match ErrNotFound, got %v", err)
			}
			tt.check(t, err)
			if a.State() != agent.StateIdle {
				t.Fatalf("expected idle, got %s", a.State())
			}
		})
	}
}

func TestCloseSendsBeaconAndStopsHeartbeat(t *testing.T) {
	backend := newFakeBackend()
	backend.add("S1", 4)
	a := newAgent(backend)

	if _, err := a.Next(context.Background(), "S1"); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	a.Close()
	select {
	case <-a.Close():
	case <-time.After(time.Second):
		t.Fatal("second Close did not report completion")
	}

	before := backend.renewCount()
	time.Sleep(40 * time.Millisecond)
	if backend.renewCount() != before {
		t.Fatal("heartbeat running after Close")
	}
	backend.mu.Lock()
	beacons := append([]int64(nil), backend.beacons...)
	backend.mu.Unlock()
	if len(beacons) != 1 || beacons[0] != 4 {
		t.Fatalf("expected one beacon for 4, got %v", beacons)
	}
	if _, err := a.Next(context.Background(), "S1"); !errors.Is(err, agent.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseDuringNextGivesBackAcquiredItem(t *testing.T) {
	backend := newFakeBackend()
	backend.add("S1", 5)
	backend.acquireEntered = make(chan struct{})
	backend.acquireGate = make(chan struct{})
	a := newAgent(backend)

	type result struct {
		item *api.Item
		err  error
	}
	results := make(chan result, 1)
	go func() {
		item, err := a.Next(context.Background(), "S1")
		results <- result{item, err}
	}()

	<-backend.acquireEntered
	done := a.Close()
	close(backend.acquireGate)

	res := <-results
	if !errors.Is(res.err, agent.ErrClosed) || res.item != nil {
		t.Fatalf("expected ErrClosed without item, got %+v, %v", res.item, res.err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close never finished")
	}
	if a.State() == agent.StateHasLease || a.Current() != nil {
		t.Fatalf("closed agent holds a lease: %s", a.State())
	}

	backend.mu.Lock()
	released := append([]int64(nil), backend.released...)
	backend.mu.Unlock()
	if len(released) != 1 || released[0] != 5 {
		t.Fatalf("expected release of 5, got %v", released)
	}

	time.Sleep(50 * time.Millisecond)
	if got := backend.renewCount(); got != 0 {
		t.Fatalf("closed agent renewed %d times", got)
	}
}

func TestRenewalTicksCoalesceDuringSubmit(t *testing.T) {
	backend := newFakeBackend()
	backend.add("S1", 1)
	a := newAgent(backend)
	defer a.Close()
	ctx := context.Background()

	if _, err := a.Next(ctx, "S1"); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	waitFor(t, func() bool { return backend.renewCount() >= 1 }, "first renewal")

	backend.submitEntered = make(chan struct{})
	backend.submitGate = make(chan struct{})
	errs := make(chan error, 1)
	go func() {
		_, err := a.Submit(ctx, validPayload())
		errs <- err
	}()
	<-backend.submitEntered

	during := backend.renewCount()
	time.Sleep(60 * time.Millisecond)
	if got := backend.renewCount(); got != during {
		t.Fatalf("renewals ran while submit was in flight: %d -> %d", during, got)
	}
	if a.State() != agent.StateSubmitting {
		t.Fatalf("expected submitting, got %s", a.State())
	}

	close(backend.submitGate)
	if err := <-errs; err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if a.State() != agent.StateIdle || a.Current() != nil {
		t.Fatalf("expected idle without lease, got %s", a.State())
	}
	after := backend.renewCount()
	time.Sleep(40 * time.Millisecond)
	if got := backend.renewCount(); got != after {
		t.Fatalf("heartbeat resumed after submit: %d -> %d", after, got)
	}
}

func TestCloseReleasesOnServerBeforeDone(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.SeedItems(t, store, "S1", 1)
	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	server := httptest.NewServer(d.Handler())
	defer server.Close()

	cli, err := client.New(server.URL, "alice", cfg.Paths.APIToken, 5*time.Second)
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	a := newAgent(cli, agent.WithRenewInterval(time.Minute))
	ctx := context.Background()

	item, err := a.Next(ctx, "S1")
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	select {
	case <-a.Close():
	case <-time.After(3 * time.Second):
		t.Fatal("Close never finished")
	}

	stored, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != backlog.StatusAvailable || stored.LeaseHolder != "" {
		t.Fatalf("item still leased after Close: %+v", stored)
	}
}

func TestStateString(t *testing.T) {
	if agent.StateHasLease.String() != "has_lease" || agent.StateLost.String() != "lost" {
		t.Fatal("unexpected state names")
	}
	if agent.State(42).String() != "state(42)" {
		t.Fatalf("unexpected fallback %q", agent.State(42).String())
	}
}
