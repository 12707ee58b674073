package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"intake/internal/daemon"
	"intake/internal/logging"
	"intake/internal/testsupport"
)

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var status daemon.Status
	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		done <- run(ctx, cfg, logging.NewNop(), func(s daemon.Status) {
			status = s
			close(started)
		})
	}()

	select {
	case <-started:
	case err := <-done:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not start")
	}

	resp, err := http.Get("http://" + status.APIAddress + "/api/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected health status %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("expected lock released, ok=%v err=%v", ok, err)
	}
	_ = lock.Unlock()
}
