package testsupport

import (
	"context"
	"fmt"
	"testing"

	"intake/internal/backlog"
	"intake/internal/config"
)

// MustOpenStore opens a backlog.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *backlog.Store {
	t.Helper()

	store, err := backlog.Open(cfg)
	if err != nil {
		t.Fatalf("backlog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedItems inserts count available items into session, numbered from 1,
// and returns them in creation order.
func SeedItems(t testing.TB, store *backlog.Store, session string, count int) []*backlog.Item {
	t.Helper()

	items := make([]*backlog.Item, 0, count)
	for i := 1; i <= count; i++ {
		item, err := store.Insert(context.Background(), backlog.NewItem{
			Session: session,
			Label:   fmt.Sprintf("%s-%d", session, i),
			Number:  fmt.Sprintf("%d", i),
			SKU:     fmt.Sprintf("SKU-%s-%03d", session, i),
		})
		if err != nil {
			t.Fatalf("store.Insert: %v", err)
		}
		items = append(items, item)
	}
	return items
}
