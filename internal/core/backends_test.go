package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"krakefactory/internal/infra/persistence/memory"
	"krakefactory/internal/infra/persistence/sqlite"
	"krakefactory/internal/infra/persistence/sqlstore"
	"krakefactory/pkg/domain"
)

type backend struct {
	name string
	open func(t *testing.T, now func() time.Time) domain.PersistentStore
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(_ *testing.T, now func() time.Time) domain.PersistentStore {
			return memory.NewStore(memory.WithClock(now))
		}},
		{name: "sqlite", open: func(t *testing.T, now func() time.Time) domain.PersistentStore {
			t.Helper()
			store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "core.db"), sqlstore.WithClock(now))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, store domain.PersistentStore)) {
	t.Helper()
	base := time.Date(2024, 4, 1, 7, 30, 0, 0, time.UTC)
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t, steppingClock(base, time.Minute)))
		})
	}
}
