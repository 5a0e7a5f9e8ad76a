package testsupport

import (
	"context"
	"testing"
	"time"

	"poseflow/internal/config"
	"poseflow/internal/ledger"
	"poseflow/internal/stage"
)

// MustOpenLedger opens a ledger.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// StartRun records a pending run for tests.
func StartRun(t testing.TB, store *ledger.Store, id, prefix string, started time.Time) {
	t.Helper()

	err := store.StartRun(context.Background(), stage.RunInfo{
		ID:        id,
		Stage:     prefix,
		Prefix:    prefix,
		Backend:   "local",
		Units:     3,
		StartedAt: started,
	})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
}
