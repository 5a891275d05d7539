package testsupport

import (
	"path/filepath"
	"testing"

	"dreamstate/internal/config"
	"dreamstate/internal/history"
	"dreamstate/internal/ipc"
	"dreamstate/internal/logging"
)

// NewIPCStore returns an ipc.Store rooted in a fresh workspace with its
// layout created.
func NewIPCStore(t testing.TB) (*ipc.Store, string) {
	t.Helper()
	workspace := NewWorkspace(t)
	store := ipc.NewStore(config.StateDir(workspace), logging.NewNop())
	if err := store.EnsureLayout(); err != nil {
		t.Fatalf("ensure layout: %v", err)
	}
	return store, workspace
}

// MustOpenHistory opens a history ledger in a temp directory and closes it
// when the test ends.
func MustOpenHistory(t testing.TB) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
