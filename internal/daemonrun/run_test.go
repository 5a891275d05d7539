package daemonrun_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dreamstate/internal/config"
	"dreamstate/internal/daemonrun"
	"dreamstate/internal/ipc"
	"dreamstate/internal/logging"
	"dreamstate/internal/testsupport"
)

func TestRunProcessesTasksAndCleansUp(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	workspace := testsupport.NewWorkspace(t)
	store := ipc.NewStore(config.StateDir(workspace), logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- daemonrun.Run(ctx, workspace, cfg, daemonrun.Options{LogLevel: "error"})
	}()

	testsupport.Eventually(t, 3*time.Second, func() bool {
		_, err := store.ReadPID()
		return err == nil
	}, "daemon never wrote its pid file")

	ping, err := ipc.NewTask(ipc.TaskPing, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.EnqueueTask(ping); err != nil {
		t.Fatal(err)
	}
	testsupport.Eventually(t, 3*time.Second, func() bool {
		result, err := store.ReadResult(ping.ID)
		return err == nil && result.Success
	}, "ping never answered")

	if _, err := os.Lstat(filepath.Join(store.LogDir(), "daemon.log")); err != nil {
		t.Fatalf("log pointer missing: %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(store.LogDir(), "daemon-*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one run log, got %v (%v)", matches, err)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, err := store.ReadPID(); !errors.Is(err, ipc.ErrNotFound) {
		t.Fatalf("pid file should be cleared, ReadPID = %v", err)
	}
	if _, err := os.Stat(store.HistoryPath()); err != nil {
		t.Fatalf("history ledger not created: %v", err)
	}
}

func TestRunRejectsMissingConfig(t *testing.T) {
	if err := daemonrun.Run(context.Background(), t.TempDir(), nil, daemonrun.Options{}); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestRunFailsWhenWorkspaceLocked(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	workspace := testsupport.NewWorkspace(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- daemonrun.Run(ctx, workspace, cfg, daemonrun.Options{LogLevel: "error"})
	}()

	store := ipc.NewStore(config.StateDir(workspace), logging.NewNop())
	testsupport.Eventually(t, 3*time.Second, func() bool {
		_, err := store.ReadPID()
		return err == nil
	}, "first daemon never started")

	if err := daemonrun.Run(context.Background(), workspace, cfg, daemonrun.Options{LogLevel: "error"}); err == nil {
		t.Fatal("second Run should fail while the workspace lock is held")
	}

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("first Run returned %v", err)
	}
}

func TestRunLogsConfigFallback(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	workspace := testsupport.NewWorkspace(t)
	store := ipc.NewStore(config.StateDir(workspace), logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- daemonrun.Run(ctx, workspace, cfg, daemonrun.Options{
			LogLevel:    "warn",
			ConfigError: errors.New(`watch.patterns: invalid glob "src/[abc"`),
		})
	}()

	testsupport.Eventually(t, 3*time.Second, func() bool {
		_, err := store.ReadPID()
		return err == nil
	}, "daemon should start despite the rejected config")
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	data, err := os.ReadFile(filepath.Join(store.LogDir(), logging.CurrentLogName))
	if err != nil {
		t.Fatalf("read daemon log: %v", err)
	}
	if !strings.Contains(string(data), "config rejected; running with defaults") {
		t.Fatalf("config fallback not logged:\n%s", data)
	}
}
