package watcher

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dreamstate/internal/ipc"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatcherErrorIsLoggedAndWatchingContinues(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.ts")
	if err := os.WriteFile(path, []byte("v0"), 0o644); err != nil {
		t.Fatal(err)
	}

	var logs syncBuffer
	w := New(Options{
		Root:      root,
		Patterns:  []string{"**/*.ts"},
		Stability: 50 * time.Millisecond,
		Logger:    slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	w.mu.Lock()
	errs := w.fsw.Errors
	w.mu.Unlock()
	select {
	case errs <- errors.New("inotify queue overflow"):
	case <-time.After(time.Second):
		t.Fatal("watcher loop did not accept the error")
	}

	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case task := <-w.Tasks():
		var payload ipc.FileChangePayload
		if err := task.DecodePayload(&payload); err != nil {
			t.Fatal(err)
		}
		if payload.FilePath != path {
			t.Fatalf("task for %q, want %q", payload.FilePath, path)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no task after a watcher error")
	}

	out := logs.String()
	if !strings.Contains(out, "file watcher error") || !strings.Contains(out, "inotify queue overflow") {
		t.Fatalf("watcher error not logged:\n%s", out)
	}
}
