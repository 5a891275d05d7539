package ipc_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"dreamstate/internal/ipc"
	"dreamstate/internal/logging"
	"dreamstate/internal/testsupport"
)

func newStore(t *testing.T) *ipc.Store {
	t.Helper()
	store := ipc.NewStore(filepath.Join(t.TempDir(), ".dreamstate"), logging.NewNop())
	if err := store.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	return store
}

func TestPIDLifecycle(t *testing.T) {
	store := newStore(t)

	if _, err := store.ReadPID(); !errors.Is(err, ipc.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before write, got %v", err)
	}
	if err := store.WritePID(111); err != nil {
		t.Fatal(err)
	}
	if err := store.WritePID(4242); err != nil {
		t.Fatalf("overwrite should succeed: %v", err)
	}
	pid, err := store.ReadPID()
	if err != nil || pid != 4242 {
		t.Fatalf("ReadPID = %d, %v", pid, err)
	}
	if err := store.ClearPID(); err != nil {
		t.Fatal(err)
	}
	if err := store.ClearPID(); err != nil {
		t.Fatalf("second ClearPID should be a no-op: %v", err)
	}
	if _, err := os.Stat(store.PIDPath()); !os.IsNotExist(err) {
		t.Fatalf("pid file should be gone, stat err=%v", err)
	}
}

func TestReadPIDRejectsGarbage(t *testing.T) {
	store := newStore(t)
	testsupport.WriteFile(t, store.PIDPath(), "not-a-pid")
	if _, err := store.ReadPID(); !errors.Is(err, ipc.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	store := newStore(t)
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	status := ipc.DaemonStatus{
		PID:            99,
		StartedAt:      started,
		LastActivity:   started.Add(time.Minute),
		Uptime:         60000,
		Watching:       []string{"**/*.ts"},
		TasksProcessed: 3,
	}
	if err := store.WriteStatus(status); err != nil {
		t.Fatal(err)
	}
	got, err := store.ReadStatus()
	if err != nil {
		t.Fatal(err)
	}
	if got.PID != 99 || got.TasksProcessed != 3 || !got.StartedAt.Equal(started) || got.UptimeDuration() != time.Minute {
		t.Fatalf("unexpected status %+v", got)
	}

	raw, err := os.ReadFile(store.StatusPath())
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"pid", "startedAt", "lastActivity", "uptime", "watching", "tasksProcessed"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("status file missing %q: %s", key, raw)
		}
	}
}

func TestReadStatusMissing(t *testing.T) {
	store := newStore(t)
	if _, err := store.ReadStatus(); !errors.Is(err, ipc.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPendingTasksSkipsMalformedAndOrders(t *testing.T) {
	store := newStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	later := ipc.Task{ID: "b-task", Type: ipc.TaskPing, CreatedAt: ipc.NewTimestamp(base.Add(time.Second))}
	earlier := ipc.Task{ID: "z-task", Type: ipc.TaskPing, CreatedAt: ipc.NewTimestamp(base)}
	tie := ipc.Task{ID: "a-task", Type: ipc.TaskPing, CreatedAt: ipc.NewTimestamp(base.Add(time.Second))}
	for _, task := range []ipc.Task{later, earlier, tie} {
		if err := store.EnqueueTask(task); err != nil {
			t.Fatalf("EnqueueTask: %v", err)
		}
	}
	testsupport.WriteFile(t, filepath.Join(store.TasksDir(), "broken.json"), "{not json")
	testsupport.WriteFile(t, filepath.Join(store.TasksDir(), "empty.json"), "")
	testsupport.WriteFile(t, filepath.Join(store.TasksDir(), "noid.json"), `{"type":"ping"}`)
	testsupport.WriteFile(t, filepath.Join(store.TasksDir(), "notes.txt"), "ignore me")
	testsupport.WriteFile(t, filepath.Join(store.TasksDir(), ".partial.json"), `{"id":"hidden","type":"ping"}`)

	tasks := store.PendingTasks()
	var ids []string
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	want := []string{"z-task", "a-task", "b-task"}
	if len(ids) != len(want) {
		t.Fatalf("PendingTasks ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("PendingTasks ids = %v, want %v", ids, want)
		}
	}

	// A second scan still skips the broken file without failing.
	if again := store.PendingTasks(); len(again) != 3 {
		t.Fatalf("second scan returned %d tasks", len(again))
	}
}

func TestPendingTasksMissingDirectory(t *testing.T) {
	store := ipc.NewStore(filepath.Join(t.TempDir(), "absent"), logging.NewNop())
	if tasks := store.PendingTasks(); len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %v", tasks)
	}
}

func TestConsumeTaskIsIdempotent(t *testing.T) {
	store := newStore(t)
	task, err := ipc.NewTask(ipc.TaskPing, nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.EnqueueTask(task); err != nil {
		t.Fatal(err)
	}
	if got := store.PendingTasks(); len(got) != 1 {
		t.Fatalf("expected 1 pending task, got %d", len(got))
	}
	if err := store.ConsumeTask(task.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.ConsumeTask(task.ID); err != nil {
		t.Fatalf("second consume should be a no-op: %v", err)
	}
	if got := store.PendingTasks(); len(got) != 0 {
		t.Fatalf("expected no pending tasks, got %d", len(got))
	}
}

func TestConsumeTaskUsesScannedFileName(t *testing.T) {
	store := newStore(t)
	path := filepath.Join(store.TasksDir(), "dropped-by-hand.json")
	testsupport.WriteFile(t, path, `{"id":"manual-1","type":"ping","createdAt":"2026-01-01T00:00:00.000Z"}`)

	tasks := store.PendingTasks()
	if len(tasks) != 1 || tasks[0].ID != "manual-1" {
		t.Fatalf("unexpected tasks %v", tasks)
	}
	if err := store.ConsumeTask("manual-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected hand-written task file removed, stat err=%v", err)
	}
}

func TestResultLifecycle(t *testing.T) {
	store := newStore(t)
	if _, err := store.ReadResult("t-1"); !errors.Is(err, ipc.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	result, err := ipc.SuccessResult("t-1", ipc.PingResult{Pong: true, Uptime: 5, Message: "Daemon is alive!"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := store.WriteResult(result); err != nil {
		t.Fatal(err)
	}
	got, err := store.ReadResult("t-1")
	if err != nil {
		t.Fatal(err)
	}
	var ping ipc.PingResult
	if err := json.Unmarshal(got.Result, &ping); err != nil {
		t.Fatal(err)
	}
	if !got.Success || got.Error != "" || !ping.Pong || ping.Message != "Daemon is alive!" {
		t.Fatalf("unexpected result %+v / %+v", got, ping)
	}

	if err := store.RemoveResult("t-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.RemoveResult("t-1"); err != nil {
		t.Fatalf("second remove should be a no-op: %v", err)
	}
}

func TestFailureResultOmitsResult(t *testing.T) {
	store := newStore(t)
	if err := store.WriteResult(ipc.FailureResult("t-2", "Unknown task type: bogus", time.Now())); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(filepath.Join(store.ResultsDir(), "t-2.json"))
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["result"]; ok {
		t.Fatalf("failure result must not carry result: %s", raw)
	}
	if fields["error"] != "Unknown task type: bogus" || fields["success"] != false {
		t.Fatalf("unexpected failure result: %s", raw)
	}
}

func TestInvalidTaskIDsRejected(t *testing.T) {
	store := newStore(t)
	for _, id := range []string{"", "../escape", "a/b", ".hidden", " padded"} {
		if err := store.ConsumeTask(id); !errors.Is(err, ipc.ErrInvalidTaskID) {
			t.Fatalf("ConsumeTask(%q) err = %v", id, err)
		}
		if err := store.WriteResult(ipc.FailureResult(id, "x", time.Now())); !errors.Is(err, ipc.ErrInvalidTaskID) {
			t.Fatalf("WriteResult(%q) err = %v", id, err)
		}
	}
}

func TestAuditStateLifecycle(t *testing.T) {
	store := newStore(t)
	if _, ok := store.ReadAuditState(); ok {
		t.Fatal("expected no audit state")
	}
	if err := store.WriteAuditState(ipc.AuditState{Active: true}); err != nil {
		t.Fatal(err)
	}
	state, ok := store.ReadAuditState()
	if !ok || !state.Active {
		t.Fatalf("unexpected audit state %+v ok=%v", state, ok)
	}
	testsupport.WriteFile(t, store.AuditStatePath(), "garbage")
	if _, ok := store.ReadAuditState(); ok {
		t.Fatal("malformed audit state should read as absent")
	}
	if err := store.ClearAuditState(); err != nil {
		t.Fatal(err)
	}
	if err := store.ClearAuditState(); err != nil {
		t.Fatal(err)
	}
}

func TestLastActivityRoundTrip(t *testing.T) {
	store := newStore(t)
	if _, ok := store.ReadLastActivity(); ok {
		t.Fatal("expected no activity")
	}
	at := time.UnixMilli(1767225600123)
	if err := store.WriteLastActivity(at); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(store.LastActivityPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "1767225600123" {
		t.Fatalf("unexpected file content %q", raw)
	}
	got, ok := store.ReadLastActivity()
	if !ok || !got.Equal(at) {
		t.Fatalf("ReadLastActivity = %v ok=%v", got, ok)
	}

	testsupport.WriteFile(t, store.LastActivityPath(), "yesterday")
	if _, ok := store.ReadLastActivity(); ok {
		t.Fatal("unparseable timestamp should read as absent")
	}
}

func TestNewTaskIDFormat(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	id := ipc.NewTaskID("ping", now)
	if !regexp.MustCompile(`^ping-1700000000000-[0-9a-f]{8}$`).MatchString(id) {
		t.Fatalf("unexpected id %q", id)
	}
	if other := ipc.NewTaskID("ping", now); other == id {
		t.Fatalf("ids should differ, got %q twice", id)
	}
}

func TestNewTaskEncodesPayload(t *testing.T) {
	task, err := ipc.NewTask(ipc.TaskFileChange, ipc.FileChangePayload{FilePath: "src/a.ts"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	var payload ipc.FileChangePayload
	if err := task.DecodePayload(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.FilePath != "src/a.ts" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if err := (ipc.Task{ID: "x"}).DecodePayload(&payload); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestPendingTasksAcceptsAnyCreatedAtFormat(t *testing.T) {
	store := newStore(t)
	files := map[string]string{
		"t1": `"2024-01-03T00:00:00.000Z"`,
		"t2": `"2024-01-02T00:00:00+0000"`,
		"t3": `"2024-01-01"`,
		"t4": `"20231231T120000Z"`,
		"t5": `"next tuesday"`,
		"t6": `1700000000000`,
	}
	for id, created := range files {
		testsupport.WriteFile(t, filepath.Join(store.TasksDir(), id+".json"),
			`{"id":"`+id+`","type":"ping","createdAt":`+created+`}`)
	}
	testsupport.WriteFile(t, filepath.Join(store.TasksDir(), "t0.json"), `{"id":"t0","type":"ping"}`)

	tasks := store.PendingTasks()
	var ids []string
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	want := []string{"t6", "t4", "t3", "t2", "t1", "t0", "t5"}
	if len(ids) != len(want) {
		t.Fatalf("PendingTasks ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("PendingTasks ids = %v, want %v", ids, want)
		}
	}

	for _, task := range tasks {
		if task.ID == "t2" && task.CreatedAt.Raw != "2024-01-02T00:00:00+0000" {
			t.Fatalf("raw createdAt not kept: %q", task.CreatedAt.Raw)
		}
		if task.ID == "t5" && task.CreatedAt.Valid() {
			t.Fatalf("free text should not parse: %+v", task.CreatedAt)
		}
	}
}

func TestTimestampJSON(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
		want  time.Time
	}{
		{`"2024-01-01T10:00:00.5+02:00"`, true, time.Date(2024, 1, 1, 8, 0, 0, 500_000_000, time.UTC)},
		{`"2024-01-01T10:00:00+0200"`, true, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)},
		{`"2024-01-01T10:00"`, true, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{`"20240101"`, true, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{`"soon"`, false, time.Time{}},
		{`null`, false, time.Time{}},
	}
	for _, tc := range cases {
		var ts ipc.Timestamp
		if err := json.Unmarshal([]byte(tc.in), &ts); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.in, err)
		}
		if ts.Valid() != tc.valid {
			t.Fatalf("%s: Valid() = %v, want %v", tc.in, ts.Valid(), tc.valid)
		}
		if tc.valid && !ts.Time.Equal(tc.want) {
			t.Fatalf("%s: parsed %v, want %v", tc.in, ts.Time, tc.want)
		}
	}

	data, err := json.Marshal(ipc.ParseTimestamp("2024-01-01T00:00:00+0000"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"2024-01-01T00:00:00+0000"` {
		t.Fatalf("marshal should keep the raw text, got %s", data)
	}
}
