package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dreamstate/internal/fileutil"
	"dreamstate/internal/logging"
)

const (
	pidFile      = "daemon.pid"
	lockFile     = "daemon.lock"
	statusFile   = "daemon.status"
	auditFile    = "audit.state"
	activityFile = "last-activity.txt"
	historyFile  = "history.db"
	tasksDir     = "tasks"
	resultsDir   = "results"
	logsDir      = "logs"
	taskExt      = ".json"
)

var (
	// ErrNotFound reports that the requested protocol file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTaskID reports a task id that cannot be used as a file name.
	ErrInvalidTaskID = errors.New("invalid task id")
	// ErrMalformed reports a protocol file that exists but cannot be parsed.
	ErrMalformed = errors.New("malformed protocol file")
)

// Store reads and writes the protocol files under one State Directory.
type Store struct {
	dir    string
	logger *slog.Logger

	mu        sync.Mutex
	warned    map[string]struct{}
	taskFiles map[string]string
}

// NewStore returns a Store rooted at stateDir. It does not touch the disk.
func NewStore(stateDir string, logger *slog.Logger) *Store {
	return &Store{
		dir:       stateDir,
		logger:    logging.NewComponentLogger(logger, "ipc"),
		warned:    make(map[string]struct{}),
		taskFiles: make(map[string]string),
	}
}

// Dir returns the State Directory root.
func (s *Store) Dir() string { return s.dir }

func (s *Store) PIDPath() string          { return filepath.Join(s.dir, pidFile) }
func (s *Store) LockPath() string         { return filepath.Join(s.dir, lockFile) }
func (s *Store) StatusPath() string       { return filepath.Join(s.dir, statusFile) }
func (s *Store) AuditStatePath() string   { return filepath.Join(s.dir, auditFile) }
func (s *Store) LastActivityPath() string { return filepath.Join(s.dir, activityFile) }
func (s *Store) HistoryPath() string      { return filepath.Join(s.dir, historyFile) }
func (s *Store) TasksDir() string         { return filepath.Join(s.dir, tasksDir) }
func (s *Store) ResultsDir() string       { return filepath.Join(s.dir, resultsDir) }
func (s *Store) LogDir() string           { return filepath.Join(s.dir, logsDir) }

// EnsureLayout creates the State Directory and its subdirectories.
func (s *Store) EnsureLayout() error {
	for _, dir := range []string{s.dir, s.TasksDir(), s.ResultsDir(), s.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state directory %q: %w", dir, err)
		}
	}
	return nil
}

// WritePID records pid, replacing any stale value.
func (s *Store) WritePID(pid int) error {
	if err := fileutil.WriteFileAtomic(s.PIDPath(), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ClearPID removes the PID file. A missing file is not an error.
func (s *Store) ClearPID() error {
	if err := fileutil.RemoveIfExists(s.PIDPath()); err != nil {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// ReadPID returns the recorded pid, ErrNotFound when no PID file exists, or
// ErrMalformed when the file does not hold a positive integer.
func (s *Store) ReadPID() (int, error) {
	data, err := os.ReadFile(s.PIDPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: pid file %s", ErrMalformed, s.PIDPath())
	}
	return pid, nil
}

// WriteStatus atomically replaces the status snapshot.
func (s *Store) WriteStatus(status DaemonStatus) error {
	if status.Watching == nil {
		status.Watching = []string{}
	}
	if err := fileutil.WriteJSONAtomic(s.StatusPath(), status); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}

// ReadStatus returns the last written snapshot, or ErrNotFound.
func (s *Store) ReadStatus() (DaemonStatus, error) {
	var status DaemonStatus
	if err := readJSON(s.StatusPath(), &status); err != nil {
		return DaemonStatus{}, fmt.Errorf("read status: %w", err)
	}
	return status, nil
}

// PendingTasks returns the queued tasks ordered by creation time, then id.
// Tasks whose creation time does not parse sort after all others.
//
// Files that vanish mid-scan are ignored. Empty files are assumed to still be
// in flight. Files that fail to parse or lack an id or type are skipped and
// warned about once; they are retried on every scan in case a slow writer
// finishes them.
func (s *Store) PendingTasks() []Task {
	entries, err := os.ReadDir(s.TasksDir())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logging.WarnWithContext(s.logger, "task scan failed", "task_scan_failed",
				logging.String(logging.FieldPath, s.TasksDir()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "pending tasks wait for the next poll"),
				logging.String(logging.FieldErrorHint, "check permissions on the tasks directory"),
			)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(entries))
	files := make(map[string]string, len(entries))
	tasks := make([]Task, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != taskExt {
			continue
		}
		seen[name] = struct{}{}
		path := filepath.Join(s.TasksDir(), name)

		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Debug("task file not readable yet", logging.String(logging.FieldPath, path), logging.Error(err))
			}
			continue
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			continue
		}

		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			s.warnOnce(name, "skipping malformed task file", err)
			continue
		}
		if strings.TrimSpace(task.ID) == "" || strings.TrimSpace(string(task.Type)) == "" {
			s.warnOnce(name, "skipping task file without id or type", nil)
			continue
		}
		if err := validateID(task.ID); err != nil {
			s.warnOnce(name, "skipping task file with unusable id", err)
			continue
		}
		if _, dup := files[task.ID]; dup {
			s.warnOnce(name, "skipping task file with duplicate id", nil)
			continue
		}
		delete(s.warned, name)
		files[task.ID] = name
		tasks = append(tasks, task)
	}

	for name := range s.warned {
		if _, ok := seen[name]; !ok {
			delete(s.warned, name)
		}
	}
	s.taskFiles = files

	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks
}

func (s *Store) warnOnce(name, msg string, err error) {
	if _, ok := s.warned[name]; ok {
		return
	}
	s.warned[name] = struct{}{}
	attrs := []logging.Attr{
		logging.String(logging.FieldPath, filepath.Join(s.TasksDir(), name)),
		logging.String(logging.FieldImpact, "task is ignored until the file is fixed or removed"),
		logging.String(logging.FieldErrorHint, "task files must be JSON objects with id, type, payload, createdAt"),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	logging.WarnWithContext(s.logger, msg, "task_malformed", attrs...)
}

// ConsumeTask deletes the pending file for id. Deleting a file that is already
// gone is not an error.
func (s *Store) ConsumeTask(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	name, ok := s.taskFiles[id]
	delete(s.taskFiles, id)
	s.mu.Unlock()
	if !ok {
		name = id + taskExt
	}
	if err := fileutil.RemoveIfExists(filepath.Join(s.TasksDir(), name)); err != nil {
		return fmt.Errorf("consume task %s: %w", id, err)
	}
	return nil
}

// EnqueueTask atomically writes task into the pending area.
func (s *Store) EnqueueTask(task Task) error {
	if err := validateID(task.ID); err != nil {
		return err
	}
	if task.Type == "" {
		return fmt.Errorf("enqueue task %s: missing type", task.ID)
	}
	if err := os.MkdirAll(s.TasksDir(), 0o755); err != nil {
		return fmt.Errorf("create tasks directory: %w", err)
	}
	if err := fileutil.WriteJSONAtomic(s.taskPath(task.ID), task); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// WriteResult persists result under results/<taskId>.json.
func (s *Store) WriteResult(result TaskResult) error {
	if err := validateID(result.TaskID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.ResultsDir(), 0o755); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}
	if err := fileutil.WriteJSONAtomic(s.resultPath(result.TaskID), result); err != nil {
		return fmt.Errorf("write result %s: %w", result.TaskID, err)
	}
	return nil
}

// ReadResult loads the result for id, or ErrNotFound if none exists yet.
func (s *Store) ReadResult(id string) (TaskResult, error) {
	if err := validateID(id); err != nil {
		return TaskResult{}, err
	}
	var result TaskResult
	if err := readJSON(s.resultPath(id), &result); err != nil {
		return TaskResult{}, fmt.Errorf("read result %s: %w", id, err)
	}
	return result, nil
}

// RemoveResult deletes the result for id. A missing file is not an error.
func (s *Store) RemoveResult(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := fileutil.RemoveIfExists(s.resultPath(id)); err != nil {
		return fmt.Errorf("remove result %s: %w", id, err)
	}
	return nil
}

// ReadAuditState reports the manual override. A missing or malformed file
// means no override.
func (s *Store) ReadAuditState() (AuditState, bool) {
	var state AuditState
	if err := readJSON(s.AuditStatePath(), &state); err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Debug("audit state unreadable; treating as absent",
				logging.String(logging.FieldPath, s.AuditStatePath()),
				logging.Error(err),
			)
		}
		return AuditState{}, false
	}
	return state, true
}

// WriteAuditState persists the manual override.
func (s *Store) WriteAuditState(state AuditState) error {
	if err := fileutil.WriteJSONAtomic(s.AuditStatePath(), state); err != nil {
		return fmt.Errorf("write audit state: %w", err)
	}
	return nil
}

// ClearAuditState removes the manual override file.
func (s *Store) ClearAuditState() error {
	if err := fileutil.RemoveIfExists(s.AuditStatePath()); err != nil {
		return fmt.Errorf("remove audit state: %w", err)
	}
	return nil
}

// ReadLastActivity returns the persisted activity timestamp. A missing or
// unparseable file reports false.
func (s *Store) ReadLastActivity() (time.Time, bool) {
	data, err := os.ReadFile(s.LastActivityPath())
	if err != nil {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || ms <= 0 {
		s.logger.Debug("last activity unparseable; ignoring",
			logging.String(logging.FieldPath, s.LastActivityPath()),
		)
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// WriteLastActivity persists t as unix milliseconds.
func (s *Store) WriteLastActivity(t time.Time) error {
	data := []byte(strconv.FormatInt(t.UnixMilli(), 10))
	if err := fileutil.WriteFileAtomic(s.LastActivityPath(), data, 0o644); err != nil {
		return fmt.Errorf("write last activity: %w", err)
	}
	return nil
}

func (s *Store) taskPath(id string) string {
	return filepath.Join(s.TasksDir(), id+taskExt)
}

func (s *Store) resultPath(id string) string {
	return filepath.Join(s.ResultsDir(), id+taskExt)
}

// NewTaskID returns "<prefix>-<unix millis>-<random suffix>".
func NewTaskID(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), suffix)
}

// NewTask builds a task with a fresh id, encoding payload when non-nil.
func NewTask(taskType TaskType, payload any, now time.Time) (Task, error) {
	task := Task{
		ID:        NewTaskID(string(taskType), now),
		Type:      taskType,
		CreatedAt: NewTimestamp(now),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Task{}, fmt.Errorf("encode %s payload: %w", taskType, err)
		}
		task.Payload = data
	}
	return task, nil
}

func validateID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || trimmed != id || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, id)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, filepath.Base(path), err)
	}
	return nil
}
