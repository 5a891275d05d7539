package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"dreamstate/internal/audit"
	"dreamstate/internal/history"
	"dreamstate/internal/ipc"
	"dreamstate/internal/logging"
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultStatusInterval = 5 * time.Second
)

// ErrAlreadyRunning reports that this daemon, or another instance holding the
// workspace lock, is already running.
var ErrAlreadyRunning = errors.New("daemon already running")

// Queue is the file transport the daemon polls and reports through.
type Queue interface {
	EnsureLayout() error
	WritePID(pid int) error
	ClearPID() error
	WriteStatus(status ipc.DaemonStatus) error
	PendingTasks() []ipc.Task
	WriteResult(result ipc.TaskResult) error
	ConsumeTask(id string) error
}

// FileWatcher produces file-change tasks.
type FileWatcher interface {
	Start(ctx context.Context) error
	Stop()
	Tasks() <-chan ipc.Task
	WatchedPaths() []string
}

// Detector classifies the workspace as active or idle.
type Detector interface {
	Start(ctx context.Context)
	Stop()
	Events() <-chan audit.Event
	RecordActivity() bool
	Auditing() bool
	IdleMinutes() int
	MinutesUntilAudit() int
	LastActivity() time.Time
}

// Recorder persists processed tasks.
type Recorder interface {
	Record(ctx context.Context, entry history.Entry) error
}

// Options wires a Daemon. Queue is required; the rest are optional.
type Options struct {
	Queue          Queue
	Watcher        FileWatcher
	Detector       Detector
	History        Recorder
	LockPath       string
	PollInterval   time.Duration
	StatusInterval time.Duration
	PID            int
	Now            func() time.Time
	Logger         *slog.Logger
}

// Daemon owns the lifecycle of one workspace daemon.
type Daemon struct {
	queue    Queue
	watcher  FileWatcher
	detector Detector
	history  Recorder
	logger   *slog.Logger
	now      func() time.Time
	pid      int

	pollInterval   time.Duration
	statusInterval time.Duration

	lockPath string
	lock     *flock.Flock

	handlersMu sync.RWMutex
	handlers   map[ipc.TaskType]Handler

	lifeMu         sync.Mutex
	running        atomic.Bool
	cancel         context.CancelFunc
	done           chan struct{}
	startedAt      time.Time
	tasksProcessed atomic.Int64

	statusMu     sync.Mutex
	lastActivity time.Time
}

// New constructs a daemon with the ping handler registered.
func New(opts Options) (*Daemon, error) {
	if opts.Queue == nil {
		return nil, errors.New("daemon requires a task queue")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	pid := opts.PID
	if pid <= 0 {
		pid = os.Getpid()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	status := opts.StatusInterval
	if status <= 0 {
		status = defaultStatusInterval
	}

	d := &Daemon{
		queue:          opts.Queue,
		watcher:        opts.Watcher,
		detector:       opts.Detector,
		history:        opts.History,
		logger:         logging.NewComponentLogger(opts.Logger, "daemon"),
		now:            now,
		pid:            pid,
		pollInterval:   poll,
		statusInterval: status,
		lockPath:       opts.LockPath,
		handlers:       make(map[ipc.TaskType]Handler),
	}
	if opts.LockPath != "" {
		d.lock = flock.New(opts.LockPath)
	}
	d.Register(ipc.TaskPing, d.handlePing)
	return d, nil
}

// Start acquires the workspace lock, writes the PID file, starts the watcher
// and detector, and launches the event loop.
func (d *Daemon) Start(ctx context.Context) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	if d.running.Load() {
		return ErrAlreadyRunning
	}

	if err := d.queue.EnsureLayout(); err != nil {
		return fmt.Errorf("prepare state directory: %w", err)
	}

	if d.lock != nil {
		ok, err := d.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: another dreamstate daemon holds %s", ErrAlreadyRunning, d.lockPath)
		}
	}

	if err := d.queue.WritePID(d.pid); err != nil {
		d.unlock()
		return fmt.Errorf("write pid: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.startedAt = d.now()
	d.statusMu.Lock()
	d.lastActivity = d.startedAt
	d.statusMu.Unlock()

	var watcherTasks <-chan ipc.Task
	if d.watcher != nil {
		if err := d.watcher.Start(loopCtx); err != nil {
			logging.WarnWithContext(d.logger, "file watcher unavailable", "watcher_start_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "file edits will not count as activity"),
				logging.String(logging.FieldErrorHint, "check workspace permissions and inotify limits"),
			)
		} else {
			watcherTasks = d.watcher.Tasks()
		}
	}

	d.running.Store(true)
	d.writeStatus()

	var auditEvents <-chan audit.Event
	if d.detector != nil {
		d.detector.Start(loopCtx)
		auditEvents = d.detector.Events()
	}

	go d.run(loopCtx, watcherTasks, auditEvents, d.done)

	d.logger.Info("daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.Int("pid", d.pid),
		logging.String("lock", d.lockPath),
		logging.Duration("poll_interval", d.pollInterval),
		logging.Duration("status_interval", d.statusInterval),
	)
	return nil
}

// Stop halts the event loop, the watcher, and the detector, clears the PID
// file, and releases the lock. Calling Stop more than once is harmless.
func (d *Daemon) Stop() {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	if !d.running.Load() {
		return
	}
	d.running.Store(false)

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.done != nil {
		<-d.done
		d.done = nil
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.detector != nil {
		d.detector.Stop()
	}
	if err := d.queue.ClearPID(); err != nil {
		logging.WarnWithContext(d.logger, "failed to clear pid file", "pid_clear_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a stale pid file remains until the next start"),
			logging.String(logging.FieldErrorHint, "remove .dreamstate/daemon.pid manually"),
		)
	}
	d.unlock()
	d.logger.Info("daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
		logging.Int64("tasks_processed", d.tasksProcessed.Load()),
	)
}

func (d *Daemon) unlock() {
	if d.lock == nil {
		return
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove .dreamstate/daemon.lock if a restart fails"),
			logging.String(logging.FieldImpact, "next start may report the daemon as already running"),
		)
	}
}

// Running reports whether the daemon has been started and not stopped.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// TasksProcessed returns how many tasks produced results in this run.
func (d *Daemon) TasksProcessed() int64 {
	return d.tasksProcessed.Load()
}

// Uptime returns time since Start.
func (d *Daemon) Uptime() time.Duration {
	if d.startedAt.IsZero() {
		return 0
	}
	return d.now().Sub(d.startedAt)
}

func (d *Daemon) run(ctx context.Context, watcherTasks <-chan ipc.Task, auditEvents <-chan audit.Event, done chan<- struct{}) {
	defer close(done)

	poll := time.NewTicker(d.pollInterval)
	defer poll.Stop()
	status := time.NewTicker(d.statusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if !d.running.Load() {
				continue
			}
			d.pollTasks(ctx)
		case <-status.C:
			if !d.running.Load() {
				continue
			}
			d.writeStatus()
		case task := <-watcherTasks:
			d.handleFileChange(task)
		case ev := <-auditEvents:
			d.handleAuditEvent(ev)
		}
	}
}

// Status builds the current heartbeat snapshot.
func (d *Daemon) Status() ipc.DaemonStatus {
	now := d.now()
	status := ipc.DaemonStatus{
		PID:            d.pid,
		StartedAt:      d.startedAt.UTC(),
		Uptime:         now.Sub(d.startedAt).Milliseconds(),
		TasksProcessed: d.tasksProcessed.Load(),
		Watching:       []string{},
	}
	if d.watcher != nil {
		status.Watching = d.watcher.WatchedPaths()
	}

	activity := now
	if d.detector != nil {
		activity = d.detector.LastActivity()
		status.Auditing = d.detector.Auditing()
		status.IdleMinutes = d.detector.IdleMinutes()
		status.MinutesUntilAudit = d.detector.MinutesUntilAudit()
	}
	d.statusMu.Lock()
	if activity.After(d.lastActivity) {
		d.lastActivity = activity
	}
	status.LastActivity = d.lastActivity.UTC()
	d.statusMu.Unlock()
	return status
}

func (d *Daemon) writeStatus() {
	if err := d.queue.WriteStatus(d.Status()); err != nil {
		logging.WarnWithContext(d.logger, "status write failed", "status_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "status readers see a stale snapshot until the next heartbeat"),
			logging.String(logging.FieldErrorHint, "check disk space and permissions on the state directory"),
		)
	}
}

func (d *Daemon) recordActivity() {
	if d.detector != nil {
		d.detector.RecordActivity()
	}
}

func (d *Daemon) handleAuditEvent(ev audit.Event) {
	switch ev.Type {
	case audit.EventAuditStart:
		d.logger.Info("workspace idle; audit started",
			logging.String(logging.FieldEventType, "audit_started"),
			logging.String("last_activity", ev.LastActivity.UTC().Format(time.RFC3339)),
		)
	case audit.EventAuditEnd:
		d.logger.Info("workspace active; audit ended",
			logging.String(logging.FieldEventType, "audit_ended"),
		)
	}
	d.writeStatus()
}
