package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"dreamstate/internal/ipc"
)

const pollStep = 100 * time.Millisecond

// ErrDaemonNotRunning indicates no live daemon owns the workspace.
var ErrDaemonNotRunning = errors.New("daemon not running")

// ErrPingTimeout indicates the daemon did not answer a ping in time.
var ErrPingTimeout = errors.New("ping timed out")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	Workspace string
	LogLevel  string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Snapshot is what status commands show about a workspace daemon.
type Snapshot struct {
	Running bool
	PID     int
	// StalePID is set when a PID file names a process that no longer exists.
	StalePID       bool
	Status         *ipc.DaemonStatus
	StatusAge      time.Duration
	ManualOverride bool
	// Warnings lists protocol files that were unreadable and treated as absent.
	Warnings []string
}

// IsProcessAlive reports whether pid names a live process. A process owned
// by another user still counts as alive.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// ProcessInfo returns whether the PID file names a live process and the pid
// it records. A PID file that does not hold a pid counts as absent.
func ProcessInfo(store *ipc.Store) (bool, int, error) {
	state, err := readPIDState(store)
	return state.alive, state.pid, err
}

type pidState struct {
	alive bool
	pid   int
	// malformed is set when the PID file exists but holds no pid.
	malformed error
}

func readPIDState(store *ipc.Store) (pidState, error) {
	pid, err := store.ReadPID()
	switch {
	case err == nil:
		return pidState{alive: IsProcessAlive(pid), pid: pid}, nil
	case errors.Is(err, ipc.ErrNotFound):
		return pidState{}, nil
	case errors.Is(err, ipc.ErrMalformed):
		return pidState{malformed: err}, nil
	default:
		return pidState{}, err
	}
}

// BuildStatusSnapshot collects liveness, the last heartbeat, and the manual
// audit flag without talking to the daemon. Unparseable PID and status files
// are reported in Warnings and otherwise treated as absent.
func BuildStatusSnapshot(store *ipc.Store, now time.Time) (Snapshot, error) {
	var snap Snapshot
	state, err := readPIDState(store)
	if err != nil {
		return Snapshot{}, err
	}
	if state.malformed != nil {
		snap.Warnings = append(snap.Warnings, state.malformed.Error())
	}
	snap.Running = state.alive
	snap.PID = state.pid
	snap.StalePID = state.pid > 0 && !state.alive

	status, err := store.ReadStatus()
	switch {
	case err == nil:
		snap.Status = &status
		if mod, statErr := os.Stat(store.StatusPath()); statErr == nil {
			snap.StatusAge = now.Sub(mod.ModTime())
		}
	case errors.Is(err, ipc.ErrNotFound):
	case errors.Is(err, ipc.ErrMalformed):
		snap.Warnings = append(snap.Warnings, err.Error())
	default:
		return Snapshot{}, err
	}

	if state, ok := store.ReadAuditState(); ok {
		snap.ManualOverride = state.Active
	}
	return snap, nil
}

// Launch starts a detached dreamstate daemon process for the workspace and
// returns its pid. The child runs in its own session so it outlives the
// caller.
func Launch(executablePath string, opts LaunchOptions) (int, error) {
	if strings.TrimSpace(executablePath) == "" {
		return 0, fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if ws := strings.TrimSpace(opts.Workspace); ws != "" {
		args = append(args, "--workspace", ws)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.Dir = opts.Workspace
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return 0, fmt.Errorf("launch daemon: %w", err)
	}
	pid := proc.Process.Pid
	if err := proc.Process.Release(); err != nil {
		return pid, fmt.Errorf("release daemon process: %w", err)
	}
	return pid, nil
}

// WaitForStart waits until the PID file names a live process.
func WaitForStart(store *ipc.Store, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if alive, pid, err := ProcessInfo(store); err == nil && alive {
			return pid, nil
		}
		time.Sleep(pollStep)
	}
	return 0, fmt.Errorf("daemon failed to start within %s (see %s)", timeout, store.LogDir())
}

// EnsureStarted launches the daemon unless a live one already owns the
// workspace.
func EnsureStarted(store *ipc.Store, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	alive, pid, err := ProcessInfo(store)
	if err != nil {
		return StartResult{}, err
	}
	if alive {
		return StartResult{State: StartStateAlreadyRunning, PID: pid}, nil
	}
	if _, err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	pid, err = WaitForStart(store, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{State: StartStateStarted, PID: pid}, nil
}

// WaitForShutdown waits for pid to exit. The PID file disappears before the
// workspace lock is released, so only process exit is trusted.
func WaitForShutdown(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsProcessAlive(pid) {
			return nil
		}
		time.Sleep(pollStep)
	}
	return fmt.Errorf("daemon did not stop: pid %d still running after %s", pid, timeout)
}

// ForceKillProcess sends SIGKILL to pid and removes the PID file.
func ForceKillProcess(store *ipc.Store, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("unable to determine daemon pid (pid file: %s)", store.PIDPath())
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := store.ClearPID(); err != nil {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// StopAndTerminate sends SIGTERM and force-kills the process if it is still
// alive after gracePeriod. A stale or unparseable PID file is removed and
// reported as ErrDaemonNotRunning.
func StopAndTerminate(store *ipc.Store, gracePeriod time.Duration) (StopResult, error) {
	state, err := readPIDState(store)
	if err != nil {
		return StopResult{}, err
	}
	pid := state.pid
	if !state.alive {
		if pid > 0 || state.malformed != nil {
			_ = store.ClearPID()
		}
		return StopResult{}, ErrDaemonNotRunning
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}

	result := StopResult{PID: pid}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			_ = store.ClearPID()
			return result, nil
		}
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	if WaitForShutdown(pid, gracePeriod) == nil {
		return result, nil
	}
	if err := ForceKillProcess(store, pid); err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	result.ForcedKill = true
	return result, nil
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(store *ipc.Store, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(store, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(store, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// PingResponse is a completed ping round-trip.
type PingResponse struct {
	TaskID    string
	Result    ipc.PingResult
	RoundTrip time.Duration
}

// Ping enqueues a ping task and waits for its result. The result file is
// removed once read. On timeout the task and any result already written are
// withdrawn so nothing is left for a ping nobody is waiting for.
func Ping(ctx context.Context, store *ipc.Store, timeout time.Duration) (PingResponse, error) {
	started := time.Now()
	task, err := ipc.NewTask(ipc.TaskPing, nil, started)
	if err != nil {
		return PingResponse{}, err
	}
	if err := store.EnqueueTask(task); err != nil {
		return PingResponse{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(pollStep)
	defer ticker.Stop()

	for {
		result, err := store.ReadResult(task.ID)
		if err == nil {
			_ = store.RemoveResult(task.ID)
			if !result.Success {
				return PingResponse{TaskID: task.ID}, fmt.Errorf("ping failed: %s", result.Error)
			}
			var pong ipc.PingResult
			if err := result.DecodeResult(&pong); err != nil {
				return PingResponse{TaskID: task.ID}, err
			}
			return PingResponse{TaskID: task.ID, Result: pong, RoundTrip: time.Since(started)}, nil
		}
		if !errors.Is(err, ipc.ErrNotFound) {
			return PingResponse{TaskID: task.ID}, err
		}

		select {
		case <-waitCtx.Done():
			withdrawTask(store, task.ID)
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return PingResponse{TaskID: task.ID}, fmt.Errorf("%w after %s", ErrPingTimeout, timeout)
			}
			return PingResponse{TaskID: task.ID}, waitCtx.Err()
		case <-ticker.C:
		}
	}
}

// withdrawTask removes a pending task nobody waits for any more. A daemon
// that scanned it before removal may already have answered, so the result is
// removed too.
func withdrawTask(store *ipc.Store, id string) {
	_ = store.ConsumeTask(id)
	_ = store.RemoveResult(id)
}

// SetManualAudit turns the manual audit override on or off.
func SetManualAudit(store *ipc.Store, active bool) error {
	if active {
		return store.WriteAuditState(ipc.AuditState{Active: true})
	}
	return store.ClearAuditState()
}
