package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dreamstate/internal/ipc"
	"dreamstate/internal/logging"
)

const (
	defaultCheckInterval = 30 * time.Second
	eventBuffer          = 16
)

// EventType identifies a detector transition.
type EventType string

const (
	// EventAuditStart fires when the workspace becomes idle.
	EventAuditStart EventType = "audit_start"
	// EventAuditEnd fires when activity resumes while auditing.
	EventAuditEnd EventType = "audit_end"
)

// Event describes one transition.
type Event struct {
	Type         EventType
	At           time.Time
	LastActivity time.Time
}

// StateStore is the persisted state the detector depends on.
type StateStore interface {
	ReadLastActivity() (time.Time, bool)
	WriteLastActivity(time.Time) error
	ReadAuditState() (ipc.AuditState, bool)
}

// Options configures a Detector.
type Options struct {
	Timeout       time.Duration
	CheckInterval time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Detector is the idle state machine.
type Detector struct {
	store    StateStore
	timeout  time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	events   chan Event

	mu           sync.Mutex
	lastActivity time.Time
	auditing     bool

	lifeMu  sync.Mutex
	running bool
	quit    chan struct{}
	done    chan struct{}
}

// New builds a detector, seeding the last activity time from the store when a
// valid timestamp was persisted and from the current time otherwise.
func New(store StateStore, opts Options) *Detector {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	interval := opts.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	d := &Detector{
		store:    store,
		timeout:  opts.Timeout,
		interval: interval,
		now:      now,
		logger:   logging.NewComponentLogger(opts.Logger, "audit"),
		events:   make(chan Event, eventBuffer),
	}
	d.lastActivity = now()
	if store != nil {
		if persisted, ok := store.ReadLastActivity(); ok {
			d.lastActivity = persisted
		}
	}
	return d
}

// Events delivers AuditStart and AuditEnd transitions.
func (d *Detector) Events() <-chan Event {
	return d.events
}

// Start launches the periodic idle check. Calling Start twice is a no-op.
func (d *Detector) Start(ctx context.Context) {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.quit = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(ctx, d.quit, d.done)

	d.logger.Info("audit detector started",
		logging.String(logging.FieldEventType, "audit_detector_started"),
		logging.Duration("timeout", d.timeout),
		logging.Duration("check_interval", d.interval),
	)
}

// Stop halts the periodic check and waits for it to exit. The current
// classification is left unchanged.
func (d *Detector) Stop() {
	d.lifeMu.Lock()
	if !d.running {
		d.lifeMu.Unlock()
		return
	}
	d.running = false
	close(d.quit)
	done := d.done
	d.lifeMu.Unlock()

	<-done
	d.logger.Info("audit detector stopped", logging.String(logging.FieldEventType, "audit_detector_stopped"))
}

func (d *Detector) loop(ctx context.Context, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case <-ticker.C:
			d.Check()
		}
	}
}

// RecordActivity marks the workspace active now. It reports whether this
// ended an audit.
func (d *Detector) RecordActivity() bool {
	now := d.now()

	d.mu.Lock()
	if now.After(d.lastActivity) {
		d.lastActivity = now
	}
	last := d.lastActivity
	ended := d.auditing
	d.auditing = false
	d.mu.Unlock()

	if d.store != nil {
		if err := d.store.WriteLastActivity(last); err != nil {
			logging.WarnWithContext(d.logger, "persist last activity failed", "activity_persist_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "idle time restarts from process start after a restart"),
				logging.String(logging.FieldErrorHint, "check permissions on the state directory"),
			)
		}
	}

	if ended {
		d.logger.Info("activity detected, leaving audit state",
			logging.String(logging.FieldEventType, "audit_end"),
		)
		d.emit(Event{Type: EventAuditEnd, At: now, LastActivity: last})
	}
	return ended
}

// Check evaluates the idle condition once and reports whether it started an
// audit.
func (d *Detector) Check() bool {
	manual := d.ManualOverride()
	now := d.now()

	d.mu.Lock()
	if d.auditing || manual || !d.idleAt(now) {
		d.mu.Unlock()
		return false
	}
	d.auditing = true
	last := d.lastActivity
	d.mu.Unlock()

	d.logger.Info("workspace idle, entering audit state",
		logging.String(logging.FieldEventType, "audit_start"),
		logging.Duration("idle_for", now.Sub(last)),
	)
	d.emit(Event{Type: EventAuditStart, At: now, LastActivity: last})
	return true
}

func (d *Detector) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
		logging.WarnWithContext(d.logger, "audit event dropped", "audit_event_dropped",
			logging.String("event", string(ev.Type)),
			logging.String(logging.FieldImpact, "daemon misses one audit transition notice"),
			logging.String(logging.FieldErrorHint, "event consumer is not draining the channel"),
		)
	}
}

// CheckIdle reports whether the idle timeout has elapsed since the last
// activity.
func (d *Detector) CheckIdle() bool {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idleAt(now)
}

func (d *Detector) idleAt(now time.Time) bool {
	return now.Sub(d.lastActivity) >= d.timeout
}

// MinutesUntilAudit returns whole minutes remaining before the workspace goes
// idle, rounded up and clamped at zero.
func (d *Detector) MinutesUntilAudit() int {
	now := d.now()
	d.mu.Lock()
	remaining := d.timeout - now.Sub(d.lastActivity)
	d.mu.Unlock()
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Minute - 1) / time.Minute)
}

// IdleMinutes returns whole minutes elapsed since the last activity.
func (d *Detector) IdleMinutes() int {
	now := d.now()
	d.mu.Lock()
	elapsed := now.Sub(d.lastActivity)
	d.mu.Unlock()
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / time.Minute)
}

// Auditing reports whether the detector is currently in the audit state.
func (d *Detector) Auditing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.auditing
}

// LastActivity returns the most recent recorded activity time.
func (d *Detector) LastActivity() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActivity
}

// ManualOverride reports whether audit.state holds an active override.
func (d *Detector) ManualOverride() bool {
	if d.store == nil {
		return false
	}
	state, ok := d.store.ReadAuditState()
	return ok && state.Active
}
