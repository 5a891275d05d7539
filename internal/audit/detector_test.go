package audit_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dreamstate/internal/audit"
	"dreamstate/internal/ipc"
	"dreamstate/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newStore(t *testing.T) *ipc.Store {
	t.Helper()
	store := ipc.NewStore(filepath.Join(t.TempDir(), ".dreamstate"), logging.NewNop())
	if err := store.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	return store
}

func newDetector(store audit.StateStore, clock *fakeClock) *audit.Detector {
	return audit.New(store, audit.Options{
		Timeout: 5 * time.Minute,
		Now:     clock.Now,
		Logger:  logging.NewNop(),
	})
}

func drain(ch <-chan audit.Event) []audit.Event {
	var events []audit.Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestCheckIdleBoundary(t *testing.T) {
	clock := newFakeClock()
	d := newDetector(newStore(t), clock)
	d.RecordActivity()

	clock.Advance(5*time.Minute - time.Millisecond)
	if d.CheckIdle() {
		t.Fatal("CheckIdle should be false just before the timeout")
	}
	clock.Advance(time.Millisecond)
	if !d.CheckIdle() {
		t.Fatal("CheckIdle should be true exactly at the timeout")
	}
}

func TestIdleScenarioAcrossTimeout(t *testing.T) {
	clock := newFakeClock()
	d := newDetector(newStore(t), clock)
	d.RecordActivity()

	clock.Advance(4*time.Minute + 59*time.Second)
	if d.Check() {
		t.Fatal("should not start auditing at 4m59s")
	}
	if got := d.MinutesUntilAudit(); got != 1 {
		t.Fatalf("MinutesUntilAudit at 4m59s = %d, want 1", got)
	}
	if got := d.IdleMinutes(); got != 4 {
		t.Fatalf("IdleMinutes at 4m59s = %d, want 4", got)
	}

	clock.Advance(time.Second)
	if !d.Check() {
		t.Fatal("should start auditing at 5m0s")
	}
	if got := d.MinutesUntilAudit(); got != 0 {
		t.Fatalf("MinutesUntilAudit at 5m0s = %d, want 0", got)
	}
	if got := d.IdleMinutes(); got != 5 {
		t.Fatalf("IdleMinutes at 5m0s = %d, want 5", got)
	}

	clock.Advance(10 * time.Minute)
	if got := d.MinutesUntilAudit(); got != 0 {
		t.Fatalf("MinutesUntilAudit past timeout = %d, want 0", got)
	}

	events := drain(d.Events())
	if len(events) != 1 || events[0].Type != audit.EventAuditStart {
		t.Fatalf("expected one audit start, got %+v", events)
	}
}

func TestAuditStartFiresOncePerTransition(t *testing.T) {
	clock := newFakeClock()
	d := newDetector(newStore(t), clock)
	d.RecordActivity()

	clock.Advance(6 * time.Minute)
	d.Check()
	d.Check()
	clock.Advance(time.Minute)
	d.Check()

	if !d.Auditing() {
		t.Fatal("expected auditing")
	}
	if events := drain(d.Events()); len(events) != 1 {
		t.Fatalf("expected exactly one event, got %+v", events)
	}
}

func TestRecordActivityEndsAuditExactlyOnce(t *testing.T) {
	clock := newFakeClock()
	d := newDetector(newStore(t), clock)
	d.RecordActivity()
	clock.Advance(5 * time.Minute)
	d.Check()
	drain(d.Events())

	if !d.RecordActivity() {
		t.Fatal("first activity while auditing should end the audit")
	}
	if d.RecordActivity() {
		t.Fatal("second activity should not report another transition")
	}
	events := drain(d.Events())
	if len(events) != 1 || events[0].Type != audit.EventAuditEnd {
		t.Fatalf("expected one audit end, got %+v", events)
	}
	if d.Auditing() {
		t.Fatal("expected active state")
	}
}

func TestManualOverrideSuppressesAuditStart(t *testing.T) {
	clock := newFakeClock()
	store := newStore(t)
	d := newDetector(store, clock)
	d.RecordActivity()
	if err := store.WriteAuditState(ipc.AuditState{Active: true}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(30 * time.Minute)
	if d.Check() {
		t.Fatal("manual override should suppress auditing")
	}
	if !d.ManualOverride() {
		t.Fatal("expected manual override to be reported")
	}

	if err := store.ClearAuditState(); err != nil {
		t.Fatal(err)
	}
	if !d.Check() {
		t.Fatal("clearing the override should allow auditing")
	}
}

func TestActivityEndsAuditEvenWithOverride(t *testing.T) {
	clock := newFakeClock()
	store := newStore(t)
	d := newDetector(store, clock)
	d.RecordActivity()
	clock.Advance(5 * time.Minute)
	d.Check()

	if err := store.WriteAuditState(ipc.AuditState{Active: true}); err != nil {
		t.Fatal(err)
	}
	if !d.RecordActivity() {
		t.Fatal("activity should end auditing regardless of override")
	}
}

func TestRestartRestoresClassification(t *testing.T) {
	clock := newFakeClock()
	store := newStore(t)
	first := newDetector(store, clock)
	first.RecordActivity()
	recorded := first.LastActivity()

	clock.Advance(7 * time.Minute)
	second := newDetector(store, clock)
	if !second.LastActivity().Equal(recorded) {
		t.Fatalf("restored last activity %v, want %v", second.LastActivity(), recorded)
	}
	if !second.CheckIdle() {
		t.Fatal("restarted detector should see the workspace as idle")
	}
	if got := second.IdleMinutes(); got != 7 {
		t.Fatalf("IdleMinutes after restart = %d, want 7", got)
	}
}

func TestMissingActivityFileStartsFromNow(t *testing.T) {
	clock := newFakeClock()
	d := newDetector(newStore(t), clock)
	if !d.LastActivity().Equal(clock.Now()) {
		t.Fatalf("expected last activity at construction time, got %v", d.LastActivity())
	}
	if d.CheckIdle() {
		t.Fatal("fresh detector should not be idle")
	}
}

func TestLastActivityNeverRewinds(t *testing.T) {
	clock := newFakeClock()
	d := newDetector(newStore(t), clock)
	d.RecordActivity()
	ahead := d.LastActivity()

	clock.Set(ahead.Add(-time.Hour))
	d.RecordActivity()
	if !d.LastActivity().Equal(ahead) {
		t.Fatalf("last activity rewound to %v", d.LastActivity())
	}
}

func TestStartStopIdempotent(t *testing.T) {
	clock := newFakeClock()
	d := audit.New(newStore(t), audit.Options{
		Timeout:       5 * time.Minute,
		CheckInterval: 5 * time.Millisecond,
		Now:           clock.Now,
		Logger:        logging.NewNop(),
	})

	d.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	d.Start(ctx)

	clock.Advance(10 * time.Minute)
	select {
	case ev := <-d.Events():
		if ev.Type != audit.EventAuditStart {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("periodic check never started an audit")
	}

	d.Stop()
	d.Stop()
	if !d.Auditing() {
		t.Fatal("Stop must not change the classification")
	}
}
