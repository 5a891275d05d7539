package ipc

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskType identifies how the daemon handles a task.
type TaskType string

const (
	TaskPing       TaskType = "ping"
	TaskFileChange TaskType = "file-change"
	TaskReflect    TaskType = "reflect"
)

// Task is one unit of work, persisted as tasks/<id>.json until consumed.
type Task struct {
	ID        string          `json:"id"`
	Type      TaskType        `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt Timestamp       `json:"createdAt"`
}

// DecodePayload unmarshals the task payload into v.
func (t Task) DecodePayload(v any) error {
	if len(t.Payload) == 0 {
		return fmt.Errorf("task %s has no payload", t.ID)
	}
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Type, err)
	}
	return nil
}

// TaskResult is the outcome of one task. Exactly one of Result and Error is
// set, matching Success.
type TaskResult struct {
	TaskID      string          `json:"taskId"`
	Success     bool            `json:"success"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}

// DecodeResult unmarshals the result payload into v.
func (r TaskResult) DecodeResult(v any) error {
	if len(r.Result) == 0 {
		return fmt.Errorf("result %s has no payload", r.TaskID)
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("decode result %s: %w", r.TaskID, err)
	}
	return nil
}

// SuccessResult builds a successful result carrying v as its payload.
func SuccessResult(taskID string, v any, completedAt time.Time) (TaskResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return TaskResult{}, fmt.Errorf("encode result for %s: %w", taskID, err)
	}
	return TaskResult{
		TaskID:      taskID,
		Success:     true,
		Result:      data,
		CompletedAt: completedAt.UTC(),
	}, nil
}

// FailureResult builds a failed result with a human-readable message.
func FailureResult(taskID, message string, completedAt time.Time) TaskResult {
	return TaskResult{
		TaskID:      taskID,
		Success:     false,
		Error:       message,
		CompletedAt: completedAt.UTC(),
	}
}

// DaemonStatus is the heartbeat snapshot stored in daemon.status.
type DaemonStatus struct {
	PID            int       `json:"pid"`
	StartedAt      time.Time `json:"startedAt"`
	LastActivity   time.Time `json:"lastActivity"`
	Uptime         int64     `json:"uptime"`
	Watching       []string  `json:"watching"`
	TasksProcessed int64     `json:"tasksProcessed"`

	Auditing          bool `json:"auditing"`
	IdleMinutes       int  `json:"idleMinutes"`
	MinutesUntilAudit int  `json:"minutesUntilAudit"`
}

// UptimeDuration converts the millisecond uptime to a duration.
func (s DaemonStatus) UptimeDuration() time.Duration {
	return time.Duration(s.Uptime) * time.Millisecond
}

// AuditState is the manual audit override stored in audit.state.
type AuditState struct {
	Active bool `json:"active"`
}

// PingResult is the result payload of a ping task.
type PingResult struct {
	Pong    bool   `json:"pong"`
	Uptime  int64  `json:"uptime"`
	Message string `json:"message"`
}

// FileChangePayload is the payload of a file-change task.
type FileChangePayload struct {
	FilePath string `json:"filePath"`
}
