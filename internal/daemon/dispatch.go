package daemon

import (
	"context"
	"fmt"
	"time"

	"dreamstate/internal/history"
	"dreamstate/internal/ipc"
	"dreamstate/internal/logging"
)

// Handler processes one task and returns the value stored as its result.
type Handler func(ctx context.Context, task ipc.Task) (any, error)

const pingMessage = "Daemon is alive!"

// Register installs h for taskType, replacing any previous handler.
func (d *Daemon) Register(taskType ipc.TaskType, h Handler) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	if h == nil {
		delete(d.handlers, taskType)
		return
	}
	d.handlers[taskType] = h
}

func (d *Daemon) handler(taskType ipc.TaskType) (Handler, bool) {
	d.handlersMu.RLock()
	defer d.handlersMu.RUnlock()
	h, ok := d.handlers[taskType]
	return h, ok
}

func (d *Daemon) handlePing(context.Context, ipc.Task) (any, error) {
	return ipc.PingResult{
		Pong:    true,
		Uptime:  d.Uptime().Milliseconds(),
		Message: pingMessage,
	}, nil
}

// pollTasks processes every pending task in order. A task whose result
// cannot be written stays pending and is retried on the next poll.
func (d *Daemon) pollTasks(ctx context.Context) {
	for _, task := range d.queue.PendingTasks() {
		if ctx.Err() != nil {
			return
		}
		d.processTask(ctx, task)
	}
}

func (d *Daemon) processTask(ctx context.Context, task ipc.Task) {
	started := d.now()
	result := d.dispatch(ctx, task)

	if err := d.queue.WriteResult(result); err != nil {
		logging.WarnWithContext(d.logger, "result write failed", "result_write_failed",
			logging.String(logging.FieldTaskID, task.ID),
			logging.String(logging.FieldTaskType, string(task.Type)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "task stays pending and is retried on the next poll"),
			logging.String(logging.FieldErrorHint, "check disk space and permissions on the results directory"),
		)
		return
	}
	if err := d.queue.ConsumeTask(task.ID); err != nil {
		logging.WarnWithContext(d.logger, "task file removal failed", "task_consume_failed",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "task may be processed again"),
			logging.String(logging.FieldErrorHint, "check permissions on the tasks directory"),
		)
	}

	d.tasksProcessed.Add(1)
	d.recordActivity()
	d.writeStatus()
	d.recordHistory(ctx, task, result, started)

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "task_processed"),
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldTaskType, string(task.Type)),
		logging.Bool("success", result.Success),
		logging.Duration("duration", result.CompletedAt.Sub(started)),
	}
	if !result.Success {
		attrs = append(attrs, logging.String("error", result.Error))
	}
	d.logger.Info("task processed", logging.Args(attrs...)...)
}

func (d *Daemon) dispatch(ctx context.Context, task ipc.Task) ipc.TaskResult {
	h, ok := d.handler(task.Type)
	if !ok {
		return ipc.FailureResult(task.ID, fmt.Sprintf("Unknown task type: %s", task.Type), d.now())
	}
	value, err := h(ctx, task)
	if err != nil {
		return ipc.FailureResult(task.ID, err.Error(), d.now())
	}
	result, err := ipc.SuccessResult(task.ID, value, d.now())
	if err != nil {
		return ipc.FailureResult(task.ID, err.Error(), d.now())
	}
	return result
}

func (d *Daemon) recordHistory(ctx context.Context, task ipc.Task, result ipc.TaskResult, started time.Time) {
	if d.history == nil {
		return
	}
	entry := history.Entry{
		TaskID:      task.ID,
		TaskType:    string(task.Type),
		Success:     result.Success,
		Error:       result.Error,
		CreatedAt:   task.CreatedAt.Time,
		CompletedAt: result.CompletedAt,
		Duration:    result.CompletedAt.Sub(started),
	}
	if err := d.history.Record(context.WithoutCancel(ctx), entry); err != nil {
		d.logger.Warn("history record failed",
			logging.String(logging.FieldEventType, "history_record_failed"),
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "task is missing from dreamstate history"),
			logging.String(logging.FieldErrorHint, "check .dreamstate/history.db"),
		)
	}
}

// handleFileChange counts a settled edit as activity. File-change tasks carry
// no result because nothing waits on them.
func (d *Daemon) handleFileChange(task ipc.Task) {
	var payload ipc.FileChangePayload
	if err := task.DecodePayload(&payload); err != nil {
		d.logger.Debug("ignoring file-change task without payload",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err),
		)
		return
	}
	ended := false
	if d.detector != nil {
		ended = d.detector.RecordActivity()
	}
	d.logger.Info("file changed",
		logging.String(logging.FieldEventType, "file_changed"),
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldPath, payload.FilePath),
	)
	if ended {
		d.writeStatus()
	}
}
