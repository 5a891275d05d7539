package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dreamstate/internal/ipc"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and enqueue daemon tasks",
	}
	taskCmd.AddCommand(newTaskAddCommand(ctx))
	taskCmd.AddCommand(newTaskListCommand(ctx))
	return taskCmd
}

func newTaskAddCommand(ctx *commandContext) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:         "add <type>",
		Short:       "Enqueue a task without waiting for its result",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			taskType := ipc.TaskType(strings.TrimSpace(args[0]))
			if taskType == "" {
				return fmt.Errorf("task type is required")
			}
			var body any
			if strings.TrimSpace(payload) != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("payload must be valid JSON")
				}
				body = json.RawMessage(payload)
			}
			store, err := ctx.store()
			if err != nil {
				return err
			}
			task, err := ipc.NewTask(taskType, body, time.Now())
			if err != nil {
				return err
			}
			if err := store.EnqueueTask(task); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), task.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload for the task")
	return cmd
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "list",
		Short:       "List pending tasks in processing order",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := ctx.store()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			tasks := store.PendingTasks()
			if len(tasks) == 0 {
				fmt.Fprintln(stdout, "No pending tasks")
				return nil
			}
			fmt.Fprint(stdout, renderTaskTable(tasks))
			return nil
		},
	}
}
