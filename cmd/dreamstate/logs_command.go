package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"dreamstate/internal/logging"
	"dreamstate/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the current daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if lines < 0 {
				return fmt.Errorf("--lines must be zero or positive")
			}
			store, err := ctx.store()
			if err != nil {
				return err
			}
			path := filepath.Join(store.LogDir(), logging.CurrentLogName)
			stdout := cmd.OutOrStdout()

			tail, pos, err := logs.LastLines(path, lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(stdout, line)
			}
			if !follow {
				if len(tail) == 0 && pos.Offset == 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "No daemon log at %s\n", path)
				}
				return nil
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			err = logs.Follow(runCtx, path, pos, 0, func(line string) {
				fmt.Fprintln(stdout, line)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new log lines until interrupted")
	return cmd
}
