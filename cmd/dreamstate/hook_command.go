package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dreamstate/internal/daemonctl"
)

// newHookCommand is the agent session-start hook. It must return quickly, so
// it launches the daemon without waiting for it to come up.
func newHookCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "hook",
		Short:       "Session-start hook: launch the daemon if it is not running",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			stdout := cmd.OutOrStdout()
			store, err := ctx.store()
			if err != nil {
				return err
			}
			if alive, pid, err := daemonctl.ProcessInfo(store); err == nil && alive {
				fmt.Fprintf(stdout, "[dreamstate] Daemon running (PID: %d)\n", pid)
				return nil
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			pid, err := daemonctl.Launch(exe, ctx.launchOptions(""))
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "[dreamstate] Daemon started (PID: %d)\n", pid)
			return nil
		},
	}
}
