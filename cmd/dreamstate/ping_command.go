package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dreamstate/internal/daemonctl"
)

func newPingCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:         "ping",
		Short:       "Send a ping task and wait for the daemon's answer",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := ctx.store()
			if err != nil {
				return err
			}
			resp, err := daemonctl.Ping(cmd.Context(), store, timeout)
			if err != nil {
				if errors.Is(err, daemonctl.ErrPingTimeout) {
					if alive, _, _ := daemonctl.ProcessInfo(store); !alive {
						return fmt.Errorf("%w: daemon is not running (run `dreamstate start`)", err)
					}
				}
				return err
			}
			stdout := cmd.OutOrStdout()
			fmt.Fprintln(stdout, resp.Result.Message)
			fmt.Fprintf(stdout, "Round trip: %s, daemon uptime: %s\n",
				formatDuration(resp.RoundTrip),
				formatDuration(time.Duration(resp.Result.Uptime)*time.Millisecond),
			)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "How long to wait for the result")
	return cmd
}
