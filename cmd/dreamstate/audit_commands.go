package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dreamstate/internal/daemonctl"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Control the manual audit override",
	}

	onCmd := &cobra.Command{
		Use:         "on",
		Short:       "Hold the workspace out of audit until turned off",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := ctx.store()
			if err != nil {
				return err
			}
			if err := store.EnsureLayout(); err != nil {
				return err
			}
			if err := daemonctl.SetManualAudit(store, true); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Manual audit override enabled")
			return nil
		},
	}

	offCmd := &cobra.Command{
		Use:         "off",
		Short:       "Clear the manual audit override",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := ctx.store()
			if err != nil {
				return err
			}
			if err := daemonctl.SetManualAudit(store, false); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Manual audit override cleared")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the audit classification and override",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := ctx.store()
			if err != nil {
				return err
			}
			snap, err := daemonctl.BuildStatusSnapshot(store, time.Now())
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			fmt.Fprintln(stdout, renderStatusLine("Manual Override", statusInfo, yesNo(snap.ManualOverride), colorize))
			if snap.Status == nil || !snap.Running {
				fmt.Fprintln(stdout, renderStatusLine("State", statusWarn, "Unknown (daemon not running)", colorize))
				return nil
			}
			state := "active"
			if snap.Status.Auditing {
				state = "auditing"
			}
			fmt.Fprintln(stdout, renderStatusLine("State", statusInfo, humanLabel(state), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Idle Minutes", statusInfo, fmt.Sprintf("%d", snap.Status.IdleMinutes), colorize))
			return nil
		},
	}

	auditCmd.AddCommand(onCmd, offCmd, statusCmd)
	return auditCmd
}
