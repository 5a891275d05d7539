package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dreamstate/internal/config"
	"dreamstate/internal/daemonctl"
)

const (
	stopGracePeriod  = 5 * time.Second
	startWaitTimeout = 10 * time.Second
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the dreamstate daemon for the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			store, err := ctx.store()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(store, exe, ctx.launchOptions(startLogLevel), startWaitTimeout)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override the configured log level")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the dreamstate daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			store, err := ctx.store()
			if err != nil {
				return err
			}
			result, err := daemonctl.StopAndTerminate(store, stopGracePeriod)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon ignored SIGTERM; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var restartLogLevel string
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the dreamstate daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			store, err := ctx.store()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(store, exe, ctx.launchOptions(restartLogLevel), stopGracePeriod, startWaitTimeout)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Daemon ignored SIGTERM; killed pid %d\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintf(stdout, "Daemon restarted (pid %d)\n", result.Start.PID)
			return nil
		},
	}
	restartCmd.Flags().StringVar(&restartLogLevel, "log-level", "", "Override the configured log level")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and audit status for the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.store()
			if err != nil {
				return err
			}
			snap, err := daemonctl.BuildStatusSnapshot(store, time.Now())
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			printStatus(stdout, snap, ctx.configValue(), ctx.workspace, shouldColorize(stdout))
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func printStatus(w io.Writer, snap daemonctl.Snapshot, cfg *config.Config, workspace string, colorize bool) {
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, renderStatusLine("Workspace", statusInfo, workspace, colorize))
	switch {
	case snap.Running:
		fmt.Fprintln(w, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", snap.PID), colorize))
	case snap.StalePID:
		fmt.Fprintln(w, renderStatusLine("Daemon", statusWarn, fmt.Sprintf("Not running (stale pid %d; run `dreamstate start`)", snap.PID), colorize))
	default:
		fmt.Fprintln(w, renderStatusLine("Daemon", statusWarn, "Not running (run `dreamstate start`)", colorize))
	}
	for _, warning := range snap.Warnings {
		fmt.Fprintln(w, renderStatusLine("Warning", statusWarn, warning+" (ignored)", colorize))
	}

	status := snap.Status
	if status == nil {
		fmt.Fprintln(w, renderStatusLine("Heartbeat", statusInfo, "No status written yet", colorize))
		return
	}

	heartbeatKind := statusOK
	if !snap.Running || snap.StatusAge > 3*cfg.StatusInterval() {
		heartbeatKind = statusWarn
	}
	fmt.Fprintln(w, renderStatusLine("Heartbeat", heartbeatKind, formatDuration(snap.StatusAge)+" ago", colorize))
	if snap.Running {
		fmt.Fprintln(w, renderStatusLine("Uptime", statusInfo, formatDuration(status.UptimeDuration()), colorize))
	}
	fmt.Fprintln(w, renderStatusLine("Tasks Processed", statusInfo, fmt.Sprintf("%d", status.TasksProcessed), colorize))
	watching := "none"
	if len(status.Watching) > 0 {
		watching = strings.Join(status.Watching, ", ")
	}
	fmt.Fprintln(w, renderStatusLine("Watching", statusInfo, watching, colorize))
	fmt.Fprintln(w)

	for _, line := range renderSectionHeader("Activity", colorize) {
		fmt.Fprintln(w, line)
	}
	state := "active"
	stateKind := statusOK
	if status.Auditing {
		state = "auditing"
		stateKind = statusInfo
	}
	fmt.Fprintln(w, renderStatusLine("State", stateKind, humanLabel(state), colorize))
	fmt.Fprintln(w, renderStatusLine("Last Activity", statusInfo, formatTimestamp(status.LastActivity), colorize))
	fmt.Fprintln(w, renderStatusLine("Idle Minutes", statusInfo, fmt.Sprintf("%d", status.IdleMinutes), colorize))
	if !status.Auditing {
		fmt.Fprintln(w, renderStatusLine("Audit In", statusInfo, fmt.Sprintf("%d min", status.MinutesUntilAudit), colorize))
	}
	overrideKind := statusInfo
	if snap.ManualOverride {
		overrideKind = statusWarn
	}
	fmt.Fprintln(w, renderStatusLine("Manual Override", overrideKind, yesNo(snap.ManualOverride), colorize))
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func (c *commandContext) launchOptions(logLevel string) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		Workspace: c.workspace,
		LogLevel:  strings.TrimSpace(logLevel),
	}
}
