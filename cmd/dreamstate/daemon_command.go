package main

import (
	"github.com/spf13/cobra"

	"dreamstate/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:          "daemon",
		Short:        "Run the dreamstate daemon in the foreground (internal)",
		Hidden:       true,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), ctx.workspace, cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
				Stdout:      true,
				ConfigError: ctx.configWarning,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in log output")
	return cmd
}
