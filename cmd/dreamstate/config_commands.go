package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"dreamstate/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigValidateCommand(ctx))

	return configCmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file in the workspace",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				workspace, err := ctx.resolveWorkspace()
				if err != nil {
					return err
				}
				target = config.ConfigPath(workspace)
			} else {
				abs, err := filepath.Abs(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = abs
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	var asTOML bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			var (
				data []byte
				err  error
			)
			if asTOML {
				data, err = toml.Marshal(cfg)
			} else {
				data, err = json.MarshalIndent(cfg, "", "  ")
				data = append(data, '\n')
			}
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			stdout := cmd.OutOrStdout()
			source := "defaults (no config file)"
			if ctx.configExists {
				source = ctx.configPath
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "# source: %s\n", source)
			_, err = stdout.Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&asTOML, "toml", false, "Print as TOML instead of JSON")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate the workspace configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := ctx.resolveWorkspace()
			if err != nil {
				return err
			}
			_, path, exists, err := config.Load(workspace)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if !exists {
				fmt.Fprintf(stdout, "No config file at %s; defaults are valid\n", path)
				return nil
			}
			fmt.Fprintf(stdout, "Configuration valid: %s\n", path)
			return nil
		},
	}
}
