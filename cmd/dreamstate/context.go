package main

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"dreamstate/internal/config"
	"dreamstate/internal/ipc"
	"dreamstate/internal/logging"
)

type commandContext struct {
	workspaceFlag *string

	configOnce    sync.Once
	workspace     string
	config        *config.Config
	configPath    string
	configExists  bool
	configErr     error
	configWarning error
}

func newCommandContext(workspaceFlag *string) *commandContext {
	return &commandContext{workspaceFlag: workspaceFlag}
}

// ensureConfig resolves the workspace and loads its config once. A config
// file that cannot be parsed or holds invalid values is reported on warn and
// the affected settings fall back to defaults.
func (c *commandContext) ensureConfig(warn io.Writer) (*config.Config, error) {
	c.configOnce.Do(func() {
		workspace, err := c.resolveWorkspace()
		if err != nil {
			c.configErr = err
			return
		}
		cfg, path, exists, err := config.Load(workspace)
		c.configPath = path
		c.configExists = exists
		if err != nil {
			if !errors.Is(err, config.ErrMalformed) {
				c.configErr = err
				return
			}
			if warn != nil {
				fmt.Fprintf(warn, "warn: %v; using defaults\n", err)
			}
			c.configWarning = err
			if cfg == nil {
				defaults := config.Default()
				cfg = &defaults
			}
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig(nil)
	if cfg == nil {
		defaults := config.Default()
		return &defaults
	}
	return cfg
}

func (c *commandContext) resolveWorkspace() (string, error) {
	if c.workspace != "" {
		return c.workspace, nil
	}
	var explicit string
	if c.workspaceFlag != nil {
		explicit = *c.workspaceFlag
	}
	workspace, err := config.ResolveWorkspace(explicit)
	if err != nil {
		return "", err
	}
	c.workspace = workspace
	return workspace, nil
}

// store returns the file transport for the resolved workspace.
func (c *commandContext) store() (*ipc.Store, error) {
	workspace, err := c.resolveWorkspace()
	if err != nil {
		return nil, err
	}
	return ipc.NewStore(config.StateDir(workspace), logging.NewNop()), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
