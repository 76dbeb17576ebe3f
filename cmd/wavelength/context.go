package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/1ureka/wavelength/internal/config"
	"github.com/1ureka/wavelength/internal/util"
)

const skipConfigLoad = "skipConfigLoad"

type commandContext struct {
	configFlag *string
	debugFlag  *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, debugFlag *bool) *commandContext {
	return &commandContext{configFlag: configFlag, debugFlag: debugFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}

		util.SetLevel(cfg.Logging.Level)
		if c.debugFlag != nil && *c.debugFlag {
			util.EnableDebug()
		}
		if exists {
			util.LogDebug("loaded config %s", resolved)
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for cur := cmd; cur != nil; cur = cur.Parent() {
		if cur.Annotations[skipConfigLoad] == "true" {
			return true
		}
	}
	return false
}
