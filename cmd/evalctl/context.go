package main

import (
	"context"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"speecheval/internal/api"
	"speecheval/internal/config"
	"speecheval/internal/queue"
	"speecheval/internal/queueaccess"
)

// skipConfigKey marks commands that must run without a loaded config.
const skipConfigKey = "evalctl/skip-config"

func configless() map[string]string {
	return map[string]string{skipConfigKey: "true"}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigKey] == "true" {
			return true
		}
	}
	return false
}

// commandContext loads the configuration once per invocation and hands out
// job access to subcommands.
type commandContext struct {
	configFlag *string

	once       sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) flagPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		cfg, resolved, _, err := config.Load(c.flagPath())
		if err == nil {
			err = cfg.EnsureDirectories()
		}
		if err != nil {
			c.configErr = err
			return
		}
		c.config, c.configPath = cfg, resolved
	})
	return c.config, c.configErr
}

// withAccess runs fn against the daemon API, or the job database when no
// daemon answers.
func (c *commandContext) withAccess(ctx context.Context, fn func(queueaccess.Session) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	session, err := queueaccess.OpenWithFallback(cfg,
		func() (*api.Client, error) { return api.Dial(ctx, cfg) },
		func() (*queue.Store, error) { return queue.Open(cfg) },
	)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session)
}

// withStore opens the job database directly.
func (c *commandContext) withStore(fn func(*config.Config, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
