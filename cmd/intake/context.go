package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"intake/internal/backlog"
	"intake/internal/client"
	"intake/internal/config"
)

type commandContext struct {
	configFlag *string
	serverFlag *string
	holderFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, serverFlag, holderFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		serverFlag: serverFlag,
		holderFlag: holderFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.serverFlag != nil && strings.TrimSpace(*c.serverFlag) != "" {
			cfg.Operator.ServerURL = strings.TrimSpace(*c.serverFlag)
		}
		if c.holderFlag != nil && strings.TrimSpace(*c.holderFlag) != "" {
			cfg.Operator.Holder = strings.TrimSpace(*c.holderFlag)
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// newClient builds an API client acting as the configured operator.
func (c *commandContext) newClient() (*client.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Operator.Holder) == "" {
		return nil, errors.New("operator identity is required (use --holder, INTAKE_HOLDER, or [operator].holder)")
	}
	return client.NewFromConfig(cfg)
}

// withStore opens the backlog database directly for maintenance commands.
func (c *commandContext) withStore(fn func(*backlog.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := backlog.Open(cfg)
	if err != nil {
		return fmt.Errorf("open backlog: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func (c *commandContext) wrapClientError(err error) error {
	if err == nil {
		return nil
	}
	if client.IsAPIUnavailable(err) {
		server := ""
		if cfg := c.configValue(); cfg != nil {
			server = cfg.Operator.ServerURL
		}
		return fmt.Errorf("connect to lease server %s: unreachable; start it with `intaked` or check --server", server)
	}
	return err
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
