// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for values the bridge cannot run with.
// Validators run in order and the first failure is returned.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateAccount,
		c.validateAPI,
		c.validatePush,
		c.validateServer,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

func (c *Config) validateAccount() error {
	if strings.TrimSpace(c.Account.Email) == "" {
		return fmt.Errorf("account.email is required")
	}
	if !strings.Contains(c.Account.Email, "@") {
		return fmt.Errorf("account.email %q is not an email address", c.Account.Email)
	}
	if c.Account.Password == "" {
		return fmt.Errorf("account.password is required")
	}
	return nil
}

func (c *Config) validateAPI() error {
	u, err := url.Parse(c.API.Origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.origin %q is not an http(s) URL", c.API.Origin)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.API.RetryMax < 0 {
		return fmt.Errorf("api.retry_max must not be negative")
	}
	if c.API.RateLimit <= 0 || c.API.RateBurst < 1 {
		return fmt.Errorf("api.rate_limit must be positive and api.rate_burst at least 1")
	}
	return nil
}

func (c *Config) validatePush() error {
	u, err := url.Parse(c.Push.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("push.url %q is not a ws(s) URL", c.Push.URL)
	}
	if len(c.Push.Categories) == 0 {
		return fmt.Errorf("push.categories must not be empty")
	}
	if c.Push.ExpiryCooldown <= 0 {
		return fmt.Errorf("push.expiry_cooldown must be positive")
	}
	if c.Push.ReconnectMin <= 0 || c.Push.ReconnectMax < c.Push.ReconnectMin {
		return fmt.Errorf("push.reconnect_min/reconnect_max must be positive and ordered")
	}
	return nil
}

func (c *Config) validateServer() error {
	if !c.Server.Enabled {
		return nil
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}
