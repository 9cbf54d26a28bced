// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

// Package config loads and validates the bridge configuration using koanf.
// Precedence, lowest to highest: built-in defaults, a YAML config file,
// ELIFE_-prefixed environment variables (double underscore separates
// nesting levels, e.g. ELIFE_ACCOUNT__EMAIL).
package config

import (
	"time"
)

// Config is the root configuration for the bridge.
type Config struct {
	Account AccountConfig `koanf:"account"`
	API     APIConfig     `koanf:"api"`
	Push    PushConfig    `koanf:"push"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// AccountConfig holds the cloud account credentials.
type AccountConfig struct {
	// Email is the e-Life account email.
	Email string `koanf:"email"`

	// Password is the e-Life account password. It is encrypted with the
	// protocol cipher before it ever leaves the process.
	Password string `koanf:"password"`

	// DeviceID is the stable client identifier sent with every login.
	// Generated once (UUIDv4) and persisted alongside the config file when
	// left empty.
	DeviceID string `koanf:"device_id"`
}

// APIConfig configures the cloud HTTP transport.
type APIConfig struct {
	// Origin is the fixed API origin all request paths are appended to.
	Origin string `koanf:"origin"`

	// Timeout applies to every individual HTTP request.
	Timeout time.Duration `koanf:"timeout"`

	// RetryMax is the retry budget for requests answered with a status on
	// the 500/502/503/504 allowlist. Retries apply to all calls; the
	// protocol does not distinguish idempotent ones.
	RetryMax int `koanf:"retry_max"`

	// RetryBackoff is the backoff factor between retries (first retry is
	// immediate, then factor*2, factor*4, ...).
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// RateLimit caps outgoing requests per second; RateBurst is the burst
	// allowance.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// PushConfig configures the push-channel synchronization engine.
type PushConfig struct {
	// URL is the websocket endpoint of the push channel.
	URL string `koanf:"url"`

	// Categories are the device categories named in the subscribe frame.
	Categories []string `koanf:"categories"`

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`

	// ExpiryCooldown is the protocol-mandated fixed wait after the channel
	// reports an expired cloud token, before re-authenticating. Not a
	// backoff; the protocol expects a flat delay.
	ExpiryCooldown time.Duration `koanf:"expiry_cooldown"`

	// ReconnectMin/ReconnectMax bound the exponential backoff applied to
	// transient transport failures.
	ReconnectMin time.Duration `koanf:"reconnect_min"`
	ReconnectMax time.Duration `koanf:"reconnect_max"`
}

// ServerConfig configures the local observability HTTP listener.
type ServerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Account: AccountConfig{},
		API: APIConfig{
			Origin:       "https://smartelife.apt.co.kr",
			Timeout:      15 * time.Second,
			RetryMax:     3,
			RetryBackoff: 5 * time.Second,
			RateLimit:    5,
			RateBurst:    10,
		},
		Push: PushConfig{
			URL: "wss://smartelife.apt.co.kr/ws/data",
			Categories: []string{
				"light", "heat", "alloffswitch", "smartdoor", "aircon",
			},
			HandshakeTimeout: 10 * time.Second,
			ExpiryCooldown:   60 * time.Second,
			ReconnectMin:     1 * time.Second,
			ReconnectMax:     32 * time.Second,
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8573,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
