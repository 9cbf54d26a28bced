// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// deviceIDFile is the sidecar file that persists the generated client
// identifier next to the config file. The cloud service keys push sessions
// to it, so it must survive restarts.
const deviceIDFile = ".elife-device-id"

// EnsureDeviceID fills in Account.DeviceID. Resolution order: the config
// value itself, the sidecar file next to configPath, a freshly generated
// UUIDv4 (persisted to the sidecar, best effort when configPath is empty).
func EnsureDeviceID(cfg *Config, configPath string) error {
	if cfg.Account.DeviceID != "" {
		return nil
	}

	sidecar := sidecarPath(configPath)
	if b, err := os.ReadFile(sidecar); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			cfg.Account.DeviceID = id
			return nil
		}
	}

	cfg.Account.DeviceID = uuid.NewString()
	if err := os.WriteFile(sidecar, []byte(cfg.Account.DeviceID+"\n"), 0o600); err != nil {
		return fmt.Errorf("persist device id: %w", err)
	}
	return nil
}

func sidecarPath(configPath string) string {
	dir := "."
	if configPath != "" {
		dir = filepath.Dir(configPath)
	}
	return filepath.Join(dir, deviceIDFile)
}
