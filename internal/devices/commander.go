// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

// Package devices builds and executes the cloud's device commands: the two
// control endpoints, the elevator call envelope, status queries, and the car
// location listing. Adapters call these instead of shaping request bodies
// themselves.
package devices

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/hyun-k/elife/internal/catalog"
	"github.com/hyun-k/elife/internal/logging"
	"github.com/hyun-k/elife/internal/metrics"
	"github.com/hyun-k/elife/internal/state"
)

// Executor runs one authenticated ajax call. Satisfied by session.Manager.
type Executor interface {
	Execute(ctx context.Context, path string, body any) (json.RawMessage, error)
}

// CommandError reports a command the service accepted but refused to carry
// out (result false).
type CommandError struct {
	Path string
	UID  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("devices: %s rejected for %s", e.Path, e.UID)
}

// Commander executes device commands through a session-managed executor.
type Commander struct {
	exec Executor
}

// NewCommander wraps an executor.
func NewCommander(exec Executor) *Commander {
	return &Commander{exec: exec}
}

// Control posts an operation delta to a single device. Heat and aircon
// commands go through here ({"operation": {...}} body shape).
func (c *Commander) Control(ctx context.Context, t catalog.DeviceType, uid string, op catalog.Operation) error {
	body := map[string]any{
		"type":      string(t),
		"uid":       uid,
		"operation": op,
	}
	return c.postChecked(ctx, "/device/control.ajax", uid, body)
}

// ControlAll posts a bare on/off control to a single device. Lights use
// this endpoint and body shape.
func (c *Commander) ControlAll(ctx context.Context, t catalog.DeviceType, uid, control string) error {
	body := map[string]any{
		"type":    string(t),
		"uid":     uid,
		"control": control,
	}
	return c.postChecked(ctx, "/device/control/all.ajax", uid, body)
}

// AllOff toggles the all-off switch. Same endpoint as ControlAll plus the
// is_control_all marker the switch requires.
func (c *Commander) AllOff(ctx context.Context, uid, control string) error {
	body := map[string]any{
		"type":           string(catalog.TypeAllOffSwitch),
		"uid":            uid,
		"control":        control,
		"is_control_all": "N",
	}
	return c.postChecked(ctx, "/device/control/all.ajax", uid, body)
}

// CallElevator issues the one-shot elevator call. The endpoint speaks the
// enveloped command dialect rather than the flat control one.
func (c *Commander) CallElevator(ctx context.Context, uid string) error {
	body := map[string]any{
		"header": map[string]string{
			"category": "elevator",
			"type":     "call",
			"command":  "control_request",
		},
		"data": map[string]any{
			"uid":       uid,
			"operation": catalog.Operation{"control": "down"},
		},
	}
	// the call is fire-and-forget; the service acknowledges without a result
	_, err := c.exec.Execute(ctx, "/common/data.ajax", body)
	if err != nil {
		return fmt.Errorf("devices: call elevator %s: %w", uid, err)
	}
	return nil
}

// DeviceStatus queries the live operation snapshot of one device.
func (c *Commander) DeviceStatus(ctx context.Context, uid string, t catalog.DeviceType) (catalog.Operation, error) {
	raw, err := c.exec.Execute(ctx, "/controls/device/status.ajax", map[string]string{
		"uid":  uid,
		"type": string(t),
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result bool            `json:"result"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("devices: parse status response for %s: %w", uid, err)
	}
	if !resp.Result || len(resp.Data) == 0 {
		return nil, &CommandError{Path: "/controls/device/status.ajax", UID: uid}
	}

	// data is either the operation map itself or a record wrapping one
	var wrapped struct {
		Operation catalog.Operation `json:"operation"`
	}
	if err := json.Unmarshal(resp.Data, &wrapped); err == nil && wrapped.Operation != nil {
		return wrapped.Operation, nil
	}
	var op catalog.Operation
	if err := json.Unmarshal(resp.Data, &op); err != nil {
		return nil, fmt.Errorf("devices: parse status data for %s: %w", uid, err)
	}
	return op, nil
}

// CarLocation is one parked-car registry entry.
type CarLocation struct {
	CarNo    string `json:"car_no"`
	Location string `json:"location"`
}

// CarLocations lists the household's parked cars.
func (c *Commander) CarLocations(ctx context.Context) ([]CarLocation, error) {
	body := map[string]any{
		"header": map[string]string{
			"category": "car",
			"type":     "location",
			"command":  "search_request",
		},
		"data": map[string]any{},
	}
	raw, err := c.exec.Execute(ctx, "/monitoring/locationList.ajax", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
		Data struct {
			List []CarLocation `json:"list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("devices: parse car location response: %w", err)
	}
	if resp.Result.Status != "ok" && resp.Result.Status != "success" {
		return nil, fmt.Errorf("devices: car location listing returned status %q", resp.Result.Status)
	}
	return resp.Data.List, nil
}

// Backfill runs the one-shot setup pass for heat devices whose initial
// catalog snapshot shipped without a control field, filling them in from a
// live status query. Failures are logged and skipped; the page sometimes
// omits operations the status endpoint also cannot serve.
func (c *Commander) Backfill(ctx context.Context, store *state.Store) {
	for _, rec := range store.Snapshot(catalog.TypeHeat) {
		if rec.Operation.HasControl() {
			continue
		}
		op, err := c.DeviceStatus(ctx, rec.UID, catalog.TypeHeat)
		if err != nil {
			metrics.BackfillTotal.WithLabelValues("failure").Inc()
			logging.Warn().Err(err).Str("uid", rec.UID).Msg("status backfill failed")
			continue
		}
		store.ApplyDelta(rec.UID, op)
		metrics.BackfillTotal.WithLabelValues("success").Inc()
		logging.Debug().Str("uid", rec.UID).Msg("backfilled device status")
	}
}

// postChecked posts a command body and fails when the service reports
// result false.
func (c *Commander) postChecked(ctx context.Context, path, uid string, body any) error {
	raw, err := c.exec.Execute(ctx, path, body)
	if err != nil {
		return fmt.Errorf("devices: %s for %s: %w", path, uid, err)
	}
	var resp struct {
		Result bool `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("devices: parse %s response: %w", path, err)
	}
	if !resp.Result {
		return &CommandError{Path: path, UID: uid}
	}
	return nil
}
