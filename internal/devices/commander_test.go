// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

package devices

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"github.com/hyun-k/elife/internal/catalog"
	"github.com/hyun-k/elife/internal/state"
)

// fakeExecutor records commands and replays canned responses per path.
type fakeExecutor struct {
	calls     []call
	responses map[string]string
	err       error
}

type call struct {
	path string
	body map[string]any
}

func (f *fakeExecutor) Execute(_ context.Context, path string, body any) (json.RawMessage, error) {
	raw, _ := json.Marshal(body)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	f.calls = append(f.calls, call{path: path, body: m})
	if f.err != nil {
		return nil, f.err
	}
	if resp, ok := f.responses[path]; ok {
		return json.RawMessage(resp), nil
	}
	return json.RawMessage(`{"result":true}`), nil
}

func (f *fakeExecutor) lastCall(t *testing.T) call {
	t.Helper()
	if len(f.calls) == 0 {
		t.Fatal("no command was executed")
	}
	return f.calls[len(f.calls)-1]
}

func TestControlBodyShape(t *testing.T) {
	exec := &fakeExecutor{}
	c := NewCommander(exec)

	err := c.Control(context.Background(), catalog.TypeHeat, "H-1", catalog.Operation{"set_temp": "25"})
	if err != nil {
		t.Fatalf("Control: %v", err)
	}

	got := exec.lastCall(t)
	if got.path != "/device/control.ajax" {
		t.Errorf("path = %q", got.path)
	}
	if got.body["type"] != "heat" || got.body["uid"] != "H-1" {
		t.Errorf("body = %v", got.body)
	}
	op, _ := got.body["operation"].(map[string]any)
	if op["set_temp"] != "25" {
		t.Errorf("operation = %v", op)
	}
}

func TestControlAllBodyShape(t *testing.T) {
	exec := &fakeExecutor{}
	c := NewCommander(exec)

	if err := c.ControlAll(context.Background(), catalog.TypeLight, "L-1", "on"); err != nil {
		t.Fatalf("ControlAll: %v", err)
	}

	got := exec.lastCall(t)
	if got.path != "/device/control/all.ajax" {
		t.Errorf("path = %q", got.path)
	}
	if got.body["type"] != "light" || got.body["uid"] != "L-1" || got.body["control"] != "on" {
		t.Errorf("body = %v", got.body)
	}
	if _, present := got.body["is_control_all"]; present {
		t.Error("plain ControlAll must not carry is_control_all")
	}
}

func TestAllOffCarriesMarker(t *testing.T) {
	exec := &fakeExecutor{}
	c := NewCommander(exec)

	if err := c.AllOff(context.Background(), "S-1", "off"); err != nil {
		t.Fatalf("AllOff: %v", err)
	}

	got := exec.lastCall(t)
	if got.body["type"] != "alloffswitch" || got.body["is_control_all"] != "N" || got.body["control"] != "off" {
		t.Errorf("body = %v", got.body)
	}
}

func TestControlRejected(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]string{
		"/device/control.ajax": `{"result":false}`,
	}}
	c := NewCommander(exec)

	err := c.Control(context.Background(), catalog.TypeHeat, "H-1", catalog.Operation{"control": "on"})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error = %v, want CommandError", err)
	}
	if cmdErr.UID != "H-1" {
		t.Errorf("UID = %q", cmdErr.UID)
	}
}

func TestCallElevatorEnvelope(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]string{
		"/common/data.ajax": `{}`,
	}}
	c := NewCommander(exec)

	if err := c.CallElevator(context.Background(), "EV-1"); err != nil {
		t.Fatalf("CallElevator: %v", err)
	}

	got := exec.lastCall(t)
	if got.path != "/common/data.ajax" {
		t.Errorf("path = %q", got.path)
	}
	header, _ := got.body["header"].(map[string]any)
	if header["category"] != "elevator" || header["type"] != "call" || header["command"] != "control_request" {
		t.Errorf("header = %v", header)
	}
	data, _ := got.body["data"].(map[string]any)
	if data["uid"] != "EV-1" {
		t.Errorf("data = %v", data)
	}
	op, _ := data["operation"].(map[string]any)
	if op["control"] != "down" {
		t.Errorf("operation = %v", op)
	}
}

func TestDeviceStatusWrappedOperation(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]string{
		"/controls/device/status.ajax": `{"result":true,"data":{"uid":"H-1","operation":{"control":"on","set_temp":"24"}}}`,
	}}
	c := NewCommander(exec)

	op, err := c.DeviceStatus(context.Background(), "H-1", catalog.TypeHeat)
	if err != nil {
		t.Fatalf("DeviceStatus: %v", err)
	}
	if op.Control() != "on" {
		t.Errorf("operation = %+v", op)
	}

	got := exec.lastCall(t)
	if got.body["uid"] != "H-1" || got.body["type"] != "heat" {
		t.Errorf("body = %v", got.body)
	}
}

func TestDeviceStatusBareOperation(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]string{
		"/controls/device/status.ajax": `{"result":true,"data":{"control":"off","mode":"heat"}}`,
	}}
	c := NewCommander(exec)

	op, err := c.DeviceStatus(context.Background(), "H-2", catalog.TypeHeat)
	if err != nil {
		t.Fatalf("DeviceStatus: %v", err)
	}
	if op.Control() != "off" || op.Mode() != "heat" {
		t.Errorf("operation = %+v", op)
	}
}

func TestDeviceStatusRejected(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]string{
		"/controls/device/status.ajax": `{"result":false}`,
	}}
	c := NewCommander(exec)

	_, err := c.DeviceStatus(context.Background(), "H-1", catalog.TypeHeat)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error = %v, want CommandError", err)
	}
}

func TestCarLocations(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]string{
		"/monitoring/locationList.ajax": `{"result":{"status":"ok"},"data":{"list":[{"car_no":"12ga3456","location":"B2-17"}]}}`,
	}}
	c := NewCommander(exec)

	cars, err := c.CarLocations(context.Background())
	if err != nil {
		t.Fatalf("CarLocations: %v", err)
	}
	if len(cars) != 1 || cars[0].CarNo != "12ga3456" || cars[0].Location != "B2-17" {
		t.Errorf("cars = %+v", cars)
	}

	got := exec.lastCall(t)
	header, _ := got.body["header"].(map[string]any)
	if header["category"] != "car" {
		t.Errorf("header = %v", header)
	}
}

func TestBackfillFillsIncompleteHeatRecords(t *testing.T) {
	store, err := state.NewStore(catalog.Catalog{
		{Type: catalog.TypeHeat, Devices: []catalog.DeviceRecord{
			{UID: "H-1", Operation: catalog.Operation{"control": "on", "set_temp": "24"}},
			{UID: "H-2", Operation: catalog.Operation{}},
		}},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close() //nolint:errcheck

	exec := &fakeExecutor{responses: map[string]string{
		"/controls/device/status.ajax": `{"result":true,"data":{"operation":{"control":"off","set_temp":"22","current_temp":"21"}}}`,
	}}
	NewCommander(exec).Backfill(context.Background(), store)

	// only the incomplete record is queried
	if len(exec.calls) != 1 {
		t.Fatalf("status queries = %d, want 1", len(exec.calls))
	}
	if exec.calls[0].body["uid"] != "H-2" {
		t.Errorf("queried uid = %v, want H-2", exec.calls[0].body["uid"])
	}

	rec, _ := store.Get("H-2")
	if rec.Operation.Control() != "off" {
		t.Errorf("backfilled operation = %+v", rec.Operation)
	}
	if n, _ := rec.Operation.SetTemp(); n != 22 {
		t.Errorf("set_temp = %d, want 22", n)
	}
}

func TestBackfillToleratesFailure(t *testing.T) {
	store, err := state.NewStore(catalog.Catalog{
		{Type: catalog.TypeHeat, Devices: []catalog.DeviceRecord{
			{UID: "H-1", Operation: catalog.Operation{}},
		}},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close() //nolint:errcheck

	exec := &fakeExecutor{err: errors.New("cloud is down")}
	NewCommander(exec).Backfill(context.Background(), store)

	rec, _ := store.Get("H-1")
	if rec.Operation.HasControl() {
		t.Error("failed backfill must leave the record untouched")
	}
}
