// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

// Package catalog models the device inventory the cloud embeds in its home
// page: typed device groups, per-device operation maps, and the session key
// triple that authenticates the push channel. Extraction from the page text
// lives in extract.go.
package catalog

import (
	"strconv"
)

// DeviceType identifies a device category. The wire values are the vendor's.
type DeviceType string

const (
	TypeLight        DeviceType = "light"
	TypeHeat         DeviceType = "heat"
	TypeAircon       DeviceType = "aircon"
	TypeSmartDoor    DeviceType = "smartdoor"
	TypeAllOffSwitch DeviceType = "alloffswitch"
	TypeElevator     DeviceType = "elevator"
	TypeCar          DeviceType = "car"
)

// Operation is the heterogeneous per-device state map. Keys and value shapes
// vary by device type; numbers frequently arrive as strings. Accessors
// normalize the common fields and report absence instead of guessing.
type Operation map[string]any

// stringField returns the named field as a string, tolerating numeric wire
// values.
func (o Operation) stringField(key string) (string, bool) {
	v, ok := o[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	default:
		return "", false
	}
}

// intField parses the named field as an integer, accepting both string and
// numeric wire values.
func (o Operation) intField(key string) (int, bool) {
	v, ok := o[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// tempField parses a temperature field. The vendor reports -1 or 255 for
// sensors without a reading; both map to absent.
func (o Operation) tempField(key string) (int, bool) {
	n, ok := o.intField(key)
	if !ok || n == -1 || n == 255 {
		return 0, false
	}
	return n, true
}

// Control returns the on/off control field ("on", "off"), or "" when the
// device has none.
func (o Operation) Control() string {
	s, _ := o.stringField("control")
	return s
}

// HasControl reports whether the operation map carries a control field at
// all. Heat devices in the initial catalog sometimes ship without one and
// need a status backfill.
func (o Operation) HasControl() bool {
	_, ok := o["control"]
	return ok
}

// Status returns the status field ("on", "off", "open", ...), or "".
func (o Operation) Status() string {
	s, _ := o.stringField("status")
	return s
}

// Mode returns the device mode ("heat", "out", "cool", "dehumi", ...), or "".
func (o Operation) Mode() string {
	s, _ := o.stringField("mode")
	return s
}

// DeviceKind returns the operation-level type field some records carry, which
// can differ from the group type.
func (o Operation) DeviceKind() string {
	s, _ := o.stringField("type")
	return s
}

// WindSpeed returns the fan speed field, or "".
func (o Operation) WindSpeed() string {
	s, _ := o.stringField("wind_speed")
	return s
}

// SetTemp returns the target temperature; ok is false when absent or the
// sensor reports the -1/255 no-reading sentinel.
func (o Operation) SetTemp() (int, bool) {
	return o.tempField("set_temp")
}

// CurrentTemp returns the measured temperature; ok is false when absent or
// the sensor reports the -1/255 no-reading sentinel.
func (o Operation) CurrentTemp() (int, bool) {
	return o.tempField("current_temp")
}

// Battery returns the battery level percentage; ok is false when absent.
func (o Operation) Battery() (int, bool) {
	return o.intField("battery")
}

// Clone returns a shallow copy. Operation values are wire scalars, so a
// shallow copy is a safe snapshot.
func (o Operation) Clone() Operation {
	if o == nil {
		return nil
	}
	c := make(Operation, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// Merge overlays delta onto o, field by field. Fields absent from delta are
// untouched.
func (o Operation) Merge(delta Operation) {
	for k, v := range delta {
		o[k] = v
	}
}

// DeviceRecord is one device entry from the catalog.
type DeviceRecord struct {
	UID               string    `json:"uid"`
	DeviceName        string    `json:"device_name,omitempty"`
	LocationName      string    `json:"location_name,omitempty"`
	LocationNameAlias string    `json:"location_name_alias,omitempty"`
	Operation         Operation `json:"operation,omitempty"`

	// Car registry entries carry these instead of an operation map.
	CarNo       string `json:"car_no,omitempty"`
	CarLocation string `json:"location,omitempty"`
}

// GroupLabel returns the user-facing label for the record's location: the
// alias when the household renamed the room, the vendor name otherwise.
func (r *DeviceRecord) GroupLabel() string {
	if r.LocationNameAlias != "" {
		return r.LocationNameAlias
	}
	return r.LocationName
}

// Clone deep-copies the record so snapshots cannot alias live state.
func (r *DeviceRecord) Clone() DeviceRecord {
	c := *r
	c.Operation = r.Operation.Clone()
	return c
}

// Group is one typed slice of the catalog.
type Group struct {
	Type    DeviceType     `json:"type"`
	Devices []DeviceRecord `json:"devices"`
}

// Catalog is the ordered device inventory as embedded in the home page.
type Catalog []Group

// Devices returns the device records of the given type, or nil.
func (c Catalog) Devices(t DeviceType) []DeviceRecord {
	for _, g := range c {
		if g.Type == t {
			return g.Devices
		}
	}
	return nil
}

// SessionKeys is the key triple that authenticates a push-channel session.
// Extracted from the home page alongside the catalog.
type SessionKeys struct {
	RoomKey     string
	UserKey     string
	AccessToken string
}

// Map returns the keys under their wire names, ready to be merged into the
// push subscribe frame.
func (k SessionKeys) Map() map[string]any {
	return map[string]any{
		"roomKey":     k.RoomKey,
		"userKey":     k.UserKey,
		"accessToken": k.AccessToken,
	}
}
