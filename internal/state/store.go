// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

// Package state holds the live device inventory: the grouped catalog view
// plus a uid index, mutated by push-channel deltas and read by adapters as
// immutable snapshots. Changes fan out over an in-process pub/sub so
// adapters can subscribe per device or per device type.
package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/hyun-k/elife/internal/catalog"
	"github.com/hyun-k/elife/internal/logging"
	"github.com/hyun-k/elife/internal/metrics"
)

// Change is one applied state delta, as delivered to subscribers.
type Change struct {
	UID       string             `json:"uid"`
	Type      catalog.DeviceType `json:"type"`
	Operation catalog.Operation  `json:"operation"`
}

func deviceTopic(uid string) string {
	return "device.state." + uid
}

func typeTopic(t catalog.DeviceType) string {
	return "device.type." + string(t)
}

type entry struct {
	typ    catalog.DeviceType
	record *catalog.DeviceRecord
}

// Store is the shared device state. All methods are safe for concurrent
// use; deltas are applied and published under one lock so subscribers
// observe changes in application order.
type Store struct {
	mu      sync.RWMutex
	groups  catalog.Catalog
	byUID   map[string]entry
	pubsub  *gochannel.GoChannel
	closeMu sync.Once
}

// NewStore builds a store from the extracted catalog. Every uid must be
// unique across groups.
func NewStore(c catalog.Catalog) (*Store, error) {
	s := &Store{
		groups: make(catalog.Catalog, 0, len(c)),
		byUID:  make(map[string]entry),
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, logging.NewWatermillAdapter()),
	}

	for _, g := range c {
		group := catalog.Group{Type: g.Type, Devices: make([]catalog.DeviceRecord, len(g.Devices))}
		for i := range g.Devices {
			group.Devices[i] = g.Devices[i].Clone()
			rec := &group.Devices[i]
			if rec.Operation == nil {
				rec.Operation = catalog.Operation{}
			}
			if _, dup := s.byUID[rec.UID]; dup {
				return nil, fmt.Errorf("state: duplicate device uid %q", rec.UID)
			}
			s.byUID[rec.UID] = entry{typ: g.Type, record: rec}
		}
		s.groups = append(s.groups, group)
	}
	return s, nil
}

// Snapshot returns deep copies of all records of the given type, in catalog
// order. The copies never alias live state.
func (s *Store) Snapshot(t catalog.DeviceType) []catalog.DeviceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := s.groups.Devices(t)
	if devices == nil {
		return nil
	}
	out := make([]catalog.DeviceRecord, len(devices))
	for i := range devices {
		out[i] = devices[i].Clone()
	}
	return out
}

// Get returns a deep copy of the record with the given uid.
func (s *Store) Get(uid string) (catalog.DeviceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byUID[uid]
	if !ok {
		return catalog.DeviceRecord{}, false
	}
	return e.record.Clone(), true
}

// Types returns the device types present in the catalog, in order.
func (s *Store) Types() []catalog.DeviceType {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.DeviceType, len(s.groups))
	for i, g := range s.groups {
		out[i] = g.Type
	}
	return out
}

// ApplyDelta merges a partial operation into the record with the given uid
// and notifies subscribers. Deltas for uids outside the catalog are counted
// and dropped; the push channel can reference devices the home page never
// listed.
func (s *Store) ApplyDelta(uid string, delta catalog.Operation) bool {
	if len(delta) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byUID[uid]
	if !ok {
		metrics.DeltasUnknownDevice.Inc()
		logging.Debug().Str("uid", uid).Msg("delta for unknown device dropped")
		return false
	}
	e.record.Operation.Merge(delta)
	metrics.DeltasAppliedTotal.Inc()

	// published under the lock so subscribers see deltas in apply order
	s.publish(Change{UID: uid, Type: e.typ, Operation: delta.Clone()})
	return true
}

func (s *Store) publish(change Change) {
	payload, err := json.Marshal(change)
	if err != nil {
		logging.Err(err).Str("uid", change.UID).Msg("marshal state change")
		return
	}
	for _, topic := range []string{deviceTopic(change.UID), typeTopic(change.Type)} {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		if err := s.pubsub.Publish(topic, msg); err != nil {
			logging.Err(err).Str("topic", topic).Msg("publish state change")
		}
	}
}

// SubscribeDevice delivers changes for one uid until ctx is cancelled.
func (s *Store) SubscribeDevice(ctx context.Context, uid string) (<-chan Change, error) {
	return s.subscribe(ctx, deviceTopic(uid))
}

// SubscribeType delivers changes for every device of one type until ctx is
// cancelled.
func (s *Store) SubscribeType(ctx context.Context, t catalog.DeviceType) (<-chan Change, error) {
	return s.subscribe(ctx, typeTopic(t))
}

func (s *Store) subscribe(ctx context.Context, topic string) (<-chan Change, error) {
	msgs, err := s.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("state: subscribe %s: %w", topic, err)
	}

	out := make(chan Change, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var change Change
			if err := json.Unmarshal(msg.Payload, &change); err != nil {
				logging.Err(err).Str("topic", topic).Msg("decode state change")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the pub/sub and all subscriptions.
func (s *Store) Close() error {
	var err error
	s.closeMu.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
