// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

// Package push runs the cloud's push-channel synchronization engine: one
// long-lived websocket that authenticates with the extracted session keys,
// subscribes to device categories, and merges event deltas into the state
// store. The engine never terminates on its own; transient failures
// reconnect with bounded exponential backoff, and the explicit token-expiry
// signal triggers the protocol's fixed cool-down plus a forced key refresh.
package push

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/hyun-k/elife/internal/catalog"
	"github.com/hyun-k/elife/internal/config"
	"github.com/hyun-k/elife/internal/logging"
	"github.com/hyun-k/elife/internal/metrics"
)

// normalStatusMessage is the keep-alive sentinel the channel sends in
// result frames while the session is healthy.
const normalStatusMessage = "정상"

// State is the engine's connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
	StateExpiredCooldown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateExpiredCooldown:
		return "expired-cooldown"
	default:
		return "unknown"
	}
}

// KeySource provides the push-channel session keys. Satisfied by
// session.Manager.
type KeySource interface {
	SessionKeys(ctx context.Context, forceRefresh bool) (catalog.SessionKeys, error)
}

// DeltaStore receives merged event deltas. Satisfied by state.Store.
type DeltaStore interface {
	ApplyDelta(uid string, delta catalog.Operation) bool
}

// Engine owns the push-channel connect/read loop. It implements
// suture.Service; Serve runs until its context is cancelled.
type Engine struct {
	cfg   config.PushConfig
	keys  KeySource
	store DeltaStore

	state atomic.Int32

	handlerMu sync.RWMutex
	onExpiry  func(message string)
}

// NewEngine creates a push engine. Nothing connects until Serve runs.
func NewEngine(cfg config.PushConfig, keys KeySource, store DeltaStore) *Engine {
	return &Engine{cfg: cfg, keys: keys, store: store}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// SetExpiryHandler registers a callback invoked with the offending message
// whenever the channel reports an expired cloud token. Called from the
// engine goroutine before the cool-down starts.
func (e *Engine) SetExpiryHandler(fn func(message string)) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.onExpiry = fn
}

func (e *Engine) signalExpiry(message string) {
	e.handlerMu.RLock()
	fn := e.onExpiry
	e.handlerMu.RUnlock()
	if fn != nil {
		fn(message)
	}
}

// Serve runs the connect/read loop until ctx is cancelled.
func (e *Engine) Serve(ctx context.Context) error {
	defer e.setState(StateDisconnected)
	defer metrics.PushConnected.Set(0)

	backoff := e.cfg.ReconnectMin
	forceKeyRefresh := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e.setState(StateConnecting)
		keys, err := e.keys.SessionKeys(ctx, forceKeyRefresh)
		if err != nil {
			logging.Warn().Err(err).Msg("push: session keys unavailable")
			metrics.PushReconnectsTotal.WithLabelValues("keys").Inc()
			if !e.pause(ctx, backoff) {
				return ctx.Err()
			}
			backoff = e.nextBackoff(backoff)
			continue
		}
		forceKeyRefresh = false

		outcome := e.runConnection(ctx, keys)
		switch outcome {
		case connExpired:
			e.setState(StateExpiredCooldown)
			metrics.PushReconnectsTotal.WithLabelValues("expiry").Inc()
			logging.Warn().
				Dur("cooldown", e.cfg.ExpiryCooldown).
				Msg("push: cloud token expired, cooling down before re-auth")
			if !e.pause(ctx, e.cfg.ExpiryCooldown) {
				return ctx.Err()
			}
			forceKeyRefresh = true
			backoff = e.cfg.ReconnectMin
		case connTransient:
			e.setState(StateReconnecting)
			metrics.PushReconnectsTotal.WithLabelValues("transient").Inc()
			if !e.pause(ctx, backoff) {
				return ctx.Err()
			}
			backoff = e.nextBackoff(backoff)
		case connStreamed:
			// connection was healthy before it dropped, start backoff over
			e.setState(StateReconnecting)
			metrics.PushReconnectsTotal.WithLabelValues("transient").Inc()
			backoff = e.cfg.ReconnectMin
		case connCancelled:
			return ctx.Err()
		}
	}
}

// connOutcome describes why one connection attempt ended.
type connOutcome int

const (
	connTransient connOutcome = iota // dial or early failure, back off
	connStreamed                     // dropped after healthy streaming
	connExpired                      // channel reported token expiry
	connCancelled                    // context cancelled
)

// runConnection dials, subscribes, and reads frames until the connection
// ends.
func (e *Engine) runConnection(ctx context.Context, keys catalog.SessionKeys) connOutcome {
	dialer := websocket.Dialer{HandshakeTimeout: e.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, e.cfg.URL, nil)
	if resp != nil {
		resp.Body.Close() //nolint:errcheck
	}
	if err != nil {
		if ctx.Err() != nil {
			return connCancelled
		}
		logging.Warn().Err(err).Str("url", e.cfg.URL).Msg("push: dial failed")
		return connTransient
	}
	defer conn.Close() //nolint:errcheck

	// a cancelled context must abort the blocking read below
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close() //nolint:errcheck
		case <-done:
		}
	}()

	if err := conn.WriteJSON(e.subscribeFrame(keys)); err != nil {
		logging.Warn().Err(err).Msg("push: subscribe failed")
		return connTransient
	}

	e.setState(StateStreaming)
	metrics.PushConnected.Set(1)
	defer metrics.PushConnected.Set(0)
	logging.Info().Str("url", e.cfg.URL).Msg("push: streaming")

	streamed := false
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return connCancelled
			}
			logging.Debug().Err(err).Msg("push: read failed")
			if streamed {
				return connStreamed
			}
			return connTransient
		}
		streamed = true

		if expired, message := e.handleFrame(payload); expired {
			e.signalExpiry(message)
			return connExpired
		}
	}
}

// subscribeFrame is the first outbound message: the session keys merged
// with the subscribed device categories.
func (e *Engine) subscribeFrame(keys catalog.SessionKeys) map[string]any {
	frame := keys.Map()
	categories := make([]map[string]string, len(e.cfg.Categories))
	for i, c := range e.cfg.Categories {
		categories[i] = map[string]string{"type": c}
	}
	frame["data"] = categories
	return frame
}

// handleFrame classifies one inbound frame and merges event deltas.
// Returns expired=true for the token-expiry signal, with the offending
// message for diagnostics.
func (e *Engine) handleFrame(payload []byte) (expired bool, message string) {
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(payload, &frame); err != nil {
		// malformed frames are dropped, the stream continues
		metrics.PushFramesTotal.WithLabelValues("malformed").Inc()
		logging.Debug().Err(err).Msg("push: dropping malformed frame")
		return false, ""
	}

	if _, ok := frame["header"]; ok {
		// response to our own subscribe, nothing to merge
		metrics.PushFramesTotal.WithLabelValues("response").Inc()
		return false, ""
	}

	if _, ok := frame["action"]; ok {
		metrics.PushFramesTotal.WithLabelValues("event").Inc()
		e.applyEvent(payload)
		return false, ""
	}

	if rawResult, ok := frame["result"]; ok {
		var result struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(rawResult, &result); err == nil && result.Message == normalStatusMessage {
			metrics.PushFramesTotal.WithLabelValues("keepalive").Inc()
			return false, ""
		}
		metrics.PushFramesTotal.WithLabelValues("expiry").Inc()
		return true, result.Message
	}

	// no recognizable shape: treat like expiry, the session is not healthy
	metrics.PushFramesTotal.WithLabelValues("expiry").Inc()
	return true, string(payload)
}

// applyEvent merges an event frame's device deltas into the store.
func (e *Engine) applyEvent(payload []byte) {
	var event struct {
		Action string `json:"action"`
		Data   struct {
			Devices []struct {
				UID       string            `json:"uid"`
				Operation catalog.Operation `json:"operation"`
			} `json:"devices"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		logging.Debug().Err(err).Msg("push: dropping malformed event frame")
		return
	}
	for _, d := range event.Data.Devices {
		if d.UID == "" {
			continue
		}
		e.store.ApplyDelta(d.UID, d.Operation)
		logging.Trace().
			Str("action", event.Action).
			Str("uid", d.UID).
			Msg("push: merged delta")
	}
}

// pause sleeps for d or until ctx is cancelled; false means cancelled.
func (e *Engine) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// nextBackoff doubles the delay up to the configured ceiling.
func (e *Engine) nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > e.cfg.ReconnectMax {
		return e.cfg.ReconnectMax
	}
	return next
}
