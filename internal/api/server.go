// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

// Package api exposes the bridge's local HTTP surface: health, Prometheus
// metrics, and read-only device state for debugging. It binds to loopback
// by default and carries no authentication of its own.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyun-k/elife/internal/catalog"
	"github.com/hyun-k/elife/internal/config"
	"github.com/hyun-k/elife/internal/devices"
	"github.com/hyun-k/elife/internal/logging"
	"github.com/hyun-k/elife/internal/push"
	"github.com/hyun-k/elife/internal/state"
)

// Server is the local HTTP listener. Implements suture.Service.
type Server struct {
	cfg       config.ServerConfig
	store     *state.Store
	engine    *push.Engine
	commander *devices.Commander
}

// NewServer wires the HTTP surface over the live components.
func NewServer(cfg config.ServerConfig, store *state.Store, engine *push.Engine, commander *devices.Commander) *Server {
	return &Server{cfg: cfg, store: store, engine: engine, commander: commander}
}

// Router builds the route tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Timeout))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/devices", s.handleDevices)
		r.Get("/devices/{type}", s.handleDevicesByType)
		r.Get("/cars", s.handleCars)
	})
	return r
}

// Serve runs the listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("local api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api: shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: listen on %s: %w", addr, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"push":   s.engine.State().String(),
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]catalog.DeviceRecord)
	for _, t := range s.store.Types() {
		out[string(t)] = s.store.Snapshot(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDevicesByType(w http.ResponseWriter, r *http.Request) {
	t := catalog.DeviceType(chi.URLParam(r, "type"))
	snap := s.store.Snapshot(t)
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown device type"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCars(w http.ResponseWriter, r *http.Request) {
	cars, err := s.commander.CarLocations(r.Context())
	if err != nil {
		logging.Err(err).Msg("car location listing failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "car location listing failed"})
		return
	}
	writeJSON(w, http.StatusOK, cars)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Err(err).Msg("encode api response")
	}
}
