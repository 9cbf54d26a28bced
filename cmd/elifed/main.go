// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

// Command elifed runs the e-Life cloud bridge daemon: it logs in to the
// cloud, extracts the device catalog from the home page, and keeps the
// local device state synchronized over the push channel while serving a
// small observability API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyun-k/elife/internal/api"
	"github.com/hyun-k/elife/internal/catalog"
	"github.com/hyun-k/elife/internal/config"
	"github.com/hyun-k/elife/internal/devices"
	"github.com/hyun-k/elife/internal/logging"
	"github.com/hyun-k/elife/internal/push"
	"github.com/hyun-k/elife/internal/session"
	"github.com/hyun-k/elife/internal/state"
	"github.com/hyun-k/elife/internal/supervisor"
	"github.com/hyun-k/elife/internal/transport"
)

// setupTimeout bounds the blocking setup sequence: login, home page fetch,
// extraction, and the status backfill.
const setupTimeout = 2 * time.Minute

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "elifed: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := config.EnsureDeviceID(cfg, *configPath); err != nil {
		logging.Fatal().Err(err).Msg("device id setup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("bridge failed")
	}
	logging.Info().Msg("bridge stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	client := transport.NewClient(cfg.API)
	sess := session.NewManager(client, cfg.Account)
	commander := devices.NewCommander(sess)

	store, engine, err := setup(ctx, cfg, sess, commander)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(engine)
	if cfg.Server.Enabled {
		tree.AddAPIService(api.NewServer(cfg.Server, store, engine, commander))
	}
	return tree.Serve(ctx)
}

// setup runs the blocking startup sequence. Any failure here is fatal: a
// bridge that cannot authenticate or find its catalog has nothing to run.
func setup(ctx context.Context, cfg *config.Config, sess *session.Manager, commander *devices.Commander) (*state.Store, *push.Engine, error) {
	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	if err := sess.EnsureLoggedIn(setupCtx); err != nil {
		return nil, nil, fmt.Errorf("cannot connect: %w", err)
	}

	html, err := sess.FetchHome(setupCtx, false)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot connect: %w", err)
	}

	cat, err := catalog.ExtractCatalog(html)
	if err != nil {
		return nil, nil, err
	}
	// the push keys must extract now; their absence means the session is no
	// good even though login succeeded
	if _, err := catalog.ExtractSessionKeys(html); err != nil {
		return nil, nil, err
	}
	if uid, ok := catalog.ExtractAuxiliaryDeviceID(html); ok {
		cat = append(cat, catalog.Group{
			Type:    catalog.TypeElevator,
			Devices: []catalog.DeviceRecord{{UID: uid, LocationName: "Elevator"}},
		})
	}

	store, err := state.NewStore(cat)
	if err != nil {
		return nil, nil, err
	}

	commander.Backfill(setupCtx, store)

	engine := push.NewEngine(cfg.Push, sess, store)
	engine.SetExpiryHandler(func(message string) {
		logging.Warn().
			Str("message", message).
			Msg("cloud token expired, re-authenticating after cool-down")
	})

	total := 0
	for _, t := range store.Types() {
		total += len(store.Snapshot(t))
	}
	logging.Info().
		Int("devices", total).
		Int("groups", len(store.Types())).
		Msg("catalog loaded")

	return store, engine, nil
}
