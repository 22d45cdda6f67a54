// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/connectivity"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/dedup"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/clock"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/config"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/logging"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/localstore"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/plan"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/quota"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/syncer"
)

// App is a fully wired client: local store, remote client, sync engine and plan machine.
type App struct {
	Config    *config.Config
	Store     *localstore.Store
	Client    *remote.Client
	Network   *connectivity.Monitor
	Records   *record.Manager
	Guard     *dedup.Guard
	Sync      *syncer.Orchestrator
	Scheduler *syncer.Scheduler
	Quota     *quota.Reconciler
	Plans     *plan.Machine
	Engine    *Engine

	deviceID string
	logger   logrus.FieldLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	unwatch func()
}

// Open builds an App from cfg. ui receives the plan continuity hooks.
func Open(ctx context.Context, cfg *config.Config, ui plan.UI, logger logrus.FieldLogger) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if cfg.SellerID == "" {
		return nil, fmt.Errorf("seller_id is required to sign requests")
	}
	logger = logging.Or(logger)

	store, err := localstore.Open(cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Store: store, logger: logger.WithField("component", "app")}

	if err := app.build(ctx, ui, logger); err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, ui plan.UI, logger logrus.FieldLogger) error {
	cfg := a.Config
	deviceID, err := a.resolveDeviceID(ctx)
	if err != nil {
		return err
	}
	a.deviceID = deviceID

	tokens := remote.NewJWTTokens(remote.NewJWTAuth(cfg.JWTSecret), cfg.SellerID, deviceID, cfg.TokenExpiry)
	a.Client = remote.NewClient(cfg.ServerURL, tokens, &http.Client{Timeout: cfg.HTTPTimeout}, logger)
	a.Network = connectivity.NewMonitor(true, logger)
	a.Guard = dedup.NewGuard()
	a.Records = record.NewManager(a.Store, clock.System, logger)
	a.Quota = quota.NewReconciler(a.Client, clock.System, logger)

	a.Sync, err = syncer.New(syncer.Deps{
		Records: a.Records,
		Remote:  a.Client,
		Network: a.Network,
		Meta:    a.Store,
		Guard:   a.Guard,
		Logger:  logger,
	}, &syncer.Config{RetryCap: cfg.RetryCap})
	if err != nil {
		return fmt.Errorf("failed to create sync orchestrator: %w", err)
	}
	a.Scheduler = syncer.NewScheduler(a.Sync, a.Network, &syncer.SchedulerConfig{
		Interval:    cfg.SyncInterval,
		SettleDelay: cfg.SettleDelay,
	}, logger)

	a.Plans, err = plan.New(plan.Deps{
		Remote:  a.Client,
		Usage:   a.Quota,
		Network: a.Network,
		UI:      ui,
		Logger:  logger,
	}, &plan.Config{
		TickInterval:    cfg.PlanTickInterval,
		RefreshCooldown: cfg.PlanRefreshCooldown,
		SwitchCooldown:  cfg.PlanSwitchCooldown,
		PromptDebounce:  cfg.PromptDebounce,
	})
	if err != nil {
		return fmt.Errorf("failed to create plan machine: %w", err)
	}

	a.Engine, err = New(Deps{
		Records:     a.Records,
		Quota:       a.Quota,
		Guard:       a.Guard,
		Network:     a.Network,
		Pusher:      a.Sync,
		Snapshotter: a.Client,
		Logger:      logger,
	}, &Config{DedupWindow: cfg.DedupWindow})
	if err != nil {
		return err
	}

	a.Records.OnMutation(func(record.EntityType) { a.Scheduler.Trigger() })
	a.Quota.OnRefresh(func(resp *remote.UsageResponse) { a.Plans.SetPlanOrders(resp.Plans) })
	return nil
}

// resolveDeviceID returns the configured device id or the one persisted on first run.
func (a *App) resolveDeviceID(ctx context.Context) (string, error) {
	if a.Config.DeviceID != "" {
		return a.Config.DeviceID, nil
	}
	id, ok, err := a.Store.GetMeta(ctx, localstore.MetaDeviceID)
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.New().String()
	if err := a.Store.SetMeta(ctx, localstore.MetaDeviceID, id); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	a.logger.WithField("device_id", id).Info("generated device id")
	return id, nil
}

// DeviceID returns the id this client signs requests with.
func (a *App) DeviceID() string { return a.deviceID }

// OnReconciled registers fn for every record the remote accepted.
func (a *App) OnReconciled(fn func(et record.EntityType, rec *record.Record)) {
	a.Sync.AddObserver(syncer.ObserverFunc(fn))
}

// Start hydrates when the remote answers, then starts the scheduler, the health
// probe, the usage refresh loop and the plan machine. The session counts as logged in.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.Client.Ping(runCtx); err != nil {
		a.logger.WithError(err).Warn("remote not reachable, starting offline")
		a.Network.SetOnline(false)
	} else {
		a.hydrate(runCtx)
		if _, err := a.Quota.Refresh(runCtx); err != nil {
			a.logger.WithError(err).Warn("initial usage refresh failed")
		}
	}

	a.unwatch = a.Network.Subscribe(func(online bool) {
		if online {
			a.goRun(func() { a.hydrate(runCtx) })
		}
	})
	a.Scheduler.OnReport(func(r syncer.Report) {
		if r.Success && r.Pushed() > 0 {
			if _, err := a.Quota.Refresh(runCtx); err != nil {
				a.logger.WithError(err).Debug("usage refresh after sync failed")
			}
		}
	})
	a.Scheduler.Start(runCtx)
	a.Scheduler.OnLogin()

	a.goRun(func() { a.Network.Watch(runCtx, a.Client, a.Config.HealthInterval) })
	a.goRun(func() { a.Quota.Run(runCtx, a.Config.UsageRefreshInterval) })
	a.goRun(func() { a.Plans.Run(runCtx) })
	a.logger.WithField("device_id", a.deviceID).Info("client started")
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *App) hydrate(ctx context.Context) {
	if _, err := a.Engine.Hydrate(ctx); err != nil {
		a.logger.WithError(err).Warn("hydration failed")
	}
}

// Close stops every background loop and closes the local store.
func (a *App) Close() error {
	a.mu.Lock()
	cancel, unwatch := a.cancel, a.unwatch
	a.cancel, a.unwatch = nil, nil
	a.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	a.Scheduler.Stop()
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	return a.Store.Close()
}
