// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/logging"
)

// Runner runs one reconciliation pass.
type Runner interface {
	SyncAll(ctx context.Context) Report
}

// Transitions delivers online/offline changes.
type Transitions interface {
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// SchedulerConfig holds the trigger timings.
type SchedulerConfig struct {
	Interval    time.Duration // periodic pass while authenticated
	SettleDelay time.Duration // wait after reconnecting before the one-shot pass
}

// DefaultSchedulerConfig returns the default trigger timings.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval:    30 * time.Second,
		SettleDelay: 2 * time.Second,
	}
}

// Scheduler decides when passes run: on an interval, once after login, once after
// a reconnect has settled and after every local mutation. Triggers arriving while
// a wake is already pending are coalesced.
type Scheduler struct {
	runner   Runner
	network  Transitions
	config   *SchedulerConfig
	logger   logrus.FieldLogger
	onReport func(Report)

	wake chan struct{}

	mu            sync.Mutex
	running       bool
	authenticated bool
	cancel        context.CancelFunc
	unsubscribe   func()
	settle        *time.Timer
	wg            sync.WaitGroup
}

// NewScheduler creates a scheduler. network may be nil when reconnect triggers are not wanted.
func NewScheduler(runner Runner, network Transitions, config *SchedulerConfig, logger logrus.FieldLogger) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	return &Scheduler{
		runner:  runner,
		network: network,
		config:  config,
		logger:  logging.Or(logger).WithField("component", "scheduler"),
		wake:    make(chan struct{}, 1),
	}
}

// OnReport registers a callback for every finished pass. Call before Start.
func (s *Scheduler) OnReport(fn func(Report)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReport = fn
}

// Start begins the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	if s.network != nil {
		s.unsubscribe = s.network.Subscribe(s.onNetworkChange)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(loopCtx)
	}()
	s.logger.Debug("sync scheduler started")
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Debug("sync scheduler stopped")
}

// OnLogin marks the session authenticated and requests an immediate pass.
func (s *Scheduler) OnLogin() {
	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()
	s.Trigger()
}

// OnLogout stops all triggers until the next login.
func (s *Scheduler) OnLogout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = false
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
}

// Trigger requests a pass without blocking.
func (s *Scheduler) Trigger() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) onNetworkChange(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
	if online && s.running {
		// a flaky reconnect that drops again before the delay cancels the pass
		s.settle = time.AfterFunc(s.config.SettleDelay, s.Trigger)
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.wake:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.mu.Lock()
	authed := s.authenticated
	onReport := s.onReport
	s.mu.Unlock()
	if !authed {
		return
	}

	report := s.runner.SyncAll(ctx)
	if !report.Success {
		s.logger.WithFields(logrus.Fields{"reason": report.Reason, "error": report.Error}).Debug("sync pass did not complete")
	}
	if onReport != nil {
		onReport(report)
	}
}
