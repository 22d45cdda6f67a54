// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/logging"
)

// Prober checks whether the remote answers.
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor is the network reachability signal. Subscribers are told about
// online/offline transitions, never about repeated identical states.
type Monitor struct {
	online atomic.Bool
	logger logrus.FieldLogger

	mu     sync.Mutex
	nextID int
	subs   map[int]func(online bool)
}

// NewMonitor creates a monitor with the given initial state.
func NewMonitor(initial bool, logger logrus.FieldLogger) *Monitor {
	m := &Monitor{
		logger: logging.Or(logger).WithField("component", "connectivity"),
		subs:   make(map[int]func(bool)),
	}
	m.online.Store(initial)
	return m
}

// IsOnline reports the last known state.
func (m *Monitor) IsOnline() bool { return m.online.Load() }

// SetOnline records a new state and notifies subscribers when it changed.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	m.logger.WithField("online", online).Info("connectivity changed")

	m.mu.Lock()
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe registers fn for transitions and returns a function that removes it.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Watch probes the remote every interval until ctx is done and feeds the result
// into the monitor. The first probe runs immediately.
func (m *Monitor) Watch(ctx context.Context, probe Prober, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.probeOnce(ctx, probe, interval)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context, probe Prober, timeout time.Duration) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := probe.Ping(pctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.logger.WithError(err).Debug("health probe failed")
	}
	m.SetOnline(err == nil)
}
