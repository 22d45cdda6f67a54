// Package quota keeps the locally cached plan usage. Local creates and deletes
// adjust it optimistically; a successful remote usage fetch replaces it.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package quota

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/clock"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/logging"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
)

// Kind is a quota-bearing entity kind.
type Kind string

const (
	Customers Kind = "customers"
	Products  Kind = "products"
	Orders    Kind = "orders"
)

// KindFor maps a collection to its quota kind.
func KindFor(et record.EntityType) (Kind, bool) {
	switch et {
	case record.Customers:
		return Customers, true
	case record.Products:
		return Products, true
	case record.Orders:
		return Orders, true
	default:
		return "", false
	}
}

// Usage is the counter of one kind. When Unlimited, Limit and Remaining are meaningless.
type Usage struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	Unlimited bool  `json:"unlimited"`
}

// Summary is the usage of every kind.
type Summary map[Kind]Usage

func (s Summary) clone() Summary {
	out := make(Summary, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// FromRemote converts a usage payload into a Summary.
func FromRemote(resp *remote.UsageResponse) Summary {
	out := Summary{}
	if resp == nil {
		return out
	}
	for name, c := range resp.Summary {
		u := Usage{Used: c.Used, Limit: c.Limit, Remaining: c.Remaining, Unlimited: c.IsUnlimited}
		if u.Remaining < 0 {
			u.Remaining = 0
		}
		out[Kind(name)] = u
	}
	return out
}

// Source fetches authoritative usage.
type Source interface {
	Usage(ctx context.Context) (*remote.UsageResponse, error)
}

// Reconciler owns the cached usage summary.
type Reconciler struct {
	source Source
	clock  clock.Clock
	logger logrus.FieldLogger
	group  singleflight.Group

	mu               sync.RWMutex
	cache            Summary
	plans            []remote.PlanOrder
	lastReconciledAt time.Time
	listeners        []func(*remote.UsageResponse)
}

// NewReconciler creates a reconciler with an empty cache.
func NewReconciler(source Source, clk clock.Clock, logger logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		source: source,
		clock:  clock.Or(clk),
		logger: logging.Or(logger).WithField("component", "quota"),
		cache:  Summary{},
	}
}

// CanCreate reports whether one more entity of kind fits the cached plan. It never
// touches the network. Kinds that have not been loaded yet are allowed.
func (r *Reconciler) CanCreate(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.cache[kind]
	if !ok || u.Unlimited {
		return true
	}
	return u.Used < u.Limit
}

// CanCreateEntity is CanCreate for a collection; collections without a quota always pass.
func (r *Reconciler) CanCreateEntity(et record.EntityType) bool {
	kind, ok := KindFor(et)
	if !ok {
		return true
	}
	return r.CanCreate(kind)
}

// ApplyLocalDelta adjusts the cached counter of kind before the remote confirms.
// Used stays within [0, Limit] and Remaining equals Limit - Used.
func (r *Reconciler) ApplyLocalDelta(kind Kind, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.cache[kind]
	if !ok {
		return
	}
	u.Used += delta
	if u.Used < 0 {
		u.Used = 0
	}
	if !u.Unlimited {
		if u.Limit < 0 {
			u.Limit = 0
		}
		if u.Used > u.Limit {
			u.Used = u.Limit
		}
		u.Remaining = u.Limit - u.Used
	}
	r.cache[kind] = u
}

// ReconcileFromRemote replaces the cache with s.
func (r *Reconciler) ReconcileFromRemote(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = s.clone()
	r.lastReconciledAt = r.clock.Now()
}

// OnRefresh registers fn to receive every successful usage fetch.
func (r *Reconciler) OnRefresh(fn func(*remote.UsageResponse)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Refresh fetches usage from the remote and reconciles. Concurrent callers share
// one request. On failure the cached summary is kept and the error returned.
func (r *Reconciler) Refresh(ctx context.Context) (Summary, error) {
	v, err, _ := r.group.Do("usage", func() (interface{}, error) {
		resp, err := r.source.Usage(ctx)
		if err != nil {
			return nil, err
		}
		r.ReconcileFromRemote(FromRemote(resp))

		r.mu.Lock()
		r.plans = append([]remote.PlanOrder(nil), resp.Plans...)
		listeners := slices.Clone(r.listeners)
		r.mu.Unlock()
		for _, fn := range listeners {
			fn(resp)
		}
		return r.Snapshot(), nil
	})
	if err != nil {
		r.logger.WithError(err).Warn("usage refresh failed, keeping cached summary")
		return r.Snapshot(), fmt.Errorf("failed to refresh usage: %w", err)
	}
	return v.(Summary), nil
}

// Run refreshes every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.Refresh(ctx)
		}
	}
}

// Snapshot returns a copy of the cached summary.
func (r *Reconciler) Snapshot() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache.clone()
}

// Get returns the cached usage of kind.
func (r *Reconciler) Get(kind Kind) (Usage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.cache[kind]
	return u, ok
}

// Plans returns the plan orders delivered with the last usage fetch.
func (r *Reconciler) Plans() []remote.PlanOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]remote.PlanOrder(nil), r.plans...)
}

// LastReconciledAt is the time of the last authoritative update, zero if none.
func (r *Reconciler) LastReconciledAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastReconciledAt
}

// IsStale reports whether the cache is older than maxAge or was never reconciled.
func (r *Reconciler) IsStale(maxAge time.Duration) bool {
	last := r.LastReconciledAt()
	return last.IsZero() || r.clock.Now().Sub(last) > maxAge
}
