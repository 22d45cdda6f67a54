// Package engine is the entry point used by the presentation layer. It gates
// creation on plan quota, guards order submission against duplicates, applies
// optimistic usage deltas and hydrates the local store from the remote snapshot.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/dedup"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/clock"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/logging"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/quota"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
)

// ErrQuotaExceeded is returned when the plan leaves no room for another record of the kind.
var ErrQuotaExceeded = errors.New("plan quota exceeded")

// Outcome tells the caller what happened to an order submission.
type Outcome string

const (
	// OutcomeCreated means the order was stored locally (and pushed when online).
	OutcomeCreated Outcome = "created"
	// OutcomeDuplicate means an identical order is already in flight or was just created.
	OutcomeDuplicate Outcome = "duplicate"
)

// Pusher pushes one record right away.
type Pusher interface {
	PushOne(ctx context.Context, et record.EntityType, rec *record.Record) (*record.Record, error)
}

// Snapshotter fetches the authoritative dataset.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*remote.SnapshotResponse, error)
}

// Network reports reachability.
type Network interface {
	IsOnline() bool
}

// Config tunes the engine.
type Config struct {
	DedupWindow time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{DedupWindow: dedup.DefaultWindow}
}

// Deps are the collaborators of an Engine. Pusher and Snapshotter are optional;
// without them orders wait for the next pass and Hydrate is unavailable.
type Deps struct {
	Records     *record.Manager
	Quota       *quota.Reconciler
	Guard       *dedup.Guard
	Network     Network
	Pusher      Pusher
	Snapshotter Snapshotter
	Clock       clock.Clock
	Logger      logrus.FieldLogger
}

// Engine ties the record manager, the duplicate guard and the usage reconciler together.
type Engine struct {
	records  *record.Manager
	quota    *quota.Reconciler
	guard    *dedup.Guard
	network  Network
	pusher   Pusher
	snapshot Snapshotter
	config   *Config
	clock    clock.Clock
	logger   logrus.FieldLogger
}

// New creates an engine.
func New(deps Deps, config *Config) (*Engine, error) {
	if deps.Records == nil || deps.Quota == nil {
		return nil, fmt.Errorf("records and quota are required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	guard := deps.Guard
	if guard == nil {
		guard = dedup.NewGuard()
	}
	return &Engine{
		records:  deps.Records,
		quota:    deps.Quota,
		guard:    guard,
		network:  deps.Network,
		pusher:   deps.Pusher,
		snapshot: deps.Snapshotter,
		config:   config,
		clock:    clock.Or(deps.Clock),
		logger:   logging.Or(deps.Logger).WithField("component", "engine"),
	}, nil
}

// Records exposes the record manager for reads.
func (e *Engine) Records() *record.Manager { return e.records }

// Quota exposes the usage reconciler.
func (e *Engine) Quota() *quota.Reconciler { return e.quota }

// CanCreate is the synchronous capacity check consulted before offering creation.
func (e *Engine) CanCreate(et record.EntityType) bool {
	return e.quota.CanCreateEntity(et)
}

// CreateRecord stores a new record when the plan allows it and counts it against usage.
// Orders should go through CreateOrder.
func (e *Engine) CreateRecord(ctx context.Context, et record.EntityType, rec *record.Record) (*record.Record, error) {
	if !e.quota.CanCreateEntity(et) {
		return nil, fmt.Errorf("cannot create %s: %w", et, ErrQuotaExceeded)
	}
	created, err := e.records.Create(ctx, et, rec)
	if err != nil {
		return nil, err
	}
	e.applyDelta(et, 1)
	return created, nil
}

// UpdateRecord applies a human edit.
func (e *Engine) UpdateRecord(ctx context.Context, et record.EntityType, rec *record.Record) (*record.Record, error) {
	return e.records.Update(ctx, et, rec)
}

// DeleteRecord soft-deletes a record and releases its usage slot.
func (e *Engine) DeleteRecord(ctx context.Context, et record.EntityType, id string) error {
	rec, err := e.records.Get(ctx, et, id)
	if err != nil {
		return err
	}
	if rec.IsDeleted {
		return nil
	}
	if _, err := e.records.SoftDelete(ctx, et, id); err != nil {
		return err
	}
	e.applyDelta(et, -1)
	return nil
}

// CreateOrder stores an order unless an identical one is in flight or was created
// within the dedup window, in which case it returns OutcomeDuplicate and no error.
// When online the order is pushed immediately while its reservation is held.
func (e *Engine) CreateOrder(ctx context.Context, rec *record.Record) (*record.Record, Outcome, error) {
	if rec == nil {
		return nil, "", fmt.Errorf("order record is required")
	}
	hash, err := dedup.HashRecord(rec)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash order: %w", err)
	}
	log := e.logger.WithField("order_hash", hash)

	if !e.guard.TryReserve(hash, rec.ID) {
		log.Info("duplicate order submission dropped (in flight)")
		return nil, OutcomeDuplicate, nil
	}
	defer e.guard.Release(hash)

	// scanned while holding the reservation, so a create that just finished is visible
	recent, err := e.records.RecentlyCreated(ctx, record.Orders, e.config.DedupWindow)
	if err != nil {
		return nil, "", err
	}
	if dup, ok := dedup.FindRecentDuplicate(recent, hash, e.clock.Now(), e.config.DedupWindow); ok {
		log.WithField("existing_id", dup.ID).Info("duplicate order submission dropped (recent)")
		return nil, OutcomeDuplicate, nil
	}

	if !e.quota.CanCreateEntity(record.Orders) {
		return nil, "", fmt.Errorf("cannot create order: %w", ErrQuotaExceeded)
	}
	created, err := e.records.Create(ctx, record.Orders, rec)
	if err != nil {
		return nil, "", err
	}
	e.guard.SetHolder(hash, created.ID)
	e.applyDelta(record.Orders, 1)

	if e.pusher == nil || (e.network != nil && !e.network.IsOnline()) {
		log.WithField("id", created.ID).Info("order stored, will sync later")
		return created, OutcomeCreated, nil
	}
	pushed, err := e.pusher.PushOne(ctx, record.Orders, created)
	switch {
	case err != nil:
		// the record stays pending for the next pass
		log.WithError(err).WithField("id", created.ID).Warn("direct order push failed")
	case pushed != nil:
		created = pushed
	}
	return created, OutcomeCreated, nil
}

func (e *Engine) applyDelta(et record.EntityType, delta int64) {
	if kind, ok := quota.KindFor(et); ok {
		e.quota.ApplyLocalDelta(kind, delta)
	}
}

