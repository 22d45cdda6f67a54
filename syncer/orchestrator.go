// Package syncer reconciles pending local records with the remote service. One
// pass visits every collection in dependency order and pushes each pending record
// individually; a Scheduler decides when passes run.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/dedup"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/clock"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/logging"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/localstore"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
)

// Reasons a pass did not complete
const (
	ReasonOffline       = "offline"
	ReasonInProgress    = "in_progress"
	ReasonUnreachable   = "unreachable"
	ReasonSellerUnknown = "seller_unknown"
	ReasonLocalFailure  = "local_failure"
	ReasonCanceled      = "canceled"
)

// ErrOffline is returned by PushOne when the network is down.
var ErrOffline = errors.New("offline")

// Remote is the part of the remote service the orchestrator needs.
type Remote interface {
	Push(ctx context.Context, endpoint, sellerID string, items []*record.Record) (*remote.PushResponse, error)
	SellerID(ctx context.Context) (string, error)
}

// Network reports reachability.
type Network interface {
	IsOnline() bool
}

// MetaStore persists small client values such as the resolved seller id.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Reservations tells which order hashes are being pushed by the direct creation path.
type Reservations interface {
	IsReserved(hash string) bool
}

// Observer is told about every record the remote accepted. Removed records are
// delivered with IsDeleted set.
type Observer interface {
	RecordReconciled(et record.EntityType, rec *record.Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(et record.EntityType, rec *record.Record)

func (f ObserverFunc) RecordReconciled(et record.EntityType, rec *record.Record) { f(et, rec) }

// Config tunes the orchestrator.
type Config struct {
	RetryCap        int                  // SyncAttempts saturate here; retries continue
	StageMetrics    StageMetricsRecorder // optional
	LogStageTimings bool
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{RetryCap: 3}
}

// Deps are the collaborators of an Orchestrator. Meta and Guard are optional.
type Deps struct {
	Records *record.Manager
	Remote  Remote
	Network Network
	Meta    MetaStore
	Guard   Reservations
	Clock   clock.Clock
	Logger  logrus.FieldLogger
}

// CollectionReport summarizes one collection of a pass.
type CollectionReport struct {
	Entity  record.EntityType `json:"entity"`
	Pending int               `json:"pending"`
	Pushed  int               `json:"pushed"`
	Removed int               `json:"removed"`
	Failed  int               `json:"failed"`
	Skipped int               `json:"skipped"`
}

// Report is the result of SyncAll.
type Report struct {
	Success     bool               `json:"success"`
	Reason      string             `json:"reason,omitempty"`
	Error       string             `json:"error,omitempty"`
	Collections []CollectionReport `json:"collections,omitempty"`
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  time.Time          `json:"finishedAt"`
}

// Pushed returns the number of remote calls that were acknowledged.
func (r Report) Pushed() int {
	n := 0
	for _, c := range r.Collections {
		n += c.Pushed + c.Removed
	}
	return n
}

// Orchestrator runs reconciliation passes. At most one pass runs at a time; a
// request that finds a pass in flight is dropped, not queued.
type Orchestrator struct {
	records *record.Manager
	remote  Remote
	network Network
	meta    MetaStore
	guard   Reservations
	config  *Config
	clock   clock.Clock
	logger  logrus.FieldLogger

	syncing atomic.Bool

	obsMu     sync.RWMutex
	observers []Observer

	sellerMu sync.Mutex
	sellerID string
}

// New creates an orchestrator.
func New(deps Deps, config *Config) (*Orchestrator, error) {
	if deps.Records == nil {
		return nil, fmt.Errorf("records manager is required")
	}
	if deps.Remote == nil {
		return nil, fmt.Errorf("remote is required")
	}
	if deps.Network == nil {
		return nil, fmt.Errorf("network is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &Orchestrator{
		records: deps.Records,
		remote:  deps.Remote,
		network: deps.Network,
		meta:    deps.Meta,
		guard:   deps.Guard,
		config:  config,
		clock:   clock.Or(deps.Clock),
		logger:  logging.Or(deps.Logger).WithField("component", "syncer"),
	}, nil
}

// AddObserver registers o for reconciled records.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.obsMu.Lock()
	defer o.obsMu.Unlock()
	o.observers = append(o.observers, obs)
}

func (o *Orchestrator) notify(et record.EntityType, rec *record.Record) {
	o.obsMu.RLock()
	obs := append([]Observer(nil), o.observers...)
	o.obsMu.RUnlock()
	for _, ob := range obs {
		ob.RecordReconciled(et, rec.Clone())
	}
}

// Syncing reports whether a pass is in flight.
func (o *Orchestrator) Syncing() bool { return o.syncing.Load() }

// SetSellerID primes the seller cache, e.g. from configuration.
func (o *Orchestrator) SetSellerID(id string) {
	o.sellerMu.Lock()
	defer o.sellerMu.Unlock()
	o.sellerID = id
}

// SyncAll runs one reconciliation pass.
func (o *Orchestrator) SyncAll(ctx context.Context) Report {
	started := o.clock.Now()
	report := Report{StartedAt: started}
	finish := func(reason string, err error) Report {
		report.Reason = reason
		report.Success = reason == ""
		if err != nil {
			report.Error = err.Error()
		}
		report.FinishedAt = o.clock.Now()
		return report
	}

	if !o.network.IsOnline() {
		return finish(ReasonOffline, nil)
	}
	if !o.syncing.CompareAndSwap(false, true) {
		return finish(ReasonInProgress, nil)
	}
	defer o.syncing.Store(false)

	passStart := o.stageStart()
	sellerID, err := o.resolveSeller(ctx)
	if err != nil {
		o.logger.WithError(err).Warn("could not resolve seller id")
		if remote.IsUnreachable(err) {
			return finish(ReasonUnreachable, err)
		}
		return finish(ReasonSellerUnknown, err)
	}

	reason := ""
	var passErr error
	for _, et := range record.SyncOrder {
		cr, err := o.syncCollection(ctx, et, sellerID)
		report.Collections = append(report.Collections, cr)
		if err != nil {
			passErr = err
			switch {
			case remote.IsUnreachable(err):
				reason = ReasonUnreachable
			case ctx.Err() != nil:
				reason = ReasonCanceled
			default:
				reason = ReasonLocalFailure
			}
			o.logger.WithError(err).WithField("entity", et).Warn("sync pass aborted")
			break
		}
	}

	out := finish(reason, passErr)
	o.observeStage(ctx, MetricsOpPass, MetricsStageTotal, passStart, out.Pushed(), passErr != nil)
	o.logger.WithFields(logrus.Fields{
		"success":  out.Success,
		"reason":   out.Reason,
		"pushed":   out.Pushed(),
		"duration": out.FinishedAt.Sub(out.StartedAt),
	}).Info("sync pass finished")
	return out
}

func (o *Orchestrator) syncCollection(ctx context.Context, et record.EntityType, sellerID string) (CollectionReport, error) {
	cr := CollectionReport{Entity: et}
	start := o.stageStart()

	pending, err := o.records.Pending(ctx, et)
	if err != nil {
		return cr, err
	}
	cr.Pending = len(pending)
	if len(pending) == 0 {
		return cr, nil
	}
	endpoint, ok := remote.EndpointFor(et)
	if !ok {
		return cr, fmt.Errorf("no endpoint for %s", et)
	}

	var failed bool
	defer func() { o.observeStage(ctx, MetricsOpPush, string(et), start, cr.Pushed+cr.Removed, failed) }()

	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			failed = true
			return cr, err
		}
		if et == record.Orders && o.reserved(rec) {
			cr.Skipped++
			continue
		}
		// The pending list is read once; a direct push may have settled this record
		// since. Checked after the reservation, which outlives the direct writeback.
		fresh, err := o.records.Get(ctx, et, rec.ID)
		if errors.Is(err, record.ErrNotFound) {
			continue
		}
		if err != nil {
			failed = true
			return cr, err
		}
		if !fresh.Pending() {
			continue
		}

		res, err := o.push(ctx, et, endpoint, sellerID, fresh)
		switch res {
		case outcomePushed:
			cr.Pushed++
		case outcomeRemoved:
			cr.Removed++
		case outcomeFailed:
			cr.Failed++
		}
		if err != nil {
			failed = true
			return cr, err
		}
	}
	return cr, nil
}

func (o *Orchestrator) reserved(rec *record.Record) bool {
	if o.guard == nil {
		return false
	}
	hash, err := dedup.HashRecord(rec)
	if err != nil {
		return false
	}
	return o.guard.IsReserved(hash)
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomePushed
	outcomeRemoved
	outcomeFailed
)

// push sends one record and writes the outcome back. A non-nil error means the
// pass must stop: the remote is unreachable or the local store failed.
func (o *Orchestrator) push(ctx context.Context, et record.EntityType, endpoint, sellerID string, rec *record.Record) (outcome, error) {
	log := o.logger.WithFields(logrus.Fields{"entity": et, "id": rec.ID})

	resp, err := o.remote.Push(ctx, endpoint, sellerID, []*record.Record{rec})
	if err != nil {
		if ctx.Err() != nil {
			return outcomeNone, ctx.Err()
		}
		if ferr := o.recordFailure(ctx, et, rec.ID, err.Error()); ferr != nil {
			return outcomeFailed, ferr
		}
		if remote.IsUnreachable(err) {
			return outcomeFailed, err
		}
		log.WithError(err).Warn("push rejected")
		return outcomeFailed, nil
	}

	ack, ok := resp.Ack(rec.ID)
	if !ok {
		msg := "remote did not acknowledge record"
		if f, ok := resp.Failure(rec.ID); ok && f.Error != "" {
			msg = f.Error
		}
		log.WithField("error", msg).Warn("push rejected")
		return outcomeFailed, o.recordFailure(ctx, et, rec.ID, msg)
	}

	if rec.IsDeleted {
		if err := o.records.Remove(ctx, et, rec.ID); err != nil {
			return outcomeNone, err
		}
		log.Debug("deleted record removed after remote confirmation")
		o.notify(et, rec)
		return outcomeRemoved, nil
	}

	updated, err := o.records.Reconcile(ctx, et, record.SyncReconciliation{
		ID:       rec.ID,
		RemoteID: ack.RemoteID,
		PushedAt: rec.UpdatedAt,
	})
	if errors.Is(err, record.ErrNotFound) {
		log.Debug("record vanished before writeback")
		return outcomePushed, nil
	}
	if err != nil {
		return outcomeNone, err
	}
	o.notify(et, updated)
	return outcomePushed, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, et record.EntityType, id, cause string) error {
	reached, err := o.records.RecordFailure(ctx, et, id, cause, o.config.RetryCap)
	if errors.Is(err, record.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if reached {
		o.logger.WithFields(logrus.Fields{
			"entity":   et,
			"id":       id,
			"attempts": o.config.RetryCap,
			"error":    cause,
		}).Error("record reached retry cap, will keep retrying silently")
	}
	return nil
}

// PushOne pushes a single record outside of a pass and writes the outcome back.
// The direct order path uses it while holding the order's reservation.
func (o *Orchestrator) PushOne(ctx context.Context, et record.EntityType, rec *record.Record) (*record.Record, error) {
	if !o.network.IsOnline() {
		return nil, ErrOffline
	}
	endpoint, ok := remote.EndpointFor(et)
	if !ok {
		return nil, fmt.Errorf("no endpoint for %s", et)
	}
	sellerID, err := o.resolveSeller(ctx)
	if err != nil {
		return nil, err
	}

	res, err := o.push(ctx, et, endpoint, sellerID, rec)
	if err != nil {
		return nil, err
	}
	switch res {
	case outcomeFailed:
		return nil, fmt.Errorf("remote rejected %s/%s", et, rec.ID)
	case outcomeRemoved:
		return nil, nil
	}
	return o.records.Get(ctx, et, rec.ID)
}

// resolveSeller returns the cached seller id, falling back to the meta table and
// finally to the remote. A resolved id is persisted.
func (o *Orchestrator) resolveSeller(ctx context.Context) (string, error) {
	o.sellerMu.Lock()
	defer o.sellerMu.Unlock()
	if o.sellerID != "" {
		return o.sellerID, nil
	}

	if o.meta != nil {
		v, ok, err := o.meta.GetMeta(ctx, localstore.MetaSellerID)
		if err != nil {
			return "", fmt.Errorf("failed to read cached seller id: %w", err)
		}
		if ok && v != "" {
			o.sellerID = v
			return v, nil
		}
	}

	id, err := o.remote.SellerID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve seller id: %w", err)
	}
	if o.meta != nil {
		if err := o.meta.SetMeta(ctx, localstore.MetaSellerID, id); err != nil {
			return "", fmt.Errorf("failed to cache seller id: %w", err)
		}
	}
	o.sellerID = id
	return id, nil
}
