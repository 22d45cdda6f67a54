// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/clock"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/logging"
)

// ErrNotFound is returned when a record id is not present in the local store.
var ErrNotFound = errors.New("record not found")

// Store is the durable per-collection table the manager persists into.
type Store interface {
	GetAll(ctx context.Context, et EntityType) ([]*Record, error)
	Get(ctx context.Context, et EntityType, id string) (*Record, error)
	Upsert(ctx context.Context, et EntityType, rec *Record) error
	// Delete physically removes the record and leaves a tombstone for its id.
	Delete(ctx context.Context, et EntityType, id string) error
	Tombstoned(ctx context.Context, et EntityType, id string) (bool, error)
}

// Write is a tagged write intent: either a human edit or a sync writeback.
type Write interface {
	isWrite()
}

// UserEdit carries a record edited by a person. It always makes the record pending again.
type UserEdit struct {
	Record *Record
}

// SyncReconciliation carries a remote acknowledgment for a pushed snapshot.
type SyncReconciliation struct {
	ID       string
	RemoteID string
	PushedAt time.Time // UpdatedAt of the snapshot that was pushed
}

func (UserEdit) isWrite()           {}
func (SyncReconciliation) isWrite() {}

// CreateOption tunes Create.
type CreateOption func(*createOptions)

type createOptions struct {
	fromRemote bool
}

// FromRemote marks a create as hydration from an authoritative remote snapshot:
// the record is stored as synced and no sync pass is scheduled.
func FromRemote() CreateOption {
	return func(o *createOptions) { o.fromRemote = true }
}

// Manager owns the local state transitions of syncable records.
//
// Only Update and SoftDelete flip IsSynced to false for an existing record, and only
// Reconcile flips it to true; Remove is reserved for confirmed remote deletions.
type Manager struct {
	store  Store
	clock  clock.Clock
	logger logrus.FieldLogger

	mu         sync.Mutex // serializes read-modify-write cycles against the store
	onMutation func(EntityType)
}

// NewManager creates a manager over store.
func NewManager(store Store, clk clock.Clock, logger logrus.FieldLogger) *Manager {
	return &Manager{
		store:  store,
		clock:  clock.Or(clk),
		logger: logging.Or(logger).WithField("component", "record"),
	}
}

// OnMutation registers the hook invoked after every successful local mutation.
// The sync scheduler uses it to wake a reconciliation pass.
func (m *Manager) OnMutation(fn func(EntityType)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMutation = fn
}

func (m *Manager) notify(et EntityType) {
	m.mu.Lock()
	fn := m.onMutation
	m.mu.Unlock()
	if fn != nil {
		fn(et)
	}
}

// Create persists a new record. The caller's record is not modified; the stored copy is returned.
func (m *Manager) Create(ctx context.Context, et EntityType, rec *Record, opts ...CreateOption) (*Record, error) {
	if !et.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", et)
	}
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := rec.Clone()
	if r == nil {
		r = New(nil)
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := m.clock.Now()

	if o.fromRemote {
		markRemote(r, now)
	} else {
		r.IsSynced = false
		r.IsUpdate = false
		r.SyncError = ""
		r.SyncAttempts = 0
		r.SyncedAt = nil
		r.CreatedAt = now
		r.UpdatedAt = now
	}

	m.mu.Lock()
	err := m.store.Upsert(ctx, et, r)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s record: %w", et, err)
	}

	m.logger.WithFields(logrus.Fields{"entity": et, "id": r.ID, "from_remote": o.fromRemote}).Debug("record created")
	if !o.fromRemote {
		m.notify(et)
	}
	return r.Clone(), nil
}

// RemoteOutcome reports what ApplyRemote did with a remote copy.
type RemoteOutcome int

const (
	RemoteApplied    RemoteOutcome = iota
	RemoteKeptLocal                // a local change is still pending
	RemoteTombstoned               // the id was removed after a confirmed deletion
)

// ApplyRemote stores an authoritative remote copy as synced. The tombstone check,
// the pending check and the write happen under one lock, so a local edit is never
// replaced by the remote copy. No sync pass is scheduled.
func (m *Manager) ApplyRemote(ctx context.Context, et EntityType, rec *Record) (RemoteOutcome, error) {
	if !et.Valid() {
		return RemoteApplied, fmt.Errorf("unknown entity type %q", et)
	}
	if rec == nil || rec.ID == "" {
		return RemoteApplied, fmt.Errorf("remote record requires an id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	gone, err := m.store.Tombstoned(ctx, et, rec.ID)
	if err != nil {
		return RemoteApplied, fmt.Errorf("failed to check tombstone for %s/%s: %w", et, rec.ID, err)
	}
	if gone {
		return RemoteTombstoned, nil
	}
	local, err := m.store.Get(ctx, et, rec.ID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return RemoteApplied, fmt.Errorf("failed to load %s/%s: %w", et, rec.ID, err)
	case local.Pending():
		return RemoteKeptLocal, nil
	}

	r := rec.Clone()
	markRemote(r, m.clock.Now())
	if err := m.store.Upsert(ctx, et, r); err != nil {
		return RemoteApplied, fmt.Errorf("failed to apply remote %s/%s: %w", et, rec.ID, err)
	}
	return RemoteApplied, nil
}

// markRemote stamps r as an acknowledged remote copy.
func markRemote(r *Record, now time.Time) {
	r.IsSynced = true
	r.IsUpdate = false
	r.SyncError = ""
	r.SyncAttempts = 0
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.SyncedAt == nil {
		r.SyncedAt = &now
	}
}

// Update applies a human edit. The record becomes pending and is flagged IsUpdate.
func (m *Manager) Update(ctx context.Context, et EntityType, rec *Record) (*Record, error) {
	if rec == nil || rec.ID == "" {
		return nil, fmt.Errorf("update requires a record id")
	}

	m.mu.Lock()
	stored, err := m.store.Get(ctx, et, rec.ID)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to load %s/%s: %w", et, rec.ID, err)
	}

	r := rec.Clone()
	r.CreatedAt = stored.CreatedAt
	r.SyncedAt = stored.SyncedAt
	r.SyncError = stored.SyncError
	r.SyncAttempts = stored.SyncAttempts
	r.IsDeleted = stored.IsDeleted
	r.DeletedAt = stored.DeletedAt
	if r.RemoteID == "" {
		r.RemoteID = stored.RemoteID
	}
	r.IsSynced = false
	r.IsUpdate = true
	r.UpdatedAt = m.stamp(stored.UpdatedAt)

	err = m.store.Upsert(ctx, et, r)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to update %s/%s: %w", et, rec.ID, err)
	}

	m.notify(et)
	return r.Clone(), nil
}

// Reconcile writes back a remote acknowledgment. When the stored record was edited
// after the pushed snapshot, the remote id is attached but the record stays pending
// so the newer edit is pushed on a later pass.
func (m *Manager) Reconcile(ctx context.Context, et EntityType, w SyncReconciliation) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.Get(ctx, et, w.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s/%s: %w", et, w.ID, err)
	}

	r := stored.Clone()
	now := m.clock.Now()
	if w.RemoteID != "" {
		r.RemoteID = w.RemoteID
	}
	r.SyncError = ""
	r.SyncAttempts = 0
	r.SyncedAt = &now

	stale := !w.PushedAt.IsZero() && stored.UpdatedAt.After(w.PushedAt)
	if stale {
		m.logger.WithFields(logrus.Fields{"entity": et, "id": w.ID}).Debug("acknowledged snapshot is older than local edit, keeping record pending")
	} else {
		r.IsSynced = true
		r.IsUpdate = false
	}

	if err := m.store.Upsert(ctx, et, r); err != nil {
		return nil, fmt.Errorf("failed to reconcile %s/%s: %w", et, w.ID, err)
	}
	return r.Clone(), nil
}

// Apply dispatches a tagged write to Update or Reconcile.
func (m *Manager) Apply(ctx context.Context, et EntityType, w Write) (*Record, error) {
	switch v := w.(type) {
	case UserEdit:
		return m.Update(ctx, et, v.Record)
	case SyncReconciliation:
		return m.Reconcile(ctx, et, v)
	default:
		return nil, fmt.Errorf("unsupported write %T", w)
	}
}

// RecordFailure stores a remote rejection on the record. SyncAttempts grows until it
// reaches limit and then stays there; the return value is true only on the call that
// reached it. A non-positive limit never saturates.
func (m *Manager) RecordFailure(ctx context.Context, et EntityType, id string, cause string, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.Get(ctx, et, id)
	if err != nil {
		return false, fmt.Errorf("failed to load %s/%s: %w", et, id, err)
	}

	r := stored.Clone()
	r.SyncError = cause
	reached := false
	if limit <= 0 || r.SyncAttempts < limit {
		r.SyncAttempts++
		reached = limit > 0 && r.SyncAttempts == limit
	}
	if err := m.store.Upsert(ctx, et, r); err != nil {
		return false, fmt.Errorf("failed to record sync failure for %s/%s: %w", et, id, err)
	}
	return reached, nil
}

// SoftDelete marks the record deleted and pending. It stays in the store until the
// remote confirms the deletion.
func (m *Manager) SoftDelete(ctx context.Context, et EntityType, id string) (*Record, error) {
	m.mu.Lock()
	stored, err := m.store.Get(ctx, et, id)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to load %s/%s: %w", et, id, err)
	}
	if stored.IsDeleted {
		m.mu.Unlock()
		return stored, nil
	}

	r := stored.Clone()
	r.UpdatedAt = m.stamp(stored.UpdatedAt)
	deletedAt := r.UpdatedAt
	r.IsDeleted = true
	r.DeletedAt = &deletedAt
	r.IsSynced = false

	err = m.store.Upsert(ctx, et, r)
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s/%s: %w", et, id, err)
	}

	m.notify(et)
	return r.Clone(), nil
}

// Remove physically deletes a record after the remote confirmed its deletion.
func (m *Manager) Remove(ctx context.Context, et EntityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Delete(ctx, et, id); err != nil {
		return fmt.Errorf("failed to remove %s/%s: %w", et, id, err)
	}
	return nil
}

// Get returns one record, deleted or not.
func (m *Manager) Get(ctx context.Context, et EntityType, id string) (*Record, error) {
	r, err := m.store.Get(ctx, et, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s/%s: %w", et, id, err)
	}
	return r, nil
}

// List returns the records visible to normal reads.
func (m *Manager) List(ctx context.Context, et EntityType) ([]*Record, error) {
	all, err := m.store.GetAll(ctx, et)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", et, err)
	}
	out := all[:0]
	for _, r := range all {
		if !r.IsDeleted {
			out = append(out, r)
		}
	}
	return out, nil
}

// Pending returns every record not yet accepted by the remote, soft-deleted ones
// included, oldest mutation first.
func (m *Manager) Pending(ctx context.Context, et EntityType) ([]*Record, error) {
	all, err := m.store.GetAll(ctx, et)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", et, err)
	}
	var out []*Record
	for _, r := range all {
		if r.Pending() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// RecentlyCreated returns visible records created within window of now.
func (m *Manager) RecentlyCreated(ctx context.Context, et EntityType, window time.Duration) ([]*Record, error) {
	visible, err := m.List(ctx, et)
	if err != nil {
		return nil, err
	}
	cutoff := m.clock.Now().Add(-window)
	var out []*Record
	for _, r := range visible {
		if !r.CreatedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Tombstoned reports whether id was physically removed earlier.
func (m *Manager) Tombstoned(ctx context.Context, et EntityType, id string) (bool, error) {
	ok, err := m.store.Tombstoned(ctx, et, id)
	if err != nil {
		return false, fmt.Errorf("failed to check tombstone for %s/%s: %w", et, id, err)
	}
	return ok, nil
}

// stamp returns now, or the instant right after prev when the clock has not moved,
// so that every local mutation strictly advances UpdatedAt.
func (m *Manager) stamp(prev time.Time) time.Time {
	now := m.clock.Now()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}
