// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remotesrv

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
)

// ErrNoPlanOrder is returned when a seller has no matching plan order.
var ErrNoPlanOrder = errors.New("plan order not found")

// StoredRecord is a record as the remote keeps it.
type StoredRecord struct {
	Record    *record.Record
	RemoteID  string
	OrderHash string // set for orders
}

// Backend persists the authoritative data of every seller.
type Backend interface {
	// Upsert stores rec under its client id and returns the remote id and whether it was new.
	Upsert(ctx context.Context, sellerID string, et record.EntityType, rec StoredRecord) (remoteID string, created bool, err error)
	// Delete removes the record; deleting an unknown id is not an error.
	Delete(ctx context.Context, sellerID string, et record.EntityType, id string) error
	Exists(ctx context.Context, sellerID string, et record.EntityType, id string) (bool, error)
	Count(ctx context.Context, sellerID string, et record.EntityType) (int64, error)
	// FindOrder returns the id and remote id of an order with the given hash.
	FindOrder(ctx context.Context, sellerID, hash string) (id, remoteID string, ok bool, err error)
	Snapshot(ctx context.Context, sellerID string) (map[record.EntityType][]*record.Record, error)

	PlanOrders(ctx context.Context, sellerID string) ([]remote.PlanOrder, error)
	AddPlanOrder(ctx context.Context, sellerID string, order remote.PlanOrder) error
	// CurrentPlanOrder returns the plan order the seller's current pointer names.
	CurrentPlanOrder(ctx context.Context, sellerID string) (remote.PlanOrder, bool, error)
	SetCurrentPlanOrder(ctx context.Context, sellerID, planOrderID string) error

	Close()
}

type memSeller struct {
	records     map[record.EntityType]map[string]StoredRecord
	planOrders  []remote.PlanOrder
	currentPlan string
}

// MemoryBackend keeps everything in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	sellers map[string]*memSeller
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sellers: make(map[string]*memSeller)}
}

func (b *MemoryBackend) seller(id string) *memSeller {
	s, ok := b.sellers[id]
	if !ok {
		s = &memSeller{records: make(map[record.EntityType]map[string]StoredRecord)}
		b.sellers[id] = s
	}
	return s
}

func (b *MemoryBackend) Upsert(_ context.Context, sellerID string, et record.EntityType, rec StoredRecord) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.seller(sellerID)
	coll, ok := s.records[et]
	if !ok {
		coll = make(map[string]StoredRecord)
		s.records[et] = coll
	}
	prev, exists := coll[rec.Record.ID]
	if exists {
		rec.RemoteID = prev.RemoteID
	} else if rec.RemoteID == "" {
		rec.RemoteID = uuid.New().String()
	}
	rec.Record = rec.Record.Clone()
	rec.Record.RemoteID = rec.RemoteID
	coll[rec.Record.ID] = rec
	return rec.RemoteID, !exists, nil
}

func (b *MemoryBackend) Delete(_ context.Context, sellerID string, et record.EntityType, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.seller(sellerID).records[et], id)
	return nil
}

func (b *MemoryBackend) Exists(_ context.Context, sellerID string, et record.EntityType, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sellers[sellerID]
	if !ok {
		return false, nil
	}
	_, ok = s.records[et][id]
	return ok, nil
}

func (b *MemoryBackend) Count(_ context.Context, sellerID string, et record.EntityType) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sellers[sellerID]
	if !ok {
		return 0, nil
	}
	return int64(len(s.records[et])), nil
}

func (b *MemoryBackend) FindOrder(_ context.Context, sellerID, hash string) (string, string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sellers[sellerID]
	if !ok || hash == "" {
		return "", "", false, nil
	}
	for id, r := range s.records[record.Orders] {
		if r.OrderHash == hash {
			return id, r.RemoteID, true, nil
		}
	}
	return "", "", false, nil
}

func (b *MemoryBackend) Snapshot(_ context.Context, sellerID string) (map[record.EntityType][]*record.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[record.EntityType][]*record.Record, len(record.SyncOrder))
	s, ok := b.sellers[sellerID]
	if !ok {
		return out, nil
	}
	for et, coll := range s.records {
		list := make([]*record.Record, 0, len(coll))
		for _, r := range coll {
			list = append(list, r.Record.Clone())
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		out[et] = list
	}
	return out, nil
}

func (b *MemoryBackend) PlanOrders(_ context.Context, sellerID string) ([]remote.PlanOrder, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sellers[sellerID]
	if !ok {
		return nil, nil
	}
	out := make([]remote.PlanOrder, len(s.planOrders))
	copy(out, s.planOrders)
	for i := range out {
		out[i].IsCurrent = out[i].PlanOrderID == s.currentPlan
	}
	return out, nil
}

func (b *MemoryBackend) AddPlanOrder(_ context.Context, sellerID string, order remote.PlanOrder) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.seller(sellerID)
	if order.PlanOrderID == "" {
		order.PlanOrderID = uuid.New().String()
	}
	order.IsCurrent = false
	s.planOrders = append(s.planOrders, order)
	return nil
}

func (b *MemoryBackend) CurrentPlanOrder(_ context.Context, sellerID string) (remote.PlanOrder, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sellers[sellerID]
	if !ok || s.currentPlan == "" {
		return remote.PlanOrder{}, false, nil
	}
	for _, o := range s.planOrders {
		if o.PlanOrderID == s.currentPlan {
			o.IsCurrent = true
			return o, true, nil
		}
	}
	return remote.PlanOrder{}, false, nil
}

func (b *MemoryBackend) SetCurrentPlanOrder(_ context.Context, sellerID, planOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.seller(sellerID)
	for _, o := range s.planOrders {
		if o.PlanOrderID == planOrderID {
			s.currentPlan = planOrderID
			return nil
		}
	}
	return ErrNoPlanOrder
}

func (b *MemoryBackend) Close() {}

// latestPaidEnd returns when the last paid term of orders ends, or now when none
// extends past it.
func latestPaidEnd(orders []remote.PlanOrder, now time.Time) time.Time {
	end := now
	for _, o := range orders {
		if o.PaymentStatus != remote.PaymentCompleted || o.ExpiresAt == nil {
			continue
		}
		if o.ExpiresAt.After(end) {
			end = *o.ExpiresAt
		}
	}
	return end
}
