// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
)

// HydrateReport counts what Hydrate did per collection.
type HydrateReport struct {
	Applied    map[record.EntityType]int `json:"applied"`
	Pending    map[record.EntityType]int `json:"pending"`    // kept: local edits not yet pushed
	Tombstoned map[record.EntityType]int `json:"tombstoned"` // ignored: removed locally before
}

func newHydrateReport() *HydrateReport {
	return &HydrateReport{
		Applied:    make(map[record.EntityType]int),
		Pending:    make(map[record.EntityType]int),
		Tombstoned: make(map[record.EntityType]int),
	}
}

// Hydrate downloads the authoritative snapshot and stores it as synced records.
// Records with local changes not yet pushed are left alone, and ids that were
// physically removed after a confirmed deletion are never brought back.
func (e *Engine) Hydrate(ctx context.Context) (*HydrateReport, error) {
	if e.snapshot == nil {
		return nil, fmt.Errorf("hydration needs a snapshot source")
	}
	if e.network != nil && !e.network.IsOnline() {
		return nil, fmt.Errorf("failed to hydrate: %w", remote.ErrUnreachable)
	}
	snap, err := e.snapshot.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	return e.ApplySnapshot(ctx, snap)
}

// ApplySnapshot stores a snapshot fetched elsewhere. Collections are applied in sync order.
func (e *Engine) ApplySnapshot(ctx context.Context, snap *remote.SnapshotResponse) (*HydrateReport, error) {
	report := newHydrateReport()
	if snap == nil {
		return report, nil
	}
	for _, et := range record.SyncOrder {
		for _, rec := range snap.Data[et] {
			if rec == nil || rec.ID == "" || rec.IsDeleted {
				continue
			}
			applied, reason, err := e.hydrateOne(ctx, et, rec)
			if err != nil {
				return report, err
			}
			switch {
			case applied:
				report.Applied[et]++
			case reason == skipPending:
				report.Pending[et]++
			case reason == skipTombstoned:
				report.Tombstoned[et]++
			}
		}
	}
	e.logger.WithFields(logrus.Fields{
		"applied":    report.Applied,
		"pending":    report.Pending,
		"tombstoned": report.Tombstoned,
	}).Info("snapshot applied")
	return report, nil
}

func (e *Engine) hydrateOne(ctx context.Context, et record.EntityType, rec *record.Record) (bool, skipReason, error) {
	res, err := e.records.ApplyRemote(ctx, et, rec)
	if err != nil {
		return false, skipNone, err
	}
	switch res {
	case record.RemoteKeptLocal:
		return false, skipPending, nil
	case record.RemoteTombstoned:
		return false, skipTombstoned, nil
	}
	return true, skipNone, nil
}

type skipReason int

const (
	skipNone skipReason = iota
	skipPending
	skipTombstoned
)
