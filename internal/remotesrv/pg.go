// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remotesrv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/logging"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
)

// PGBackend stores sellers' data in Postgres.
type PGBackend struct {
	pool   *pgxpool.Pool
	logger logrus.FieldLogger
}

// OpenPG connects to databaseURL and creates the schema when missing.
func OpenPG(ctx context.Context, databaseURL string, logger logrus.FieldLogger) (*PGBackend, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &PGBackend{pool: pool, logger: logging.Or(logger).WithField("component", "pg_backend")}
	if err := b.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *PGBackend) initialize(ctx context.Context) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS bizsync`); err != nil {
			return fmt.Errorf("failed to create bizsync schema: %w", err)
		}
		stmts := []string{
			/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS bizsync.records (
	seller_id  TEXT NOT NULL,
	entity     TEXT NOT NULL,
	id         TEXT NOT NULL,
	remote_id  UUID NOT NULL,
	payload    JSONB NOT NULL,
	order_hash TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (seller_id, entity, id)
)`,
			`CREATE INDEX IF NOT EXISTS idx_records_order_hash ON bizsync.records(seller_id, order_hash) WHERE order_hash IS NOT NULL`,
			/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS bizsync.plan_orders (
	plan_order_id  TEXT PRIMARY KEY,
	seller_id      TEXT NOT NULL,
	plan_id        TEXT NOT NULL,
	payment_status TEXT NOT NULL,
	starts_at      TIMESTAMPTZ NOT NULL,
	expires_at     TIMESTAMPTZ
)`,
			`CREATE INDEX IF NOT EXISTS idx_plan_orders_seller ON bizsync.plan_orders(seller_id, starts_at)`,
			/*language=postgresql*/ `
CREATE TABLE IF NOT EXISTS bizsync.current_plans (
	seller_id     TEXT PRIMARY KEY,
	plan_order_id TEXT NOT NULL REFERENCES bizsync.plan_orders(plan_order_id)
)`,
		}
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to initialize schema: %w", err)
			}
		}
		b.logger.Info("bizsync schema initialized")
		return nil
	})
}

func (b *PGBackend) Upsert(ctx context.Context, sellerID string, et record.EntityType, rec StoredRecord) (string, bool, error) {
	var remoteID string
	var created bool
	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT remote_id::text FROM bizsync.records WHERE seller_id=$1 AND entity=$2 AND id=$3 FOR UPDATE`,
			sellerID, string(et), rec.Record.ID).Scan(&remoteID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			created = true
			remoteID = rec.RemoteID
			if remoteID == "" {
				remoteID = uuid.New().String()
			}
		case err != nil:
			return fmt.Errorf("failed to look up record: %w", err)
		}

		stored := rec.Record.Clone()
		stored.RemoteID = remoteID
		payload, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		var hash *string
		if rec.OrderHash != "" {
			hash = &rec.OrderHash
		}
		_, err = tx.Exec(ctx, `
INSERT INTO bizsync.records (seller_id, entity, id, remote_id, payload, order_hash, updated_at)
VALUES ($1, $2, $3, $4::uuid, $5, $6, now())
ON CONFLICT (seller_id, entity, id) DO UPDATE
SET payload = EXCLUDED.payload, order_hash = EXCLUDED.order_hash, updated_at = now()`,
			sellerID, string(et), stored.ID, remoteID, payload, hash)
		if err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return remoteID, created, nil
}

func (b *PGBackend) Delete(ctx context.Context, sellerID string, et record.EntityType, id string) error {
	_, err := b.pool.Exec(ctx, `DELETE FROM bizsync.records WHERE seller_id=$1 AND entity=$2 AND id=$3`, sellerID, string(et), id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (b *PGBackend) Exists(ctx context.Context, sellerID string, et record.EntityType, id string) (bool, error) {
	var exists bool
	err := b.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM bizsync.records WHERE seller_id=$1 AND entity=$2 AND id=$3)`,
		sellerID, string(et), id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check record: %w", err)
	}
	return exists, nil
}

func (b *PGBackend) Count(ctx context.Context, sellerID string, et record.EntityType) (int64, error) {
	var n int64
	err := b.pool.QueryRow(ctx,
		`SELECT count(*) FROM bizsync.records WHERE seller_id=$1 AND entity=$2`, sellerID, string(et)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", et, err)
	}
	return n, nil
}

func (b *PGBackend) FindOrder(ctx context.Context, sellerID, hash string) (string, string, bool, error) {
	var id, remoteID string
	err := b.pool.QueryRow(ctx,
		`SELECT id, remote_id::text FROM bizsync.records WHERE seller_id=$1 AND entity=$2 AND order_hash=$3 LIMIT 1`,
		sellerID, string(record.Orders), hash).Scan(&id, &remoteID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("failed to look up order hash: %w", err)
	}
	return id, remoteID, true, nil
}

func (b *PGBackend) Snapshot(ctx context.Context, sellerID string) (map[record.EntityType][]*record.Record, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT entity, payload FROM bizsync.records WHERE seller_id=$1 ORDER BY entity, id`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[record.EntityType][]*record.Record, len(record.SyncOrder))
	for rows.Next() {
		var entity string
		var payload []byte
		if err := rows.Scan(&entity, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		var rec record.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode %s record: %w", entity, err)
		}
		et := record.EntityType(entity)
		out[et] = append(out[et], &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return out, nil
}

func (b *PGBackend) PlanOrders(ctx context.Context, sellerID string) ([]remote.PlanOrder, error) {
	rows, err := b.pool.Query(ctx, `
SELECT po.plan_order_id, po.plan_id, po.payment_status, po.starts_at, po.expires_at,
       cp.plan_order_id IS NOT NULL
FROM bizsync.plan_orders po
LEFT JOIN bizsync.current_plans cp ON cp.seller_id = po.seller_id AND cp.plan_order_id = po.plan_order_id
WHERE po.seller_id = $1
ORDER BY po.starts_at, po.plan_order_id`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan orders: %w", err)
	}
	defer rows.Close()

	var out []remote.PlanOrder
	for rows.Next() {
		var o remote.PlanOrder
		if err := rows.Scan(&o.PlanOrderID, &o.PlanID, &o.PaymentStatus, &o.StartsAt, &o.ExpiresAt, &o.IsCurrent); err != nil {
			return nil, fmt.Errorf("failed to scan plan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (b *PGBackend) AddPlanOrder(ctx context.Context, sellerID string, order remote.PlanOrder) error {
	if order.PlanOrderID == "" {
		order.PlanOrderID = uuid.New().String()
	}
	_, err := b.pool.Exec(ctx, `
INSERT INTO bizsync.plan_orders (plan_order_id, seller_id, plan_id, payment_status, starts_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		order.PlanOrderID, sellerID, order.PlanID, order.PaymentStatus, order.StartsAt, order.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to add plan order: %w", err)
	}
	return nil
}

func (b *PGBackend) CurrentPlanOrder(ctx context.Context, sellerID string) (remote.PlanOrder, bool, error) {
	var o remote.PlanOrder
	err := b.pool.QueryRow(ctx, `
SELECT po.plan_order_id, po.plan_id, po.payment_status, po.starts_at, po.expires_at
FROM bizsync.current_plans cp
JOIN bizsync.plan_orders po ON po.plan_order_id = cp.plan_order_id
WHERE cp.seller_id = $1`, sellerID).Scan(&o.PlanOrderID, &o.PlanID, &o.PaymentStatus, &o.StartsAt, &o.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return remote.PlanOrder{}, false, nil
	}
	if err != nil {
		return remote.PlanOrder{}, false, fmt.Errorf("failed to load current plan: %w", err)
	}
	o.IsCurrent = true
	return o, true, nil
}

func (b *PGBackend) SetCurrentPlanOrder(ctx context.Context, sellerID, planOrderID string) error {
	tag, err := b.pool.Exec(ctx, `
INSERT INTO bizsync.current_plans (seller_id, plan_order_id)
SELECT seller_id, plan_order_id FROM bizsync.plan_orders WHERE seller_id=$1 AND plan_order_id=$2
ON CONFLICT (seller_id) DO UPDATE SET plan_order_id = EXCLUDED.plan_order_id`, sellerID, planOrderID)
	if err != nil {
		return fmt.Errorf("failed to set current plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoPlanOrder
	}
	return nil
}

func (b *PGBackend) Close() { b.pool.Close() }
