// Package localstore persists syncable records in SQLite, one logical table per
// collection, together with tombstones for physically removed records and a small
// key-value meta table for client state such as the cached seller id.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/logging"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
)

// Meta keys
const (
	MetaSellerID = "seller_id"
	MetaDeviceID = "device_id"
)

// Store is a record.Store backed by SQLite.
type Store struct {
	DB      *sql.DB
	logger  logrus.FieldLogger
	writeMu sync.Mutex // Serialize write operations to prevent SQLite locking issues
}

var _ record.Store = (*Store)(nil)

// Open opens (or creates) the database at path. ":memory:" yields a private in-memory database.
func Open(path string, logger logrus.FieldLogger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	s, err := New(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database and creates the tables if needed.
func New(db *sql.DB, logger logrus.FieldLogger) (*Store, error) {
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &Store{
		DB:     db,
		logger: logging.Or(logger).WithField("component", "localstore"),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// sortableTime keeps fractional seconds at fixed width so text order is time order.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS records (
			entity     TEXT NOT NULL,
			id         TEXT NOT NULL,
			payload    TEXT NOT NULL,          -- flattened record JSON
			updated_at TEXT NOT NULL,
			PRIMARY KEY (entity, id)
		)`,
		`CREATE TABLE IF NOT EXISTS tombstones (
			entity     TEXT NOT NULL,
			id         TEXT NOT NULL,
			deleted_at TEXT NOT NULL,
			PRIMARY KEY (entity, id)
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// GetAll returns every stored record of a collection, deleted ones included.
func (s *Store) GetAll(ctx context.Context, et record.EntityType) ([]*record.Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT payload FROM records WHERE entity = ? ORDER BY updated_at, id`, string(et))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", et, err)
	}
	defer rows.Close()

	var out []*record.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", et, err)
		}
		r := &record.Record{}
		if err := json.Unmarshal([]byte(payload), r); err != nil {
			return nil, fmt.Errorf("failed to decode %s row: %w", et, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", et, err)
	}
	return out, nil
}

// Get returns one record or record.ErrNotFound.
func (s *Store) Get(ctx context.Context, et record.EntityType, id string) (*record.Record, error) {
	var payload string
	err := s.DB.QueryRowContext(ctx,
		`SELECT payload FROM records WHERE entity = ? AND id = ?`, string(et), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, record.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s/%s: %w", et, id, err)
	}
	r := &record.Record{}
	if err := json.Unmarshal([]byte(payload), r); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", et, id, err)
	}
	return r, nil
}

// Upsert inserts or replaces a record.
func (s *Store) Upsert(ctx context.Context, et record.EntityType, rec *record.Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", et, rec.ID, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO records (entity, id, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(entity, id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		string(et), rec.ID, string(payload), rec.UpdatedAt.UTC().Format(sortableTime))
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", et, rec.ID, err)
	}
	return nil
}

// Delete removes a record and writes its tombstone in one transaction.
func (s *Store) Delete(ctx context.Context, et record.EntityType, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE entity = ? AND id = ?`, string(et), id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", et, id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tombstones (entity, id, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT(entity, id) DO UPDATE SET deleted_at = excluded.deleted_at`,
		string(et), id, time.Now().UTC().Format(sortableTime)); err != nil {
		return fmt.Errorf("failed to write tombstone for %s/%s: %w", et, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"entity": et, "id": id}).Debug("record removed")
	return nil
}

// Tombstoned reports whether id was physically deleted.
func (s *Store) Tombstoned(ctx context.Context, et record.EntityType, id string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tombstones WHERE entity = ? AND id = ?`, string(et), id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query tombstone: %w", err)
	}
	return n > 0, nil
}

// GetMeta returns the value stored under key.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta stores value under key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}

// PendingCounts returns the number of pending records per collection.
func (s *Store) PendingCounts(ctx context.Context) (map[record.EntityType]int, error) {
	out := make(map[record.EntityType]int, len(record.SyncOrder))
	for _, et := range record.SyncOrder {
		all, err := s.GetAll(ctx, et)
		if err != nil {
			return nil, err
		}
		n := 0
		for _, r := range all {
			if r.Pending() {
				n++
			}
		}
		out[et] = n
	}
	return out, nil
}
