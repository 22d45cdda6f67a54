package localstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInitializeDatabase(t *testing.T) {
	s := openTestStore(t)

	for _, table := range []string{"records", "tombstones", "meta"} {
		var count int
		err := s.DB.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 1, count, "Table %s should exist", table)
	}

	// idempotent
	require.NoError(t, initializeDatabase(s.DB))
}

func TestUpsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	now := time.Date(2025, 5, 1, 10, 0, 0, 123, time.UTC)
	r := record.New(map[string]any{"name": "Tea", "price": 12.5})
	r.ID = "p1"
	r.CreatedAt = now
	r.UpdatedAt = now
	require.NoError(t, s.Upsert(ctx, record.Products, r))

	got, err := s.Get(ctx, record.Products, "p1")
	require.NoError(t, err)
	require.Equal(t, "p1", got.ID)
	require.Equal(t, "Tea", got.FieldString("name"))
	require.Equal(t, "12.5", got.FieldString("price"))
	require.True(t, got.UpdatedAt.Equal(now))
	require.False(t, got.IsSynced)

	r.IsSynced = true
	r.RemoteID = "srv-1"
	require.NoError(t, s.Upsert(ctx, record.Products, r))
	got, err = s.Get(ctx, record.Products, "p1")
	require.NoError(t, err)
	require.True(t, got.IsSynced)
	require.Equal(t, "srv-1", got.RemoteID)

	// collections are isolated
	_, err = s.Get(ctx, record.Customers, "p1")
	require.True(t, errors.Is(err, record.ErrNotFound))
}

func TestGetAllOrdersByUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		r := record.New(nil)
		r.ID = id
		r.UpdatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.Upsert(ctx, record.Customers, r))
	}

	all, err := s.GetAll(ctx, record.Customers)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []string{"c", "a", "b"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestGetAllOrdersSubSecondTimestamps(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2025, 5, 1, 10, 0, 5, 0, time.UTC)
	stamps := map[string]time.Time{
		"whole":  base,
		"half":   base.Add(500 * time.Millisecond),
		"nano":   base.Add(time.Nanosecond),
		"second": base.Add(time.Second),
	}
	for _, id := range []string{"second", "half", "nano", "whole"} {
		r := record.New(nil)
		r.ID = id
		r.UpdatedAt = stamps[id]
		require.NoError(t, s.Upsert(ctx, record.Customers, r))
	}

	all, err := s.GetAll(ctx, record.Customers)
	require.NoError(t, err)
	var ids []string
	for _, r := range all {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"whole", "nano", "half", "second"}, ids)
}

func TestDeleteWritesTombstone(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	r := record.New(nil)
	r.ID = "o1"
	require.NoError(t, s.Upsert(ctx, record.Orders, r))

	ok, err := s.Tombstoned(ctx, record.Orders, "o1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Delete(ctx, record.Orders, "o1"))

	_, err = s.Get(ctx, record.Orders, "o1")
	require.ErrorIs(t, err, record.ErrNotFound)
	ok, err = s.Tombstoned(ctx, record.Orders, "o1")
	require.NoError(t, err)
	require.True(t, ok)

	// deleting twice is harmless
	require.NoError(t, s.Delete(ctx, record.Orders, "o1"))
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, ok, err := s.GetMeta(ctx, MetaSellerID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetMeta(ctx, MetaSellerID, "seller-1"))
	require.NoError(t, s.SetMeta(ctx, MetaSellerID, "seller-2"))

	v, ok, err := s.GetMeta(ctx, MetaSellerID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "seller-2", v)
}

func TestPendingCounts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	pending := record.New(nil)
	pending.ID = "x1"
	synced := record.New(nil)
	synced.ID = "x2"
	synced.IsSynced = true
	require.NoError(t, s.Upsert(ctx, record.Transactions, pending))
	require.NoError(t, s.Upsert(ctx, record.Transactions, synced))

	counts, err := s.PendingCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[record.Transactions])
	require.Equal(t, 0, counts[record.Categories])
	require.Len(t, counts, len(record.SyncOrder))
}
