package record_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/clock"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/localstore"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newManager(t *testing.T) (*record.Manager, *localstore.Store, *clock.Manual) {
	t.Helper()
	s, err := localstore.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	clk := clock.NewManual(t0)
	return record.NewManager(s, clk, nil), s, clk
}

func TestCreate_AssignsIDAndIsPending(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	var hooked []record.EntityType
	m.OnMutation(func(et record.EntityType) { hooked = append(hooked, et) })

	in := record.New(map[string]any{"name": "Alice"})
	in.IsSynced = true // ignored for local creates

	got, err := m.Create(ctx, record.Customers, in)
	require.NoError(t, err)
	require.NotEmpty(t, got.ID)
	require.False(t, got.IsSynced)
	require.Equal(t, t0, got.CreatedAt)
	require.Equal(t, t0, got.UpdatedAt)
	require.Equal(t, []record.EntityType{record.Customers}, hooked)

	// caller's record untouched
	require.Empty(t, in.ID)
	require.True(t, in.IsSynced)

	stored, err := m.Get(ctx, record.Customers, got.ID)
	require.NoError(t, err)
	require.Equal(t, "Alice", stored.FieldString("name"))
}

func TestCreate_FromRemoteIsSyncedAndSilent(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	hooked := 0
	m.OnMutation(func(record.EntityType) { hooked++ })

	in := record.New(map[string]any{"name": "Rice"})
	in.ID = "p1"
	in.RemoteID = "srv-p1"
	got, err := m.Create(ctx, record.Products, in, record.FromRemote())
	require.NoError(t, err)
	require.True(t, got.IsSynced)
	require.NotNil(t, got.SyncedAt)
	require.Equal(t, 0, hooked)

	pending, err := m.Pending(ctx, record.Products)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestCreate_UnknownEntity(t *testing.T) {
	m, _, _ := newManager(t)
	_, err := m.Create(context.Background(), record.EntityType("widgets"), record.New(nil))
	require.Error(t, err)
}

func TestUpdate_HumanEditMakesPending(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager(t)

	created, err := m.Create(ctx, record.Products, record.New(map[string]any{"name": "Tea"}))
	require.NoError(t, err)
	_, err = m.Reconcile(ctx, record.Products, record.SyncReconciliation{ID: created.ID, RemoteID: "srv-1", PushedAt: created.UpdatedAt})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	edit := record.New(map[string]any{"name": "Green Tea"})
	edit.ID = created.ID
	updated, err := m.Apply(ctx, record.Products, record.UserEdit{Record: edit})
	require.NoError(t, err)
	require.False(t, updated.IsSynced)
	require.True(t, updated.IsUpdate)
	require.Equal(t, "srv-1", updated.RemoteID)
	require.Equal(t, t0, updated.CreatedAt)
	require.Equal(t, t0.Add(time.Minute), updated.UpdatedAt)
	require.Equal(t, "Green Tea", updated.FieldString("name"))
}

func TestUpdate_Missing(t *testing.T) {
	m, _, _ := newManager(t)
	r := record.New(nil)
	r.ID = "nope"
	_, err := m.Update(context.Background(), record.Products, r)
	require.True(t, errors.Is(err, record.ErrNotFound))
}

func TestUpdate_SameInstantStillAdvances(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	created, err := m.Create(ctx, record.Products, record.New(nil))
	require.NoError(t, err)
	updated, err := m.Update(ctx, record.Products, created)
	require.NoError(t, err)
	require.True(t, updated.UpdatedAt.After(created.UpdatedAt))
}

func TestReconcile_ClearsFailureState(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager(t)

	created, err := m.Create(ctx, record.Orders, record.New(nil))
	require.NoError(t, err)
	_, err = m.RecordFailure(ctx, record.Orders, created.ID, "network", 3)
	require.NoError(t, err)

	clk.Advance(time.Second)
	got, err := m.Reconcile(ctx, record.Orders, record.SyncReconciliation{ID: created.ID, RemoteID: "srv-o1", PushedAt: created.UpdatedAt})
	require.NoError(t, err)
	require.True(t, got.IsSynced)
	require.Equal(t, "srv-o1", got.RemoteID)
	require.Empty(t, got.SyncError)
	require.Zero(t, got.SyncAttempts)
	require.Equal(t, t0.Add(time.Second), *got.SyncedAt)
}

func TestReconcile_StaleAckKeepsNewerEditPending(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager(t)

	created, err := m.Create(ctx, record.Customers, record.New(map[string]any{"name": "Bob"}))
	require.NoError(t, err)
	pushed := created.UpdatedAt

	// edit lands while the push is in flight
	clk.Advance(time.Second)
	edit := created.Clone()
	edit.Fields["name"] = "Robert"
	_, err = m.Update(ctx, record.Customers, edit)
	require.NoError(t, err)

	got, err := m.Reconcile(ctx, record.Customers, record.SyncReconciliation{ID: created.ID, RemoteID: "srv-c1", PushedAt: pushed})
	require.NoError(t, err)
	require.False(t, got.IsSynced)
	require.Equal(t, "srv-c1", got.RemoteID)
	require.Equal(t, "Robert", got.FieldString("name"))
}

func TestRecordFailure_SaturatesAtLimit(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	created, err := m.Create(ctx, record.Orders, record.New(nil))
	require.NoError(t, err)

	var reached []bool
	for i := 0; i < 5; i++ {
		r, err := m.RecordFailure(ctx, record.Orders, created.ID, "rejected", 3)
		require.NoError(t, err)
		reached = append(reached, r)
	}
	require.Equal(t, []bool{false, false, true, false, false}, reached)

	got, err := m.Get(ctx, record.Orders, created.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.SyncAttempts)
	require.Equal(t, "rejected", got.SyncError)
	require.False(t, got.IsSynced)
	require.Equal(t, created.UpdatedAt, got.UpdatedAt)
}

func TestSoftDelete_HiddenButPending(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager(t)

	created, err := m.Create(ctx, record.Customers, record.New(nil))
	require.NoError(t, err)
	_, err = m.Reconcile(ctx, record.Customers, record.SyncReconciliation{ID: created.ID, PushedAt: created.UpdatedAt})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	deleted, err := m.SoftDelete(ctx, record.Customers, created.ID)
	require.NoError(t, err)
	require.True(t, deleted.IsDeleted)
	require.False(t, deleted.IsSynced)
	require.NotNil(t, deleted.DeletedAt)

	visible, err := m.List(ctx, record.Customers)
	require.NoError(t, err)
	require.Empty(t, visible)

	pending, err := m.Pending(ctx, record.Customers)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, created.ID, pending[0].ID)

	require.NoError(t, m.Remove(ctx, record.Customers, created.ID))
	_, err = m.Get(ctx, record.Customers, created.ID)
	require.ErrorIs(t, err, record.ErrNotFound)
	tomb, err := m.Tombstoned(ctx, record.Customers, created.ID)
	require.NoError(t, err)
	require.True(t, tomb)
}

func TestRecentlyCreated(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager(t)

	old, err := m.Create(ctx, record.Orders, record.New(nil))
	require.NoError(t, err)
	clk.Advance(10 * time.Second)
	fresh, err := m.Create(ctx, record.Orders, record.New(nil))
	require.NoError(t, err)
	clk.Advance(2 * time.Second)

	recent, err := m.RecentlyCreated(ctx, record.Orders, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, fresh.ID, recent[0].ID)
	require.NotEqual(t, old.ID, recent[0].ID)
}

func TestPending_OldestFirst(t *testing.T) {
	ctx := context.Background()
	m, _, clk := newManager(t)

	a, err := m.Create(ctx, record.Categories, record.New(nil))
	require.NoError(t, err)
	clk.Advance(time.Second)
	b, err := m.Create(ctx, record.Categories, record.New(nil))
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, err = m.Update(ctx, record.Categories, a)
	require.NoError(t, err)

	pending, err := m.Pending(ctx, record.Categories)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, b.ID, pending[0].ID)
	require.Equal(t, a.ID, pending[1].ID)
}

// editingStore runs edit once, concurrently, right after the first Get of id.
type editingStore struct {
	*localstore.Store
	id   string
	once sync.Once
	edit func()
	done chan struct{}
}

func (s *editingStore) Get(ctx context.Context, et record.EntityType, id string) (*record.Record, error) {
	rec, err := s.Store.Get(ctx, et, id)
	if id == s.id && s.edit != nil {
		s.once.Do(func() {
			go func() {
				defer close(s.done)
				s.edit()
			}()
			time.Sleep(20 * time.Millisecond)
		})
	}
	return rec, err
}

func TestApplyRemote_SkipsTombstonedAndPending(t *testing.T) {
	ctx := context.Background()
	m, s, _ := newManager(t)

	res, err := m.ApplyRemote(ctx, record.Customers, &record.Record{ID: "c1", RemoteID: "srv-c1", Fields: map[string]any{"name": "Ann"}})
	require.NoError(t, err)
	require.Equal(t, record.RemoteApplied, res)
	got, err := m.Get(ctx, record.Customers, "c1")
	require.NoError(t, err)
	require.True(t, got.IsSynced)
	require.NotNil(t, got.SyncedAt)

	_, err = m.Update(ctx, record.Customers, &record.Record{ID: "c1", Fields: map[string]any{"name": "Ann B."}})
	require.NoError(t, err)
	res, err = m.ApplyRemote(ctx, record.Customers, &record.Record{ID: "c1", Fields: map[string]any{"name": "Ann"}})
	require.NoError(t, err)
	require.Equal(t, record.RemoteKeptLocal, res)
	got, err = m.Get(ctx, record.Customers, "c1")
	require.NoError(t, err)
	require.Equal(t, "Ann B.", got.FieldString("name"))

	require.NoError(t, s.Delete(ctx, record.Customers, "c1"))
	res, err = m.ApplyRemote(ctx, record.Customers, &record.Record{ID: "c1", Fields: map[string]any{"name": "Ann"}})
	require.NoError(t, err)
	require.Equal(t, record.RemoteTombstoned, res)
	_, err = m.Get(ctx, record.Customers, "c1")
	require.ErrorIs(t, err, record.ErrNotFound)
}

func TestApplyRemote_ConcurrentEditIsNotLost(t *testing.T) {
	ctx := context.Background()
	base, err := localstore.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = base.Close() })
	clk := clock.NewManual(t0)

	seed := record.NewManager(base, clk, nil)
	_, err = seed.ApplyRemote(ctx, record.Customers, &record.Record{ID: "c1", Fields: map[string]any{"name": "old"}})
	require.NoError(t, err)
	clk.Advance(time.Minute)

	store := &editingStore{Store: base, id: "c1", done: make(chan struct{})}
	m := record.NewManager(store, clk, nil)
	var editErr error
	store.edit = func() {
		_, editErr = m.Update(ctx, record.Customers, &record.Record{ID: "c1", Fields: map[string]any{"name": "edited"}})
	}

	_, err = m.ApplyRemote(ctx, record.Customers, &record.Record{ID: "c1", Fields: map[string]any{"name": "old"}})
	require.NoError(t, err)
	<-store.done
	require.NoError(t, editErr)

	got, err := base.Get(ctx, record.Customers, "c1")
	require.NoError(t, err)
	require.Equal(t, "edited", got.FieldString("name"))
	require.False(t, got.IsSynced)
}
