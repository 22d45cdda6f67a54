package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/connectivity"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/dedup"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/clock"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/localstore"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/quota"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/syncer"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// fakeRemote acknowledges every push and serves a fixed snapshot.
type fakeRemote struct {
	mu       sync.Mutex
	pushes   []string
	snapshot *remote.SnapshotResponse
	gate     chan struct{} // when set, pushes wait for it to close
}

func (f *fakeRemote) Push(_ context.Context, endpoint, _ string, items []*record.Record) (*remote.PushResponse, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &remote.PushResponse{Success: true}
	for _, it := range items {
		f.pushes = append(f.pushes, endpoint+"/"+it.ID)
		resp.Results.Success = append(resp.Results.Success, remote.PushAck{ID: it.ID, RemoteID: "srv-" + it.ID, Action: remote.ActionCreated})
	}
	return resp, nil
}

func (f *fakeRemote) SellerID(context.Context) (string, error) { return "seller-1", nil }

func (f *fakeRemote) Snapshot(context.Context) (*remote.SnapshotResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshot == nil {
		return nil, errors.New("no snapshot")
	}
	return f.snapshot, nil
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

type usageFunc func(ctx context.Context) (*remote.UsageResponse, error)

func (f usageFunc) Usage(ctx context.Context) (*remote.UsageResponse, error) { return f(ctx) }

type harness struct {
	engine  *Engine
	records *record.Manager
	quota   *quota.Reconciler
	orch    *syncer.Orchestrator
	remote  *fakeRemote
	network *connectivity.Monitor
	clock   *clock.Manual
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := localstore.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		remote:  &fakeRemote{},
		network: connectivity.NewMonitor(true, nil),
		clock:   clock.NewManual(t0),
	}
	guard := dedup.NewGuard()
	h.records = record.NewManager(store, h.clock, nil)
	h.quota = quota.NewReconciler(usageFunc(func(context.Context) (*remote.UsageResponse, error) {
		return nil, remote.ErrUnreachable
	}), h.clock, nil)
	h.orch, err = syncer.New(syncer.Deps{
		Records: h.records,
		Remote:  h.remote,
		Network: h.network,
		Meta:    store,
		Guard:   guard,
		Clock:   h.clock,
	}, nil)
	require.NoError(t, err)

	h.engine, err = New(Deps{
		Records:     h.records,
		Quota:       h.quota,
		Guard:       guard,
		Network:     h.network,
		Pusher:      h.orch,
		Snapshotter: h.remote,
		Clock:       h.clock,
	}, nil)
	require.NoError(t, err)
	return h
}

func order(total any) *record.Record {
	return record.New(map[string]any{
		dedup.FieldSellerID:    "seller-1",
		dedup.FieldCustomerID:  "cust-1",
		dedup.FieldTotalAmount: total,
		dedup.FieldItems: []any{
			map[string]any{"name": "Tea", "quantity": 3, "sellingPrice": 100.5, "costPrice": 70},
			map[string]any{"name": "Rice", "quantity": 1, "sellingPrice": 222, "costPrice": 200},
		},
	})
}

func TestCreateOrder_NearSimultaneousDuplicatesCollapse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start := make(chan struct{})
	outcomes := make([]Outcome, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, outcomes[i], errs[i] = h.engine.CreateOrder(ctx, order(523.50))
		}(i)
	}
	close(start)
	wg.Wait()
	require.NoError(t, errors.Join(errs...))

	require.ElementsMatch(t, []Outcome{OutcomeCreated, OutcomeDuplicate}, outcomes)
	orders, err := h.records.List(ctx, record.Orders)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.LessOrEqual(t, h.remote.pushCount(), 1)
}

func TestCreateOrder_InFlightReservationDrops(t *testing.T) {
	h := newHarness(t)
	h.remote.gate = make(chan struct{})
	ctx := context.Background()

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result)
	go func() {
		_, out, err := h.engine.CreateOrder(ctx, order(523.5))
		done <- result{out, err}
	}()

	// wait until the first submission is stored and blocked in its push
	require.Eventually(t, func() bool {
		orders, _ := h.records.List(ctx, record.Orders)
		return len(orders) == 1
	}, time.Second, time.Millisecond)

	_, out, err := h.engine.CreateOrder(ctx, order("523.500"))
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, out)

	close(h.remote.gate)
	first := <-done
	require.NoError(t, first.err)
	require.Equal(t, OutcomeCreated, first.out)
	require.Equal(t, 1, h.remote.pushCount())

	orders, err := h.records.List(ctx, record.Orders)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.True(t, orders[0].IsSynced)
}

func TestCreateOrder_WindowAndContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, out, err := h.engine.CreateOrder(ctx, order(523.5))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, out)

	_, out, err = h.engine.CreateOrder(ctx, order(99))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, out)

	h.clock.Advance(2 * time.Second)
	_, out, err = h.engine.CreateOrder(ctx, order(523.5))
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, out)

	h.clock.Advance(10 * time.Second)
	_, out, err = h.engine.CreateOrder(ctx, order(523.5))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, out)
	require.Equal(t, 3, h.remote.pushCount())
}

func TestCreateOrder_OfflineQueuesLocally(t *testing.T) {
	h := newHarness(t)
	h.network.SetOnline(false)
	ctx := context.Background()

	rec, out, err := h.engine.CreateOrder(ctx, order(10))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, out)
	require.False(t, rec.IsSynced)
	require.Zero(t, h.remote.pushCount())

	h.network.SetOnline(true)
	report := h.orch.SyncAll(ctx)
	require.True(t, report.Success)
	require.Equal(t, 1, h.remote.pushCount())
}

func TestCreateOrder_RejectsUnhashablePayload(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.engine.CreateOrder(context.Background(), record.New(map[string]any{"totalAmount": "abc"}))
	require.Error(t, err)
	_, _, err = h.engine.CreateOrder(context.Background(), nil)
	require.Error(t, err)
}

func TestCreateRecord_QuotaGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.quota.ReconcileFromRemote(quota.Summary{
		quota.Customers: {Used: 1, Limit: 2, Remaining: 1},
		quota.Products:  {Used: 500, Unlimited: true},
		quota.Orders:    {Used: 5, Limit: 5, Remaining: 0},
	})

	_, err := h.engine.CreateRecord(ctx, record.Customers, record.New(map[string]any{"name": "Ann"}))
	require.NoError(t, err)
	u, _ := h.quota.Get(quota.Customers)
	require.Equal(t, quota.Usage{Used: 2, Limit: 2, Remaining: 0}, u)

	_, err = h.engine.CreateRecord(ctx, record.Customers, record.New(map[string]any{"name": "Bob"}))
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.False(t, h.engine.CanCreate(record.Customers))

	_, err = h.engine.CreateRecord(ctx, record.Products, record.New(map[string]any{"name": "Tea"}))
	require.NoError(t, err)
	_, err = h.engine.CreateRecord(ctx, record.Categories, record.New(map[string]any{"name": "Drinks"}))
	require.NoError(t, err)

	_, _, err = h.engine.CreateOrder(ctx, order(1))
	require.ErrorIs(t, err, ErrQuotaExceeded)
	orders, err := h.records.List(ctx, record.Orders)
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestDeleteRecord_ReleasesQuotaOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.quota.ReconcileFromRemote(quota.Summary{quota.Customers: {Used: 1, Limit: 2, Remaining: 1}})

	rec, err := h.engine.CreateRecord(ctx, record.Customers, record.New(map[string]any{"name": "Ann"}))
	require.NoError(t, err)
	require.NoError(t, h.engine.DeleteRecord(ctx, record.Customers, rec.ID))
	require.NoError(t, h.engine.DeleteRecord(ctx, record.Customers, rec.ID))

	u, _ := h.quota.Get(quota.Customers)
	require.Equal(t, int64(1), u.Used)
	require.Equal(t, int64(1), u.Remaining)
}

func TestUpdateRecord_MakesRecordPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec, err := h.engine.CreateRecord(ctx, record.Products, record.New(map[string]any{"name": "Tea"}))
	require.NoError(t, err)
	require.True(t, h.orch.SyncAll(ctx).Success)

	edit := rec.Clone()
	edit.Fields["name"] = "Green tea"
	h.clock.Advance(time.Second)
	updated, err := h.engine.UpdateRecord(ctx, record.Products, edit)
	require.NoError(t, err)
	require.False(t, updated.IsSynced)
	require.True(t, updated.IsUpdate)
}

func TestHydrate_KeepsPendingAndSkipsTombstones(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, err := h.records.Create(ctx, record.Customers, record.New(map[string]any{"name": "local edit"}))
	require.NoError(t, err)
	gone, err := h.records.Create(ctx, record.Customers, record.New(map[string]any{"name": "removed"}))
	require.NoError(t, err)
	require.NoError(t, h.records.Remove(ctx, record.Customers, gone.ID))

	remoteCopy := func(id, name string) *record.Record {
		r := record.New(map[string]any{"name": name})
		r.ID = id
		r.RemoteID = "srv-" + id
		r.CreatedAt = t0.Add(-time.Hour)
		r.UpdatedAt = t0.Add(-time.Hour)
		return r
	}
	fresh := remoteCopy("c-new", "from server")
	h.remote.snapshot = &remote.SnapshotResponse{Data: map[record.EntityType][]*record.Record{
		record.Customers: {
			fresh,
			remoteCopy(pending.ID, "server version"),
			remoteCopy(gone.ID, "resurrected?"),
		},
	}}

	report, err := h.engine.Hydrate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Applied[record.Customers])
	require.Equal(t, 1, report.Pending[record.Customers])
	require.Equal(t, 1, report.Tombstoned[record.Customers])

	got, err := h.records.Get(ctx, record.Customers, "c-new")
	require.NoError(t, err)
	require.True(t, got.IsSynced)

	kept, err := h.records.Get(ctx, record.Customers, pending.ID)
	require.NoError(t, err)
	require.Equal(t, "local edit", kept.FieldString("name"))

	_, err = h.records.Get(ctx, record.Customers, gone.ID)
	require.ErrorIs(t, err, record.ErrNotFound)
}

func TestHydrate_DoesNotTriggerSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var mutations int
	h.records.OnMutation(func(record.EntityType) { mutations++ })

	r := record.New(map[string]any{"name": "Drinks"})
	r.ID = "cat-1"
	h.remote.snapshot = &remote.SnapshotResponse{Data: map[record.EntityType][]*record.Record{record.Categories: {r}}}
	_, err := h.engine.Hydrate(ctx)
	require.NoError(t, err)
	require.Zero(t, mutations)

	report := h.orch.SyncAll(ctx)
	require.True(t, report.Success)
	require.Zero(t, h.remote.pushCount())
}

func TestHydrate_Offline(t *testing.T) {
	h := newHarness(t)
	h.network.SetOnline(false)
	_, err := h.engine.Hydrate(context.Background())
	require.ErrorIs(t, err, remote.ErrUnreachable)
}

func TestSoftDelete_RoundTripIsNotResurrected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.engine.CreateRecord(ctx, record.Products, record.New(map[string]any{"name": "Tea"}))
	require.NoError(t, err)
	require.True(t, h.orch.SyncAll(ctx).Success)

	h.clock.Advance(time.Second)
	require.NoError(t, h.engine.DeleteRecord(ctx, record.Products, rec.ID))
	report := h.orch.SyncAll(ctx)
	require.True(t, report.Success)

	_, err = h.records.Get(ctx, record.Products, rec.ID)
	require.ErrorIs(t, err, record.ErrNotFound)

	// a lagging snapshot still lists the product
	stale := rec.Clone()
	stale.IsSynced = true
	h.remote.snapshot = &remote.SnapshotResponse{Data: map[record.EntityType][]*record.Record{record.Products: {stale}}}
	hr, err := h.engine.Hydrate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, hr.Tombstoned[record.Products])

	visible, err := h.records.List(ctx, record.Products)
	require.NoError(t, err)
	require.Empty(t, visible)
}
