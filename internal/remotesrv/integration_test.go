package remotesrv

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
)

// openTestPG connects to TEST_DATABASE_URL, or starts a Postgres container.
func openTestPG(t *testing.T) *PGBackend {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		container, err := postgres.RunContainer(ctx,
			testcontainers.WithImage("postgres:15-alpine"),
			postgres.WithDatabase("bizsync_test"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			t.Skipf("postgres container unavailable: %v", err)
		}
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })
		url, err = container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	b, err := OpenPG(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestPGBackend_RecordsAndPlans(t *testing.T) {
	b := openTestPG(t)
	ctx := context.Background()
	seller := "seller-" + uuid.NewString()

	rec := customer("c1", "Ann")
	remoteID, created, err := b.Upsert(ctx, seller, record.Customers, StoredRecord{Record: rec})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := b.Upsert(ctx, seller, record.Customers, StoredRecord{Record: customer("c1", "Ann B.")})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, remoteID, again)

	ord := orderRecord("o1", 10)
	_, _, err = b.Upsert(ctx, seller, record.Orders, StoredRecord{Record: ord, OrderHash: "h1"})
	require.NoError(t, err)
	id, _, ok, err := b.FindOrder(ctx, seller, "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "o1", id)

	snap, err := b.Snapshot(ctx, seller)
	require.NoError(t, err)
	require.Len(t, snap[record.Customers], 1)
	assert.Equal(t, "Ann B.", snap[record.Customers][0].FieldString("name"))
	assert.Equal(t, remoteID, snap[record.Customers][0].RemoteID)

	require.NoError(t, b.Delete(ctx, seller, record.Customers, "c1"))
	n, err := b.Count(ctx, seller, record.Customers)
	require.NoError(t, err)
	assert.Zero(t, n)

	exp := now0.Add(time.Hour)
	poID := uuid.NewString()
	require.NoError(t, b.AddPlanOrder(ctx, seller, remote.PlanOrder{
		PlanID: "basic", PlanOrderID: poID, PaymentStatus: remote.PaymentCompleted, StartsAt: now0, ExpiresAt: &exp,
	}))
	assert.ErrorIs(t, b.SetCurrentPlanOrder(ctx, seller, "missing"), ErrNoPlanOrder)
	require.NoError(t, b.SetCurrentPlanOrder(ctx, seller, poID))

	cur, ok, err := b.CurrentPlanOrder(ctx, seller)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "basic", cur.PlanID)

	orders, err := b.PlanOrders(ctx, seller)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].IsCurrent)
}

func TestRedisGate_SerializesKey(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDRESS")
	if addr == "" || testing.Short() {
		t.Skip("TEST_REDIS_ADDRESS not set")
	}
	ctx := context.Background()
	rdb, err := ConnectRedis(ctx, addr, os.Getenv("TEST_REDIS_PASSWORD"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	gate := NewRedisGate(rdb, 5*time.Second, 2*time.Second)
	key := "test:" + uuid.NewString()

	unlock, err := gate.Lock(ctx, key)
	require.NoError(t, err)

	short := NewRedisGate(rdb, 5*time.Second, 200*time.Millisecond)
	_, err = short.Lock(ctx, key)
	assert.ErrorIs(t, err, ErrGateBusy)

	unlock()
	unlock2, err := short.Lock(ctx, key)
	require.NoError(t, err)
	unlock2()
}

func TestMemoryGate_SerializesKey(t *testing.T) {
	gate := NewMemoryGate()
	ctx := context.Background()

	var mu sync.Mutex
	inside, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, _ := gate.Lock(ctx, "k")
			mu.Lock()
			inside++
			peak = max(peak, inside)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, peak)

	gate.mu.Lock()
	defer gate.mu.Unlock()
	assert.Empty(t, gate.locks)
}
