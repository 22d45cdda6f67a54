package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonitor_NotifiesOnTransitionsOnly(t *testing.T) {
	m := NewMonitor(false, nil)
	var mu sync.Mutex
	var events []bool
	unsubscribe := m.Subscribe(func(online bool) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, online)
	})

	m.SetOnline(false)
	m.SetOnline(true)
	m.SetOnline(true)
	m.SetOnline(false)
	require.False(t, m.IsOnline())

	unsubscribe()
	m.SetOnline(true)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false}, events)
}

type probeFunc func(ctx context.Context) error

func (f probeFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestMonitor_WatchFollowsProbe(t *testing.T) {
	m := NewMonitor(false, nil)
	var healthy atomic.Bool
	healthy.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Watch(ctx, probeFunc(func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("connection refused")
		}), 5*time.Millisecond)
	}()

	require.Eventually(t, m.IsOnline, time.Second, time.Millisecond)
	healthy.Store(false)
	require.Eventually(t, func() bool { return !m.IsOnline() }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not stop after cancel")
	}
}
