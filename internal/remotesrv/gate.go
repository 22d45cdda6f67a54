// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remotesrv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrGateBusy is returned when a key stays locked longer than the configured wait.
var ErrGateBusy = errors.New("order gate busy")

// OrderGate serializes order creation per seller and content hash, so two devices
// submitting the same order at once store it only once.
type OrderGate interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MemoryGate is an in-process OrderGate.
type MemoryGate struct {
	mu    sync.Mutex
	locks map[string]*gateEntry
}

type gateEntry struct {
	mu   sync.Mutex
	refs int
}

// NewMemoryGate creates an in-process gate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{locks: make(map[string]*gateEntry)}
}

func (g *MemoryGate) Lock(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	e, ok := g.locks[key]
	if !ok {
		e = &gateEntry{}
		g.locks[key] = e
	}
	e.refs++
	g.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		g.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(g.locks, key)
		}
		g.mu.Unlock()
	}, nil
}

// RedisGate is an OrderGate shared by every server instance through Redis locks.
type RedisGate struct {
	locker *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisGate creates a gate on rdb. Locks expire after ttl; Lock waits up to wait.
func NewRedisGate(rdb redis.UniversalClient, ttl, wait time.Duration) *RedisGate {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisGate{locker: redislock.New(rdb), ttl: ttl, wait: wait}
}

func (g *RedisGate) Lock(ctx context.Context, key string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, g.wait)
	defer cancel()

	lock, err := g.locker.Obtain(lockCtx, "lock:order:"+key, g.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(50 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrGateBusy, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain order lock: %w", err)
	}
	return func() {
		// release with a fresh context so a canceled request still frees the key
		_ = lock.Release(context.Background())
	}, nil
}

// ConnectRedis opens a client and checks it answers.
func ConnectRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect redis at %s: %w", addr, err)
	}
	return rdb, nil
}
