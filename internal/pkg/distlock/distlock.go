// Package distlock serializes work across optimizer replicas. Execution
// batches take one lock per scope and the review worker takes a singleton
// lock per tick.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockLost is returned when a lock expired or was taken over while held.
var ErrLockLost = errors.New("lock lost")

// DistLock is a non-blocking mutual exclusion lock. A value is used by one
// goroutine for one critical section.
type DistLock interface {
	// Acquire makes one attempt. false with a nil error means someone else
	// holds the key.
	Acquire(ctx context.Context) (bool, error)
	// Release frees the key if this value holds it.
	Release(ctx context.Context) error
}

// Refresher is implemented by locks that expire on their own.
type Refresher interface {
	Refresh(ctx context.Context) error
	TTL() time.Duration
}

// Factory returns a new lock for key.
type Factory func(key string) DistLock

// NewFactory picks a backend once: Redis when configured, Postgres advisory
// locks when only a database is available, otherwise an in-process lock.
func NewFactory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) Factory {
	switch {
	case redisClient != nil:
		return func(key string) DistLock { return NewRedisLock(redisClient, key, ttl) }
	case db != nil:
		return func(key string) DistLock { return NewAdvisoryLock(db, key) }
	default:
		return func(key string) DistLock { return NewLocalLock(key) }
	}
}

// KeepAlive refreshes an expiring lock at a third of its TTL until stop is
// called. Locks that do not expire are returned a no-op stop. onLost runs
// once if a refresh reports the lock gone.
func KeepAlive(ctx context.Context, lock DistLock, onLost func(error)) (stop func()) {
	r, ok := lock.(Refresher)
	if !ok || r.TTL() <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.TTL() / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					if onLost != nil {
						onLost(err)
					}
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// AdvisoryLock uses pg_try_advisory_lock. Advisory locks belong to a session,
// so the lock keeps one pooled connection from Acquire until Release. If the
// connection dies Postgres drops the lock with it.
type AdvisoryLock struct {
	db   *sql.DB
	id   int64
	conn *sql.Conn
}

// NewAdvisoryLock hashes key into the 64-bit advisory lock space.
func NewAdvisoryLock(db *sql.DB, key string) *AdvisoryLock {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return &AdvisoryLock{db: db, id: int64(h.Sum64())}
}

// Acquire tries the advisory lock without waiting.
func (l *AdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	var got bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&got); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	if !got {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release unlocks and hands the connection back to the pool.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}

var local = struct {
	sync.Mutex
	held map[string]bool
}{held: make(map[string]bool)}

// LocalLock excludes holders of the same key within this process. It backs
// single-binary deployments, tests and optctl.
type LocalLock struct {
	key  string
	held bool
}

// NewLocalLock creates an in-process lock for key.
func NewLocalLock(key string) *LocalLock {
	return &LocalLock{key: key}
}

// Acquire marks the key held.
func (l *LocalLock) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	local.Lock()
	defer local.Unlock()
	if local.held[l.key] {
		return false, nil
	}
	local.held[l.key] = true
	l.held = true
	return true, nil
}

// Release frees the key if this value holds it.
func (l *LocalLock) Release(context.Context) error {
	local.Lock()
	defer local.Unlock()
	if l.held {
		delete(local.held, l.key)
		l.held = false
	}
	return nil
}
