package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces lock keys in a Redis shared with other services.
const KeyPrefix = "optimizer:lock:"

var (
	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLock is a SET NX lock with a TTL. The stored value is a random token
// so only the holder can release or refresh it.
type RedisLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	held   bool
}

// NewRedisLock creates a lock on key. Nothing is sent to Redis until Acquire.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return &RedisLock{
		client: client,
		key:    KeyPrefix + key,
		token:  hex.EncodeToString(b[:]),
		ttl:    ttl,
	}
}

// Acquire tries once to take the lock.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock %s: %w", l.key, err)
	}
	l.held = ok
	return ok, nil
}

// Release deletes the key if this instance still owns it. It returns
// ErrLockLost when the TTL expired while held.
func (l *RedisLock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("redis unlock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, l.key)
	}
	return nil
}

// Refresh pushes the expiry out by the lock's TTL.
func (l *RedisLock) Refresh(ctx context.Context) error {
	if !l.held {
		return ErrLockLost
	}
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis refresh %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, l.key)
	}
	return nil
}

// TTL reports the lock's expiry window.
func (l *RedisLock) TTL() time.Duration { return l.ttl }
