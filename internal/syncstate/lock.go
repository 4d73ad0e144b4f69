package syncstate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"clinicsync/pkg/domain"
)

// Lock is a non-blocking mutual-exclusion primitive held for a whole run.
type Lock interface {
	// TryLock reports false without error when another holder owns the lock.
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Acquire takes lock or returns domain.ErrAlreadyRunning.
func Acquire(ctx context.Context, lock Lock) error {
	ok, err := lock.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return domain.ErrAlreadyRunning
	}
	return nil
}

// FileLock is an advisory flock(2) lock next to the status file.
type FileLock struct {
	fl *flock.Flock
}

// NewFileLock returns a lock on path, creating its directory on first use.
func NewFileLock(path string) *FileLock {
	return &FileLock{fl: flock.New(path)}
}

// LockPathFor is the lock file guarding a status file.
func LockPathFor(statusPath string) string { return statusPath + ".lock" }

// TryLock implements Lock.
func (l *FileLock) TryLock(context.Context) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		return false, err
	}
	return l.fl.TryLock()
}

// Unlock implements Lock.
func (l *FileLock) Unlock(context.Context) error { return l.fl.Unlock() }

// DefaultLockTTL bounds how long a crashed holder can block the Redis lock.
const DefaultLockTTL = 45 * time.Minute

var errNotHolder = errors.New("run lock not held")

// unlockScript deletes the key only when it still carries this holder's token.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock coordinates schedulers on several hosts through SET NX with a TTL.
type RedisLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisLock returns a lock on key. ttl defaults to DefaultLockTTL.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLock{client: client, key: key, token: uuid.NewString(), ttl: ttl}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// TryLock implements Lock.
func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// Unlock implements Lock. Releasing a lock that expired or was taken over is an error.
func (l *RedisLock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	if n == 0 {
		return errNotHolder
	}
	return nil
}
