// Package lock guards against concurrent pipeline runs.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/ajharbinger/dilution-monitor/internal/logger"
)

// PipelineKey is the lock key shared by every runner process
const PipelineKey = "dilution:pipeline:run"

// ErrLocked is returned when another run holds the lock
var ErrLocked = errors.New("pipeline run already in progress")

// Release frees a held lock
type Release func(ctx context.Context) error

// RunLock is a single-holder lock around a pipeline run
type RunLock interface {
	Acquire(ctx context.Context) (Release, error)
}

// RedisLock holds the run lock in Redis and refreshes it while held
type RedisLock struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
	log    logger.Logger
}

// NewRedisLock creates a Redis-backed run lock
func NewRedisLock(client *redis.Client, key string, ttl time.Duration, log logger.Logger) *RedisLock {
	if key == "" {
		key = PipelineKey
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLock{locker: redislock.New(client), key: key, ttl: ttl, log: log}
}

// Acquire obtains the lock or returns ErrLocked. The lock is refreshed at a
// third of its TTL until released so long runs keep ownership.
func (l *RedisLock) Acquire(ctx context.Context) (Release, error) {
	held, err := l.locker.Obtain(ctx, l.key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := held.Refresh(context.Background(), l.ttl, nil); err != nil {
					l.log.Warn("Failed to refresh pipeline lock", "key", l.key, "error", err.Error())
					return
				}
			}
		}
	}()

	var once sync.Once
	return func(ctx context.Context) error {
		var relErr error
		once.Do(func() {
			close(stop)
			<-done
			relErr = held.Release(ctx)
			if errors.Is(relErr, redislock.ErrLockNotHeld) {
				relErr = nil
			}
		})
		return relErr
	}, nil
}

// LocalLock is an in-process run lock used when Redis is not configured
type LocalLock struct {
	mu sync.Mutex
}

// NewLocalLock creates an in-process run lock
func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

// Acquire takes the lock without blocking or returns ErrLocked
func (l *LocalLock) Acquire(_ context.Context) (Release, error) {
	if !l.mu.TryLock() {
		return nil, ErrLocked
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}
