package runlock

import (
	"context"
	logger "log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LockClient is the subset of the Redis client the distributed lock needs.
type LockClient interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
	RefreshLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

// Redis is a cross-process lock held under one key with a TTL. While held, the
// TTL is refreshed in the background so a long run keeps the lock and a
// crashed process loses it after at most one TTL.
type Redis struct {
	client LockClient
	key    string
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedis(client LockClient, key string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Redis{
		client: client,
		key:    key,
		ttl:    ttl,
		log:    logger.Default().With("component", "runlock", "key", key),
	}
}

func (r *Redis) TryAcquire(ctx context.Context) (context.Context, func(), bool, error) {
	token := uuid.NewString()
	ok, err := r.client.AcquireLock(ctx, r.key, token, r.ttl)
	if err != nil || !ok {
		return nil, nil, false, err
	}

	held, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(token, cancel, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			cancel(context.Canceled)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			released, err := r.client.ReleaseLock(ctx, r.key, token)
			if err != nil {
				r.log.Warn("Failed to release run lock", "error", err)
			} else if !released {
				r.log.Warn("Run lock expired before release")
			}
		})
	}
	return held, release, true, nil
}

func (r *Redis) keepAlive(token string, lost context.CancelCauseFunc, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			ok, err := r.client.RefreshLock(ctx, r.key, token, r.ttl)
			cancel()
			if err != nil {
				r.log.Warn("Failed to refresh run lock", "error", err)
				continue
			}
			if !ok {
				r.log.Error("Run lock lost while running")
				lost(ErrLockLost)
				return
			}
		}
	}
}
