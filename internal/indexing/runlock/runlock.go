// Package runlock serializes ingestion runs.
//
// A second trigger while a run is in flight is rejected, never queued.
package runlock

import (
	"context"
	"errors"
	"sync"
)

// ErrLockLost is the cancellation cause of a held context whose lock was
// taken away, e.g. by TTL expiry.
var ErrLockLost = errors.New("run lock lost")

// Locker grants exclusive ownership of one ingestion run.
type Locker interface {
	// TryAcquire returns immediately. When ok is true the caller owns the
	// run until it calls release; release is safe to call more than once.
	// held is derived from ctx and is cancelled with cause ErrLockLost if
	// ownership ends before release, and on release.
	TryAcquire(ctx context.Context) (held context.Context, release func(), ok bool, err error)
}

// Local is an in-process lock.
type Local struct {
	mu sync.Mutex
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) TryAcquire(ctx context.Context) (context.Context, func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, nil, false, nil
	}
	held, cancel := context.WithCancel(ctx)
	var once sync.Once
	return held, func() {
		once.Do(func() {
			cancel()
			l.mu.Unlock()
		})
	}, true, nil
}

// Chain acquires every locker in order and releases them in reverse. If any
// locker is busy or fails, the ones already taken are released.
func Chain(lockers ...Locker) Locker {
	return chain(lockers)
}

type chain []Locker

// Each locker derives its held context from the previous one, so losing any
// of them cancels the innermost.
func (c chain) TryAcquire(ctx context.Context) (context.Context, func(), bool, error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	held := ctx
	for _, l := range c {
		next, release, ok, err := l.TryAcquire(held)
		if err != nil || !ok {
			releaseAll()
			return nil, nil, false, err
		}
		held = next
		releases = append(releases, release)
	}

	var once sync.Once
	return held, func() { once.Do(releaseAll) }, true, nil
}
