package sync

import (
	"context"
	"errors"
	stdsync "sync"
)

// ErrSyncInFlight is returned by lockers that reject rather than queue a
// second sync for the same appointment.
var ErrSyncInFlight = errors.New("sync already in flight for this appointment")

// Locker serializes syncs per appointment. Acquire blocks (or fails) until
// the key is free and returns the release func; the release func must be
// called on every exit path.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedLock is the in-process Locker: waiters for a key queue behind the
// holder instead of failing.
type KeyedLock struct {
	mu    stdsync.Mutex
	locks map[string]*lockEntry
}

func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*lockEntry)}
}

func (l *KeyedLock) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return func() {
			<-entry.ch
			l.release(key, entry)
		}, nil
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}
}

func (l *KeyedLock) release(key string, entry *lockEntry) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
