// Package shiftlock serializes writers per shift. LocalLocker covers a single
// process; RedisLocker additionally holds a Redis lease so API instances that
// share one Postgres ledger never interleave mutations of the same shift.
package shiftlock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrBusy = errors.New("shift is busy, retry")

type Locker interface {
	// Lock blocks until key is held exclusively or the wait budget runs out.
	// The returned func releases the lock and must be called exactly once.
	Lock(ctx context.Context, key string) (func(), error)
}

type LocalLocker struct {
	mu      sync.Mutex
	wait    time.Duration
	entries map[string]*lockEntry
}

type lockEntry struct {
	slot chan struct{}
	refs int
}

func NewLocal(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = 3 * time.Second
	}
	return &LocalLocker{wait: wait, entries: make(map[string]*lockEntry)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	entry := l.acquire(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case entry.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry)
		return nil, errors.Join(ErrBusy, ctx.Err())
	case <-timer.C:
		l.release(key, entry)
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.slot
			l.release(key, entry)
		})
	}, nil
}

func (l *LocalLocker) acquire(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{slot: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) release(key string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

// held reports how many callers currently hold or wait on key.
func (l *LocalLocker) held(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.entries[key]; ok {
		return entry.refs
	}
	return 0
}
