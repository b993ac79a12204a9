// Package lock serialises work per key, in process or across replicas through Redis.
package lock

import (
	"context"
	"sync"
)

// Locker hands out exclusive per-key locks.
type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned func releases the lock.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type memEntry struct {
	ch   chan struct{}
	refs int
}

// MemoryLocker is a Locker for a single process.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{entries: map[string]*memEntry{}}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &memEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *MemoryLocker) release(key string, e *memEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// NopLocker never blocks.
type NopLocker struct{}

func (NopLocker) Lock(ctx context.Context, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() {}, nil
}
