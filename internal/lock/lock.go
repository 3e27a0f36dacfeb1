// Package lock provides per-key mutual exclusion, e.g. one lock per user or per session.
package lock

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

type entry struct {
	// sem is a one-slot semaphore so acquisition can respect a context.
	sem  chan struct{}
	refs int
}

// Keyed serializes work per key. Work on different keys proceeds in parallel.
// Entries are reference counted and dropped once nobody holds or waits for them.
type Keyed[K cmp.Ordered] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

func NewKeyed[K cmp.Ordered]() *Keyed[K] {
	return &Keyed[K]{entries: make(map[K]*entry)}
}

func (l *Keyed[K]) acquire(k K) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[k]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[k] = e
	}
	e.refs++
	return e
}

func (l *Keyed[K]) release(k K, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, k)
	}
}

// Lock blocks until the key is held or ctx is done. The returned func releases the key.
func (l *Keyed[K]) Lock(ctx context.Context, k K) (func(), error) {
	e := l.acquire(k)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(k, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.release(k, e)
		})
	}, nil
}

// LockAll holds every key in keys, acquired in ascending order so two callers sharing keys
// cannot deadlock. The returned func releases them all.
func (l *Keyed[K]) LockAll(ctx context.Context, keys ...K) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, k := range keys {
		unlock, err := l.Lock(ctx, k)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}

	return release, nil
}

// size returns the number of keys currently held or waited on.
func (l *Keyed[K]) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}
