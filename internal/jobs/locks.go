package jobs

import (
	"context"
	"sync"
)

// tableLocks serializes jobs that write the same table. Waiting is
// abortable; entries are dropped once nobody holds or waits for them.
type tableLocks struct {
	mu    sync.Mutex
	locks map[string]*tableLock
}

type tableLock struct {
	sem  chan struct{}
	refs int
}

func newTableLocks() *tableLocks {
	return &tableLocks{locks: make(map[string]*tableLock)}
}

// Lock blocks until key is free, ctx is done or abort is closed.
func (t *tableLocks) Lock(ctx context.Context, key string, abort <-chan struct{}) error {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &tableLock{sem: make(chan struct{}, 1)}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		t.drop(key, l)
		return ctx.Err()
	case <-abort:
		t.drop(key, l)
		return errAborted
	}
}

// Unlock releases key.
func (t *tableLocks) Unlock(key string) {
	t.mu.Lock()
	l, ok := t.locks[key]
	t.mu.Unlock()
	if !ok {
		return
	}
	<-l.sem
	t.drop(key, l)
}

// Held reports whether key is currently locked or awaited.
func (t *tableLocks) Held(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.locks[key]
	return ok
}

func (t *tableLocks) drop(key string, l *tableLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}
