// Package keylock serialises work per string key (a root transaction or an
// agent id) inside one process.
package keylock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned when a lock could not be taken before the context
// or the locker's timeout expired.
var ErrTimeout = errors.New("lock wait timed out")

// Locker hands out one mutex per key. Entries are reference counted and
// dropped when no holder or waiter remains.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
}

type entry struct {
	ch   chan struct{}
	refs int
}

// New returns a Locker whose Lock waits at most timeout (0 means only the
// context bounds the wait).
func New(timeout time.Duration) *Locker {
	return &Locker{entries: make(map[string]*entry), timeout: timeout}
}

// Lock blocks until key is free and returns the release func.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	select {
	case e.ch <- struct{}{}:
		return func() { l.release(key, e) }, nil
	case <-ctx.Done():
		l.drop(key, e)
		return nil, ErrTimeout
	}
}

func (l *Locker) release(key string, e *entry) {
	<-e.ch
	l.drop(key, e)
}

func (l *Locker) drop(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len reports how many keys are currently tracked.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
