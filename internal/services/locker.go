package services

import (
	"context"
	"fmt"
	"sync"
)

// Locker serializes work on a key. The returned release func is safe to
// call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

func orderLockKey(orderID string) string {
	return "lock:payment_order:" + orderID
}

func idempotencyLockKey(key string) string {
	return "lock:payment_idem:" + key
}

// LocalLocker is an in-process Locker for single instance deployments
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lk.ch
				l.unref(key, lk)
			})
		}, nil
	case <-ctx.Done():
		l.unref(key, lk)
		return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
	}
}

func (l *LocalLocker) unref(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}
