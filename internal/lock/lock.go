package lock

import (
	"context"
	"fmt"
	"sync"
)

// Locker serializes work on a key. The returned release must be called once
// the work is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LoanKey is the lock key of a loan aggregate.
func LoanKey(loanID int64) string {
	return fmt.Sprintf("loan:%d", loanID)
}

// BorrowerKey is the lock key guarding the cycle counters of a client, or of
// a group when clientID is 0.
func BorrowerKey(clientID, groupID int64) string {
	if clientID != 0 {
		return fmt.Sprintf("cycle:client:%d", clientID)
	}
	return fmt.Sprintf("cycle:group:%d", groupID)
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry)}
}

// Acquire blocks until the key is free or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.drop(key, e)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// held reports how many callers hold or wait for key.
func (l *LocalLocker) held(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.locks[key]; ok {
		return e.refs
	}
	return 0
}
