package services

import (
	"sync"
)

// RunLocker serializes mutations of the same run inside one process.
// Cross-process races are caught by the run version check in the store.
type RunLocker struct {
	mu    sync.Mutex
	locks map[string]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

// NewRunLocker creates an empty locker
func NewRunLocker() *RunLocker {
	return &RunLocker{locks: make(map[string]*runLock)}
}

// Lock blocks until runID is free and returns the matching unlock func
func (l *RunLocker) Lock(runID string) func() {
	l.mu.Lock()
	lk, ok := l.locks[runID]
	if !ok {
		lk = &runLock{}
		l.locks[runID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.mu.Lock()

	return func() {
		lk.mu.Unlock()

		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, runID)
		}
		l.mu.Unlock()
	}
}
