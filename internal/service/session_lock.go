package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

const defaultSessionWait = 2 * time.Minute

// sessionLocks serialises questions per session. Waiters are admitted in
// arrival order and give up when their context ends. A waiter still queued
// after maxWait gets ErrSessionBusy.
type sessionLocks struct {
	mu      sync.Mutex
	items   map[string]*sessionLock
	maxWait time.Duration
}

type sessionLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{items: make(map[string]*sessionLock), maxWait: defaultSessionWait}
}

func (l *sessionLocks) Acquire(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	item, ok := l.items[sessionID]
	if !ok {
		item = &sessionLock{sem: semaphore.NewWeighted(1)}
		l.items[sessionID] = item
	}
	item.refs++
	l.mu.Unlock()

	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}
	if err := item.sem.Acquire(waitCtx, 1); err != nil {
		l.unref(sessionID, item)
		if ctx.Err() == nil {
			return nil, appErr.ErrSessionBusy
		}
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			item.sem.Release(1)
			l.unref(sessionID, item)
		})
	}, nil
}

func (l *sessionLocks) unref(sessionID string, item *sessionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item.refs--
	if item.refs == 0 {
		delete(l.items, sessionID)
	}
}

func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
