package lending

import (
	"context"
	"sync"
	"time"
)

// accountLocks serializes operations per account. Each account gets a
// one-slot channel used as a mutex; acquisition is bounded by a timeout so
// contended callers fail fast with Busy instead of queueing indefinitely.
// Locks for different accounts never contend.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newAccountLocks() *accountLocks {
	return &accountLocks{
		locks: make(map[string]chan struct{}),
	}
}

func (a *accountLocks) lockFor(account string) chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()

	lock, ok := a.locks[account]
	if !ok {
		lock = make(chan struct{}, 1)
		a.locks[account] = lock
	}
	return lock
}

// acquire takes the account's lock, waiting at most timeout. The returned
// release function must be called exactly once; it is nil when an error is
// returned.
func (a *accountLocks) acquire(ctx context.Context, account string, timeout time.Duration) (func(), error) {
	lock := a.lockFor(account)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-timer.C:
		return nil, errLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
