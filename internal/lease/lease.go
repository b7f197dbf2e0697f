// Package lease provides the pass-level lock that keeps dispatch passes
// from overlapping.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld is returned when another holder owns the lease.
var ErrHeld = errors.New("lease: held by another holder")

// Release gives up a lease. It is safe to call more than once.
type Release func(ctx context.Context) error

// Locker grants exclusive, expiring leases by key.
type Locker interface {
	// Acquire takes the lease for key or returns ErrHeld. The lease expires
	// after ttl if it is never released.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// LocalLocker is a Locker for a single process.
type LocalLocker struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]localLease
}

type localLease struct {
	token   uint64
	expires time.Time
}

// NewLocalLocker creates an in-process Locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{now: time.Now, leases: make(map[string]localLease)}
}

var localTokens struct {
	sync.Mutex
	next uint64
}

func nextToken() uint64 {
	localTokens.Lock()
	defer localTokens.Unlock()
	localTokens.next++
	return localTokens.next
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expires) {
		return nil, ErrHeld
	}
	token := nextToken()
	l.leases[key] = localLease{token: token, expires: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.leases[key]; ok && cur.token == token {
			delete(l.leases, key)
		}
		return nil
	}, nil
}
