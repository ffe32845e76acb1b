package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"signals-backend/application/ports"
	pkgerrors "signals-backend/pkg/errors"
)

// Locker is an in-process SubjectLocker. Expired leases are treated as free.
type Locker struct {
	mu     sync.Mutex
	leases map[string]lockEntry
	now    func() time.Time
}

type lockEntry struct {
	token     uint64
	expiresAt time.Time
}

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{leases: make(map[string]lockEntry), now: time.Now}
}

var tokenSeq atomic.Uint64

// TryAcquire implements ports.SubjectLocker.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (ports.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expiresAt) {
		return nil, pkgerrors.NewConflictError(fmt.Sprintf("another operation is in progress on %s", key)).
			WithCode("SUBJECT_BUSY")
	}
	entry := lockEntry{token: tokenSeq.Add(1), expiresAt: now.Add(ttl)}
	l.leases[key] = entry
	return &lease{locker: l, key: key, token: entry.token}, nil
}

type lease struct {
	locker *Locker
	key    string
	token  uint64
	once   sync.Once
}

// Release frees the key if this lease still owns it.
func (le *lease) Release(ctx context.Context) error {
	le.once.Do(func() {
		le.locker.mu.Lock()
		defer le.locker.mu.Unlock()
		if cur, ok := le.locker.leases[le.key]; ok && cur.token == le.token {
			delete(le.locker.leases, le.key)
		}
	})
	return nil
}
