package enforcer

import (
	"context"
	"sync"

	"github.com/roach88/wallet/internal/resource"
)

// Policy selects how concurrent default changes inside one partition interact.
type Policy string

const (
	// PolicyLastWriterWins relies on the store's optimistic guards only.
	// Losers re-read and retry; the last committed batch wins.
	PolicyLastWriterWins Policy = "last-writer-wins"

	// PolicyOwnerLock additionally serializes writers of a partition through a Locker.
	PolicyOwnerLock Policy = "owner-lock"
)

// IsValid reports whether p is a known policy.
func (p Policy) IsValid() bool {
	return p == PolicyLastWriterWins || p == PolicyOwnerLock
}

// Locker grants exclusive access to a key until the returned release func is called.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// lockKey names the lock guarding a partition.
func lockKey(p resource.PartitionKey) string {
	return "wallet:lock:" + p.OwnerID + ":" + string(p.Kind)
}

// LocalLocker serializes writers inside one process. Idle keys are dropped.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*lockSlot)}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.release(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(key string, s *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// held returns the number of keys currently tracked. Used for testing.
func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
