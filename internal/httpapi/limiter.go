package httpapi

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ownerLimiters keeps one token bucket per owner and forgets idle owners.
type ownerLimiters struct {
	mu           sync.Mutex
	entries      map[string]*limiterEntry
	rps          rate.Limit
	burst        int
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newOwnerLimiters(rps float64, burst int) *ownerLimiters {
	return &ownerLimiters{
		entries:      make(map[string]*limiterEntry),
		rps:          rate.Limit(rps),
		burst:        burst,
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
}

// allow consumes one token for owner. It returns the wait until the next
// token when the bucket is empty.
func (s *ownerLimiters) allow(owner string) (bool, time.Duration) {
	now := s.now()

	s.mu.Lock()
	ent, ok := s.entries[owner]
	if !ok {
		ent = &limiterEntry{lim: rate.NewLimiter(s.rps, s.burst)}
		s.entries[owner] = ent
	}
	ent.lastSeen = now
	s.mu.Unlock()

	res := ent.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (s *ownerLimiters) cleanup() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

func (s *ownerLimiters) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// janitor drops idle owners until ctx is done.
func (s *ownerLimiters) janitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}
	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.cleanup()
			}
		}
	}()
}
