package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps snapshots in a map. It is safe for concurrent use.
//
// With a TTL, a background goroutine drops snapshots whose GeneratedAt is
// older than the TTL; call Stop to end it.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	ttl       time.Duration

	ticker   *time.Ticker
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore returns a store that keeps snapshots until replaced.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]Snapshot)}
}

// NewMemoryStoreWithTTL returns a store that evicts snapshots older than
// ttl, checking every cleanupInterval (default one minute).
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &MemoryStore{
		snapshots: make(map[string]Snapshot),
		ttl:       ttl,
		ticker:    time.NewTicker(cleanupInterval),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.runCleanup()
	return s
}

// Stop ends the cleanup goroutine and waits for it. It is a no-op without a
// TTL and safe to call more than once.
func (s *MemoryStore) Stop() {
	if s.ticker == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.ticker.Stop()
	})
}

func (s *MemoryStore) runCleanup() {
	defer close(s.done)
	for {
		select {
		case now := <-s.ticker.C:
			s.evictBefore(now.Add(-s.ttl))
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) evictBefore(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for endpoint, snap := range s.snapshots {
		if snap.GeneratedAt.Before(cutoff) {
			delete(s.snapshots, endpoint)
		}
	}
}

// Put replaces the snapshot of snap.Endpoint.
func (s *MemoryStore) Put(ctx context.Context, snap Snapshot) error {
	if err := validateEndpoint(snap.Endpoint); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.snapshots[snap.Endpoint] = snap
	s.mu.Unlock()
	return nil
}

// GetLatest implements Store.
func (s *MemoryStore) GetLatest(ctx context.Context, endpoint string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[endpoint]
	return snap, ok, nil
}

// Len returns the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Delete removes the snapshot of endpoint and reports whether one existed.
func (s *MemoryStore) Delete(endpoint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.snapshots[endpoint]
	delete(s.snapshots, endpoint)
	return ok
}
