package cursor

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Versions tracks, per client, the last published data version it received.
// The forecast endpoint uses it to send each published window once.
type Versions struct {
	mu      sync.Mutex
	seen    map[string]versionEntry
	ttl     time.Duration
	janitor *janitor

	now   func() time.Time
	newID func() string
}

type versionEntry struct {
	version  uint64
	lastSeen time.Time
}

// NewVersions creates a version tracker. A positive ttl evicts clients idle
// for longer than ttl; call Stop to end the sweep.
func NewVersions(ttl time.Duration) *Versions {
	v := &Versions{
		seen:  make(map[string]versionEntry),
		ttl:   ttl,
		now:   time.Now,
		newID: uuid.NewString,
	}
	if ttl > 0 {
		v.janitor = startJanitor(sweepEvery(ttl), v.evictIdle)
	}
	return v
}

// Check records that clientID is being served version current. It returns
// the client id to use (a fresh one when clientID is empty or unknown),
// whether that id is new, and whether the client should receive the data.
// A client that already received current gets fresh == false.
func (v *Versions) Check(clientID string, current uint64) (id string, isNew, fresh bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	entry, ok := v.seen[clientID]
	if clientID == "" || !ok {
		id = v.newID()
		v.seen[id] = versionEntry{version: current, lastSeen: now}
		return id, true, true
	}

	entry.lastSeen = now
	if entry.version < current {
		entry.version = current
		v.seen[clientID] = entry
		return clientID, false, true
	}
	v.seen[clientID] = entry
	return clientID, false, false
}

// Len returns the number of tracked clients.
func (v *Versions) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}

// Stop ends the idle sweep, if any.
func (v *Versions) Stop() {
	v.janitor.Stop()
}

func (v *Versions) evictIdle(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, e := range v.seen {
		if now.Sub(e.lastSeen) > v.ttl {
			delete(v.seen, id)
		}
	}
}
