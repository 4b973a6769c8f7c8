// Package cursor keeps per-client sync state for the live endpoint and
// computes the delta each polling client should receive.
//
// Each client owns a watermark (the newest timestamp already served) and a
// retained set of the most recent timestamps it holds, capped at the
// configured buffer size. A request without a known client id starts a new
// cursor and receives the initial window; a request with a known id receives
// only what arrived after its watermark.
package cursor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/adapters"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

// Policy controls which fetched timestamps are safe to serve.
type Policy string

const (
	// Eventual sources may still revise their newest timestamp, so it is
	// held back from every response ("discard-last").
	Eventual Policy = "eventual"
	// Final sources never revise served values.
	Final Policy = "final"
)

// ParsePolicy accepts "eventual", "final" or "" (eventual).
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", Eventual:
		return Eventual, nil
	case Final:
		return Final, nil
	default:
		return "", fmt.Errorf("unknown consistency policy %q (must be eventual or final)", s)
	}
}

// Config holds the cursor store settings for one live endpoint.
type Config struct {
	// Interval is the upstream step; a client is not due for new data until
	// its watermark plus Interval has been reached upstream.
	Interval time.Duration
	// InitialOffset is how far back a new client's first window reaches.
	InitialOffset time.Duration
	// MaxBufferSize caps a client's retained timestamps. Zero means no cap.
	MaxBufferSize int
	Policy        Policy
	// TTL evicts cursors idle for longer than this. Zero disables eviction.
	TTL time.Duration
	// Shards is the number of lock shards. Defaults to 16.
	Shards int
}

// Cursor is the state kept for one client.
type Cursor struct {
	ID        string
	Watermark string
	// Retained is sorted ascending and never longer than MaxBufferSize.
	Retained []string
	LastSeen time.Time
}

// Delta is the response for one sync call.
type Delta struct {
	ClientID string
	// New is set when ClientID was issued by this call.
	New   bool
	Frame timeline.Frame
}

// MarshalJSON renders {timestamps, values, client_id?}. The client id is
// only included when it was issued by this call.
func (d Delta) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(d.Frame)
	if err != nil {
		return nil, err
	}
	if !d.New {
		return body, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	id, _ := json.Marshal(d.ClientID)
	obj["client_id"] = id
	return json.Marshal(obj)
}

type shard struct {
	mu      sync.RWMutex
	cursors map[string]Cursor
}

// Store holds all client cursors of one live endpoint. It is safe for
// concurrent use; distinct clients never contend on the same cursor.
//
// Requests for the same client id are expected to be sequential. If they
// overlap, the last one to finish wins.
type Store struct {
	cfg     Config
	source  adapters.Source
	indexer *timeline.Indexer
	logger  *slog.Logger
	shards  []*shard
	janitor *janitor

	now   func() time.Time
	newID func() string
}

// NewStore creates a cursor store that syncs clients against source.
// When cfg.TTL is positive a background sweep evicts idle cursors; call Stop
// to end it.
func NewStore(cfg Config, source adapters.Source, indexer *timeline.Indexer, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if indexer == nil {
		indexer = timeline.NewIndexer("", logger)
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}
	if cfg.Policy == "" {
		cfg.Policy = Eventual
	}

	s := &Store{
		cfg:     cfg,
		source:  source,
		indexer: indexer,
		logger:  logger,
		shards:  make([]*shard, cfg.Shards),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for i := range s.shards {
		s.shards[i] = &shard{cursors: make(map[string]Cursor)}
	}

	if cfg.TTL > 0 {
		s.janitor = startJanitor(sweepEvery(cfg.TTL), s.evictIdle)
	}
	return s
}

func sweepEvery(ttl time.Duration) time.Duration {
	every := ttl / 4
	if every < time.Second {
		every = time.Second
	}
	if every > 5*time.Minute {
		every = 5 * time.Minute
	}
	return every
}

// Stop ends the idle sweep, if any.
func (s *Store) Stop() {
	s.janitor.Stop()
}

// Sync serves one poll for clientID. An empty or unknown id starts a new
// cursor. On error the cursor is left exactly as it was.
func (s *Store) Sync(ctx context.Context, clientID string) (Delta, error) {
	if clientID != "" {
		if cur, ok := s.Get(clientID); ok {
			return s.advance(ctx, cur)
		}
		s.logger.Debug("unknown client id, issuing a new one", "client_id", clientID)
	}
	return s.start(ctx)
}

func (s *Store) start(ctx context.Context) (Delta, error) {
	now := s.now().UTC()
	start := now.Add(-s.cfg.InitialOffset)

	records, err := s.source.FetchRange(ctx, adapters.Query{
		Start: start,
		End:   now,
		Every: s.cfg.Interval,
	})
	if err != nil {
		return Delta{}, fmt.Errorf("fetch initial window: %w", err)
	}

	frame := s.indexer.Index(records)
	if s.cfg.Policy == Eventual {
		frame = frame.DropLast()
	}

	cur := Cursor{
		ID:        s.newID(),
		Watermark: frame.Last(),
		LastSeen:  now,
	}
	if cur.Watermark == "" {
		cur.Watermark = timeline.FormatTime(start)
	}
	frame = s.retain(&cur, frame)
	s.put(cur)

	s.logger.Debug("new client",
		"client_id", cur.ID,
		"timestamps", frame.Len(),
		"watermark", cur.Watermark,
	)
	return Delta{ClientID: cur.ID, New: true, Frame: frame}, nil
}

func (s *Store) advance(ctx context.Context, cur Cursor) (Delta, error) {
	now := s.now().UTC()
	empty := Delta{ClientID: cur.ID, Frame: timeline.NewFrame()}

	watermark, err := timeline.ParseTime(cur.Watermark)
	if err != nil {
		return Delta{}, fmt.Errorf("client %s: %w", cur.ID, err)
	}

	due, err := s.due(ctx, watermark, now)
	if err != nil {
		return Delta{}, err
	}
	if !due {
		s.touch(cur.ID, now)
		return empty, nil
	}

	records, err := s.source.FetchSince(ctx, watermark)
	if err != nil {
		return Delta{}, fmt.Errorf("fetch since %s: %w", cur.Watermark, err)
	}

	frame := s.indexer.Index(records).After(cur.Watermark)
	if s.cfg.Policy == Eventual {
		frame = frame.DropLast()
	}
	if frame.Empty() {
		s.touch(cur.ID, now)
		return empty, nil
	}

	cur.Watermark = frame.Last()
	cur.LastSeen = now
	frame = s.retain(&cur, frame)
	s.put(cur)

	return Delta{ClientID: cur.ID, Frame: frame}, nil
}

// due reports whether upstream holds a timestamp the client can be served.
// Under Eventual the newest upstream timestamp is always held back, so the
// client is due only once upstream reaches watermark+2*interval. Sources
// that can report their newest timestamp are asked; otherwise the clock
// decides.
func (s *Store) due(ctx context.Context, watermark, now time.Time) (bool, error) {
	next := watermark.Add(s.cfg.Interval)
	if s.cfg.Policy == Eventual {
		next = next.Add(s.cfg.Interval)
	}

	latest := now
	if lt, ok := s.source.(adapters.LatestTimestamper); ok {
		ts, err := lt.LatestTimestamp(ctx)
		if err != nil {
			return false, fmt.Errorf("latest timestamp: %w", err)
		}
		latest = ts
	}
	return !latest.Before(next), nil
}

// retain merges the frame's timestamps into the cursor's retained set, caps
// it, and trims the frame to what the client keeps.
func (s *Store) retain(cur *Cursor, frame timeline.Frame) timeline.Frame {
	cur.Retained = mergeCapped(cur.Retained, frame.Timestamps, s.cfg.MaxBufferSize)
	if len(cur.Retained) == 0 {
		return frame
	}
	return frame.From(cur.Retained[0])
}

func mergeCapped(retained, fresh []string, limit int) []string {
	set := make(map[string]struct{}, len(retained)+len(fresh))
	for _, ts := range retained {
		set[ts] = struct{}{}
	}
	for _, ts := range fresh {
		set[ts] = struct{}{}
	}
	merged := make([]string, 0, len(set))
	for ts := range set {
		merged = append(merged, ts)
	}
	sort.Strings(merged)
	if limit > 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

func (s *Store) shardFor(id string) *shard {
	return s.shards[xxhash.Sum64String(id)%uint64(len(s.shards))]
}

// Get returns a copy of the cursor for id.
func (s *Store) Get(id string) (Cursor, bool) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur, ok := sh.cursors[id]
	return cur, ok
}

func (s *Store) put(cur Cursor) {
	sh := s.shardFor(cur.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.cursors[cur.ID] = cur
}

func (s *Store) touch(id string, now time.Time) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.cursors[id]; ok {
		cur.LastSeen = now
		sh.cursors[id] = cur
	}
}

// Len returns the number of live cursors.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.cursors)
		sh.mu.RUnlock()
	}
	return n
}

func (s *Store) evictIdle(now time.Time) {
	evicted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, cur := range sh.cursors {
			if now.Sub(cur.LastSeen) > s.cfg.TTL {
				delete(sh.cursors, id)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	if evicted > 0 {
		s.logger.Debug("evicted idle cursors", "count", evicted)
	}
}
