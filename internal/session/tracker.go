// Package session tracks the progress of in-flight harvests.
package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
)

// Tracker errors.
var (
	ErrSessionExists = errors.New("session already exists")
	ErrNotFound      = errors.New("session not found")
	ErrEmptyID       = errors.New("session id is required")
)

const defaultShards = 32

// Entry is the externally visible state of one session.
type Entry struct {
	ID        string         `json:"session_id"`
	Status    harvest.Status `json:"status"`
	Progress  int            `json:"progress"`
	Message   string         `json:"message"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// Tracker is a key-partitioned session registry. Operations on different
// sessions rarely contend; updates to one session are serialized.
type Tracker struct {
	shards []*shard
	now    func() time.Time
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithShards sets the number of partitions.
func WithShards(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.shards = newShards(n)
		}
	}
}

// NewTracker constructs an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		shards: newShards(defaultShards),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func newShards(n int) []*shard {
	out := make([]*shard, n)
	for i := range out {
		out[i] = &shard{entries: make(map[string]Entry)}
	}
	return out
}

func (t *Tracker) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

// Create registers a new session in PREPARING state.
func (t *Tracker) Create(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[id]; exists {
		return ErrSessionExists
	}
	now := t.now()
	s.entries[id] = Entry{
		ID:        id,
		Status:    harvest.StatusPreparing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Update moves a session to status. Progress is clamped to 0..100 and never
// moves backwards; updates after a terminal status are ignored.
func (t *Tracker) Update(id string, status harvest.Status, progress int, message string) error {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if entry.Status.Terminal() {
		return nil
	}
	progress = min(max(progress, 0), 100)
	if progress < entry.Progress && status != harvest.StatusFailed {
		progress = entry.Progress
	}
	if status == harvest.StatusDone {
		progress = 100
	}
	entry.Status = status
	entry.Progress = progress
	entry.Message = message
	entry.UpdatedAt = t.now()
	s.entries[id] = entry
	return nil
}

// Get returns a copy of the session.
func (t *Tracker) Get(id string) (Entry, error) {
	s := t.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// Remove deletes the session if present.
func (t *Tracker) Remove(id string) {
	s := t.shardFor(id)
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Sweep removes terminal sessions last updated before now-retention and
// returns how many were removed.
func (t *Tracker) Sweep(retention time.Duration) int {
	cutoff := t.now().Add(-retention)
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for id, entry := range s.entries {
			if entry.Status.Terminal() && entry.UpdatedAt.Before(cutoff) {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps every interval until ctx is canceled.
func (t *Tracker) Run(ctx context.Context, interval, retention time.Duration, onSweep func(removed int)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(retention); n > 0 && onSweep != nil {
				onSweep(n)
			}
		}
	}
}
