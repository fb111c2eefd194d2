package patient

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

type entry struct {
	mu   sync.Mutex
	sess *Session
	// dead is set under mu once the entry has left the map.
	dead bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// MemoryStore keeps sessions in process. The map is sharded and each session
// has its own mutex, so a slow merge on one session does not stall others.
type MemoryStore struct {
	shards [shardCount]*shard
	now    Clock
}

func NewMemoryStore(now Clock) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	s := &MemoryStore{now: now}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return s
}

func (s *MemoryStore) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) entry(id string, create bool) *entry {
	sh := s.shardFor(id)
	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	if ok || !create {
		return e
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok = sh.entries[id]; ok {
		return e
	}
	e = &entry{sess: NewSession(id, s.now())}
	sh.entries[id] = e
	return e
}

// live runs fn on the live entry for id, creating it if needed. An entry
// pruned between lookup and lock is evicted and the lookup retried.
func (s *MemoryStore) live(id string, fn func(*Session)) {
	for {
		e := s.entry(id, true)
		e.mu.Lock()
		if !e.dead {
			fn(e.sess)
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()
		s.evict(id, e)
	}
}

func (s *MemoryStore) evict(id string, e *entry) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	if sh.entries[id] == e {
		delete(sh.entries, id)
	}
	sh.mu.Unlock()
}

func (s *MemoryStore) GetOrCreate(_ context.Context, id string) (Snapshot, error) {
	if err := checkID(id); err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	s.live(id, func(sess *Session) { snap = sess.Snapshot() })
	return snap, nil
}

func (s *MemoryStore) Merge(_ context.Context, id string, delta FactDelta) (Snapshot, error) {
	if err := checkID(id); err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	s.live(id, func(sess *Session) {
		sess.Apply(delta, s.now())
		snap = sess.Snapshot()
	})
	return snap, nil
}

func (s *MemoryStore) Snapshot(_ context.Context, id string) (Snapshot, error) {
	if err := checkID(id); err != nil {
		return Snapshot{}, err
	}
	e := s.entry(id, false)
	if e == nil {
		return Snapshot{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Snapshot(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	sh := s.shardFor(id)
	sh.mu.Lock()
	if e, ok := sh.entries[id]; ok {
		e.mu.Lock()
		e.dead = true
		e.mu.Unlock()
		delete(sh.entries, id)
	}
	sh.mu.Unlock()
	return nil
}

// Prune drops sessions idle for longer than ttl and returns how many were
// removed.
func (s *MemoryStore) Prune(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			e.mu.Lock()
			idle := e.sess.LastUpdated.Before(cutoff)
			if idle {
				e.dead = true
			}
			e.mu.Unlock()
			if idle {
				delete(sh.entries, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
