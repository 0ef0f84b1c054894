package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/fzpathan/dr-rag-project/query"
)

// entry is a cached answer. It is owned exclusively by the Store; callers
// always receive clones. Replacement is wholesale, never in-place mutation.
type entry struct {
	fp        Fingerprint
	answer    *query.Answer
	createdAt time.Time
	expiresAt time.Time
	hitCount  int64
}

// Store is a bounded fingerprint-to-answer map with TTL expiry and LRU
// eviction. A single mutex guards the map, the recency list and the
// counters, so every operation appears atomic to all callers. All
// operations are non-blocking and bounded.
type Store struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[Fingerprint]*list.Element
	lru        *list.List // front = most recently used

	hits      uint64
	misses    uint64
	evictions uint64

	// onEvict is called (under the lock) for each capacity eviction.
	onEvict func(Fingerprint)

	now func() time.Time
}

// NewStore creates a store holding at most maxEntries live entries.
// Non-positive maxEntries falls back to DefaultMaxEntries.
func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		maxEntries: maxEntries,
		entries:    make(map[Fingerprint]*list.Element),
		lru:        list.New(),
		now:        time.Now,
	}
}

// Get returns a copy of the live entry for fp, marking it most recently
// used. Expired entries are treated as absent and removed lazily; both
// "never seen" and "expired" count as a miss.
func (s *Store) Get(fp Fingerprint) (*query.Answer, bool) {
	return s.lookup(fp, true)
}

// lookup is Get with optional miss accounting; the service's re-check under
// the coalescer uses countMiss=false so a single logical query never counts
// two misses.
func (s *Store) lookup(fp Fingerprint, countMiss bool) (*query.Answer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[fp]
	if !ok {
		if countMiss {
			s.misses++
		}
		return nil, false
	}

	e := el.Value.(*entry)
	if !s.now().Before(e.expiresAt) {
		s.removeLocked(el)
		if countMiss {
			s.misses++
		}
		return nil, false
	}

	s.lru.MoveToFront(el)
	e.hitCount++
	s.hits++
	return e.answer.Clone(), true
}

// Put stores a copy of answer under fp with the given TTL, unconditionally
// replacing any existing entry (callers are expected to have coalesced
// concurrent writers). If the store is full, the least-recently-used entry
// is evicted first, preferring expired entries over live ones.
func (s *Store) Put(fp Fingerprint, answer *query.Answer, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := &entry{
		fp:        fp,
		answer:    answer.Clone(),
		createdAt: now,
		expiresAt: now.Add(ttl),
	}

	if el, ok := s.entries[fp]; ok {
		el.Value = e
		s.lru.MoveToFront(el)
		return
	}

	if s.lru.Len() >= s.maxEntries {
		s.evictLocked()
	}
	s.entries[fp] = s.lru.PushFront(e)
}

// evictLocked removes one entry to make room: the least-recently-used
// expired entry if any exists, otherwise the least-recently-used live one.
func (s *Store) evictLocked() {
	victim := s.lru.Back()
	if victim == nil {
		return
	}
	now := s.now()
	for el := s.lru.Back(); el != nil; el = el.Prev() {
		if !now.Before(el.Value.(*entry).expiresAt) {
			victim = el
			break
		}
	}

	fp := victim.Value.(*entry).fp
	s.removeLocked(victim)
	s.evictions++
	if s.onEvict != nil {
		s.onEvict(fp)
	}
}

func (s *Store) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	s.lru.Remove(el)
	delete(s.entries, e.fp)
}

// Invalidate removes the entry for fp if present. Idempotent.
func (s *Store) Invalidate(fp Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[fp]; ok {
		s.removeLocked(el)
	}
}

// Clear removes all entries. Lifetime hit/miss/eviction counters are kept;
// ResetStats is the separate administrative counter reset.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[Fingerprint]*list.Element)
	s.lru.Init()
}

// ResetStats zeroes the lifetime counters without touching cache content.
func (s *Store) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits, s.misses, s.evictions = 0, 0, 0
}

// Len returns the current entry count, including not-yet-collected expired
// entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Stats returns a consistent snapshot of the counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Size:      s.lru.Len(),
	}
}
