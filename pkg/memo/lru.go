// Package memo holds the in-process performance helpers: a scoped LRU with
// TTL, a memoizer that collapses concurrent computations, and a debouncer.
package memo

import (
	"container/list"
	"sync"
	"time"
)

// Entry is one cached value.
type Entry struct {
	Scope     string
	Key       string
	Value     []byte
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

type setOptions struct {
	ttl time.Duration
}

// Option configures a Set call.
type Option func(*setOptions)

// WithTTL sets a time-to-live on the entry.
func WithTTL(d time.Duration) Option {
	return func(o *setOptions) {
		o.ttl = d
	}
}

// LRU is a scoped key-value cache. Every scope has its own capacity, so a
// burst of writes in one scope never evicts another scope's entries.
// Expired entries are removed lazily on access.
type LRU struct {
	mu                 sync.Mutex
	maxEntriesPerScope int
	now                func() time.Time
	// scopeLists maps scope -> LRU list of *Entry (front = most recent)
	scopeLists map[string]*list.List
	// elements maps entryKey -> *list.Element for O(1) lookup
	elements map[string]*list.Element
}

// NewLRU returns an LRU retaining at most maxEntriesPerScope entries per
// scope. Non-positive capacities are treated as 1.
func NewLRU(maxEntriesPerScope int) *LRU {
	if maxEntriesPerScope < 1 {
		maxEntriesPerScope = 1
	}
	return &LRU{
		maxEntriesPerScope: maxEntriesPerScope,
		now:                time.Now,
		scopeLists:         make(map[string]*list.List),
		elements:           make(map[string]*list.Element),
	}
}

func entryKey(scope, key string) string {
	return scope + "\x00" + key
}

// Set stores value under (scope, key), replacing any previous value and
// marking it most recently used.
func (s *LRU) Set(scope, key string, value []byte, opts ...Option) {
	o := &setOptions{}
	for _, opt := range opts {
		opt(o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expiresAt *time.Time
	if o.ttl > 0 {
		t := now.Add(o.ttl)
		expiresAt = &t
	}
	stored := append([]byte(nil), value...)

	ek := entryKey(scope, key)
	if elem, ok := s.elements[ek]; ok {
		e := elem.Value.(*Entry)
		e.Value = stored
		e.ExpiresAt = expiresAt
		e.UpdatedAt = now
		s.scopeLists[scope].MoveToFront(elem)
		return
	}

	l, ok := s.scopeLists[scope]
	if !ok {
		l = list.New()
		s.scopeLists[scope] = l
	}

	// Evict from back when at capacity.
	if l.Len() >= s.maxEntriesPerScope {
		if back := l.Back(); back != nil {
			evicted := l.Remove(back).(*Entry)
			delete(s.elements, entryKey(evicted.Scope, evicted.Key))
		}
	}

	s.elements[ek] = l.PushFront(&Entry{
		Scope:     scope,
		Key:       key,
		Value:     stored,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// Get returns a copy of the live entry for (scope, key).
func (s *LRU) Get(scope, key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ek := entryKey(scope, key)
	elem, ok := s.elements[ek]
	if !ok {
		return Entry{}, false
	}

	e := elem.Value.(*Entry)
	if e.expired(s.now()) {
		s.removeLocked(scope, ek, elem)
		return Entry{}, false
	}

	s.scopeLists[scope].MoveToFront(elem)
	out := *e
	out.Value = append([]byte(nil), e.Value...)
	return out, true
}

// Delete removes (scope, key) and reports whether it was present.
func (s *LRU) Delete(scope, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ek := entryKey(scope, key)
	elem, ok := s.elements[ek]
	if !ok {
		return false
	}
	s.removeLocked(scope, ek, elem)
	return true
}

// Len counts entries across all scopes, including ones not yet lazily expired.
func (s *LRU) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.elements)
}

func (s *LRU) removeLocked(scope, ek string, elem *list.Element) {
	l := s.scopeLists[scope]
	l.Remove(elem)
	delete(s.elements, ek)
	if l.Len() == 0 {
		delete(s.scopeLists, scope)
	}
}
