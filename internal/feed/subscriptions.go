package feed

import (
	"sort"
	"sync"
)

// SubscriptionSet tracks the IDs a connection should be subscribed to so they
// can be restored after a reconnect. Safe for concurrent use.
type SubscriptionSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewSubscriptionSet returns an empty set.
func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{ids: make(map[string]struct{})}
}

// Add inserts ids and returns those that were not present yet.
func (s *SubscriptionSet) Add(ids ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		added = append(added, id)
	}
	return added
}

// Remove deletes ids and returns those that were present.
func (s *SubscriptionSet) Remove(ids ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for _, id := range ids {
		if _, ok := s.ids[id]; !ok {
			continue
		}
		delete(s.ids, id)
		removed = append(removed, id)
	}
	return removed
}

// Replace removes old and adds next in one step. IDs in both lists stay
// subscribed and appear in neither result.
func (s *SubscriptionSet) Replace(old, next []string) (removed, added []string) {
	keep := make(map[string]struct{}, len(next))
	for _, id := range next {
		keep[id] = struct{}{}
	}
	var drop []string
	for _, id := range old {
		if _, ok := keep[id]; !ok {
			drop = append(drop, id)
		}
	}
	return s.Remove(drop...), s.Add(next...)
}

// Has reports whether id is tracked.
func (s *SubscriptionSet) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// List returns the tracked IDs sorted.
func (s *SubscriptionSet) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked IDs.
func (s *SubscriptionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
