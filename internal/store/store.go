// Package store holds the live mission snapshot. There is exactly one writer
// task at a time (the execution loop, enforced by its single-flight guard);
// the store's job is atomic publication: readers always get a complete
// snapshot, and every committed update produces exactly one subscriber
// notification.
package store

import (
	"sync"

	"missionctl/internal/mission"
)

type Store struct {
	mu   sync.RWMutex
	cur  mission.Mission
	subs map[int]chan mission.Mission
	next int
}

func New(initial mission.Mission) *Store {
	return &Store{
		cur:  initial,
		subs: map[int]chan mission.Mission{},
	}
}

// Snapshot returns the current mission value.
func (s *Store) Snapshot() mission.Mission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update applies fn to the current snapshot. fn returns the next value and
// whether to commit it; declining is how a caller drops a write after
// observing a cancellation, and a declined update publishes nothing. fn runs
// under the store lock, so the read-then-decide-then-write is atomic with
// respect to other updates.
func (s *Store) Update(fn func(mission.Mission) (mission.Mission, bool)) (mission.Mission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, commit := fn(s.cur)
	if !commit {
		return s.cur, false
	}
	s.cur = next
	// Sends stay under the lock: cancel closes channels under the same lock,
	// so a send can never race a close. The sends are non-blocking; a slow
	// subscriber drops this update rather than stalling the loop.
	for _, ch := range s.subs {
		select {
		case ch <- next:
		default:
		}
	}
	return next, true
}

// Subscribe registers for one notification per committed update. The
// returned cancel function unregisters and closes the channel.
func (s *Store) Subscribe() (<-chan mission.Mission, func()) {
	ch := make(chan mission.Mission, 16)
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}
