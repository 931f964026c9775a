package server

import (
	"sort"
	"sync"
)

// Registry is the set of live sessions. Mutations happen under its lock;
// every read hands out a fresh copy so iteration never observes a mutating
// collection.
type Registry struct {
	mu       sync.RWMutex
	sessions []*Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	r.mu.Unlock()
}

// Remove closes the session's transport first, then drops it from the set.
// Returns false when the session was already gone.
func (r *Registry) Remove(s *Session) bool {
	s.close()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, cur := range r.sessions {
		if cur == s {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			return true
		}
	}
	return false
}

// All returns a copy of every registered session, authenticated or not.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// ByName finds the session bound to the given username.
func (r *Registry) ByName(name string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.UserName() == name {
			return s
		}
	}
	return nil
}

// Roster returns the authenticated sessions ordered by username.
func (r *Registry) Roster() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.UserName() != "" {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].UserName() < out[j].UserName()
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
