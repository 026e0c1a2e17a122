package broker

import (
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// session is a registry entry. Publishes hold mu for reading while they hand off;
// unregistering takes it for writing, so nothing is accepted once closed is set.
type session struct {
	mu     sync.RWMutex
	client *mqtt.Client
	closed bool
}

func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Registry tracks live client sessions by client id.
type Registry struct {
	sessions cmap.ConcurrentMap[string, *session]
}

func NewRegistry() *Registry {
	return &Registry{sessions: cmap.New[*session]()}
}

// Register records cl as the live session for its id. A session it replaces is closed.
func (r *Registry) Register(cl *mqtt.Client) {
	var replaced *session
	r.sessions.Upsert(cl.ID, nil, func(exists bool, old, _ *session) *session {
		if exists {
			replaced = old
		}
		return &session{client: cl}
	})
	if replaced != nil && replaced.client != cl {
		replaced.close()
	}
}

// Unregister removes cl if it is still the registered session for its id.
// It reports false when the id was taken over by a newer session or never registered.
func (r *Registry) Unregister(cl *mqtt.Client) bool {
	var removed *session
	r.sessions.RemoveCb(cl.ID, func(_ string, s *session, exists bool) bool {
		if exists && s.client == cl {
			removed = s
			return true
		}
		return false
	})
	if removed == nil {
		return false
	}
	removed.close()
	return true
}

// Live reports whether a session is currently registered for clientID.
func (r *Registry) Live(clientID string) bool {
	s, ok := r.sessions.Get(clientID)
	if !ok {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// WithLive runs fn only if cl is the live session for its id, and keeps the session
// from being unregistered until fn returns. It reports whether fn ran.
func (r *Registry) WithLive(cl *mqtt.Client, fn func()) bool {
	s, ok := r.sessions.Get(cl.ID)
	if !ok {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.client != cl {
		return false
	}
	fn()
	return true
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	return r.sessions.Count()
}
