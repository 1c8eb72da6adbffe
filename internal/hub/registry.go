package hub

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

const sendBufferSize = 256

// ErrAlreadyAuthenticated guards against a second identity bind on the same
// session. Not reachable through the join protocol, but the invariant is a
// registry concern, not a handler courtesy.
var ErrAlreadyAuthenticated = errors.New("session already authenticated")

// Registry is the single source of truth for which sessions exist and what
// they are bound to.
type Registry struct {
	hub *Hub

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(hub *Hub) *Registry {
	return &Registry{
		hub:      hub,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new unauthenticated, unjoined session for a freshly
// opened connection.
func (r *Registry) Create() *Session {
	session := &Session{
		ConnID: uuid.New().String(),
		Send:   make(chan []byte, sendBufferSize),
	}

	r.mu.Lock()
	r.sessions[session.ConnID] = session
	r.mu.Unlock()
	return session
}

// BindIdentity sets the session's identity exactly once.
func (r *Registry) BindIdentity(session *Session, username string) error {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.username != "" {
		return ErrAlreadyAuthenticated
	}
	session.username = username
	return nil
}

// Destroy removes the session from its room (if any) and from the registry.
// Safe to call more than once; the caller must close the Send channel only
// after Destroy returns, so no in-flight broadcast writes to a closed
// channel.
func (r *Registry) Destroy(session *Session) {
	r.hub.Leave(session)

	r.mu.Lock()
	delete(r.sessions, session.ConnID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// DisconnectAll force-closes every live connection. Used on shutdown.
func (r *Registry) DisconnectAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	for _, session := range sessions {
		session.close()
	}
}
