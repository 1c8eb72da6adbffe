package hub

import "sync"

// Session is the server-side state for one live websocket connection. It is
// owned by the connection handler that created it; rooms hold references but
// never the lifecycle. Identity and room are each set through the Registry
// and Hub, never directly.
type Session struct {
	ConnID string

	// Send carries marshaled frames to the connection's write pump. The
	// owning handler closes it after the session is destroyed; the hub
	// never delivers to a session it has already removed.
	Send chan []byte

	mu       sync.Mutex
	username string
	room     string
	closer   func()
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *Session) setRoom(room string) {
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
}

// SetCloser registers the function used to force-close the underlying
// connection, e.g. on server shutdown.
func (s *Session) SetCloser(close func()) {
	s.mu.Lock()
	s.closer = close
	s.mu.Unlock()
}

func (s *Session) close() {
	s.mu.Lock()
	closer := s.closer
	s.mu.Unlock()
	if closer != nil {
		closer()
	}
}

// Deliver hands a marshaled frame to the session's write pump without
// blocking; a slow consumer whose buffer is full misses the frame rather
// than stalling the room.
func (s *Session) Deliver(message []byte) {
	select {
	case s.Send <- message:
	default:
	}
}
