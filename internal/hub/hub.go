// Package hub holds the room broadcaster and session registry: the only
// state shared across connections. Each room serializes its own joins,
// leaves, and sends under a room-scoped mutex; rooms are independent of each
// other.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"chatwire/internal/models"
)

var (
	ErrNotJoined        = errors.New("session has not joined a room")
	ErrNotAuthenticated = errors.New("session is not authenticated")
)

// MessageLog is the persistence collaborator. Append must complete before
// the hub broadcasts, so a committed message is never missing from history.
type MessageLog interface {
	AppendMessage(ctx context.Context, msg models.Message) (models.Message, error)
	RoomHistory(ctx context.Context, room string) ([]models.Message, error)
}

type Hub struct {
	log MessageLog

	mu    sync.Mutex
	rooms map[string]*room
}

// room membership is keyed by connection ID. Empty rooms stay in the map
// inert; history lives in the log, so an inert room costs one map entry.
type room struct {
	mu      sync.Mutex
	name    string
	members map[string]*Session
}

func New(log MessageLog) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]*room),
	}
}

func (h *Hub) room(name string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[name]
	if ok {
		return r
	}
	r = &room{name: name, members: make(map[string]*Session)}
	h.rooms[name] = r
	return r
}

// Join adds the session to the room: the history fetch, the one-shot
// chatHistory delivery to the joiner, the membership insert, and the join
// announcement to the other members all happen under the room's critical
// section, so no send can slip between the history snapshot and the
// membership insert. A session already in another room leaves it first.
func (h *Hub) Join(ctx context.Context, name string, session *Session) error {
	username := session.Username()
	if username == "" {
		return ErrNotAuthenticated
	}

	if prior := session.Room(); prior != "" {
		h.Leave(session)
	}

	r := h.room(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	history, err := h.log.RoomHistory(ctx, name)
	if err != nil {
		return err
	}

	session.Deliver(mustMarshal(models.Frame{
		Type:    "chatHistory",
		Room:    name,
		History: history,
	}))

	r.members[session.ConnID] = session
	session.setRoom(name)

	announcement := mustMarshal(models.Frame{
		Type:     "message",
		Room:     name,
		Username: "System",
		Text:     username + " joined",
	})
	for connID, member := range r.members {
		if connID == session.ConnID {
			continue
		}
		member.Deliver(announcement)
	}

	slog.Debug("session joined room", "room", name, "conn_id", session.ConnID, "username", username)
	return nil
}

// Send persists the message, then fans the committed record out to every
// current member including the sender, so the sender renders its own message
// through the same path as everyone else. On persistence failure nothing is
// broadcast and the error goes to the caller only.
func (h *Hub) Send(ctx context.Context, session *Session, text string) error {
	name := session.Room()
	if name == "" {
		return ErrNotJoined
	}

	r := h.room(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	committed, err := h.log.AppendMessage(ctx, models.Message{
		Room:      name,
		Username:  session.Username(),
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	frame := mustMarshal(models.Frame{
		Type:      "receiveMessage",
		Room:      committed.Room,
		Username:  committed.Username,
		Text:      committed.Text,
		Timestamp: committed.Timestamp,
	})
	for _, member := range r.members {
		member.Deliver(frame)
	}
	return nil
}

// Leave removes the session from its room, if it has one. No announcement is
// sent. Safe to call on unjoined sessions.
func (h *Hub) Leave(session *Session) {
	name := session.Room()
	if name == "" {
		return
	}

	r := h.room(name)
	r.mu.Lock()
	delete(r.members, session.ConnID)
	session.setRoom("")
	r.mu.Unlock()

	slog.Debug("session left room", "room", name, "conn_id", session.ConnID)
}

// MemberCount reports the room's current membership size.
func (h *Hub) MemberCount(name string) int {
	h.mu.Lock()
	r, ok := h.rooms[name]
	h.mu.Unlock()
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Rooms lists rooms with at least one member, sorted by name.
func (h *Hub) Rooms() []models.RoomInfo {
	h.mu.Lock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	infos := make([]models.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		members := len(r.members)
		r.mu.Unlock()
		if members == 0 {
			continue
		}
		infos = append(infos, models.RoomInfo{Room: r.name, Members: members})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Room < infos[j].Room })
	return infos
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal frame", "error", err)
		return []byte("null")
	}
	return data
}
