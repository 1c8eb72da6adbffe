package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chatwire/internal/auth"
	"chatwire/internal/db"
	"chatwire/internal/hub"
	"chatwire/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16384
	MaxTextLength  = 4096
)

// WSHandler drives the per-connection protocol: authenticate via joinRoom,
// then relay sendMessage frames, then clean up on close. All shared state
// lives in the hub and registry; the handler owns only its session.
type WSHandler struct {
	Auth     *auth.Service
	Hub      *hub.Hub
	Registry *hub.Registry

	upgrader websocket.Upgrader
}

func NewWSHandler(authService *auth.Service, h *hub.Hub, registry *hub.Registry, allowedOrigins []string) *WSHandler {
	handler := &WSHandler{
		Auth:     authService,
		Hub:      h,
		Registry: registry,
	}
	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return handler
}

// originChecker allows every origin when none are configured (local
// development); otherwise the Origin header must match an allowed entry
// exactly, case-insensitively.
func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowedOrigins) == 0 {
			return true
		}
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return false
		}
		for _, allowed := range allowedOrigins {
			if strings.EqualFold(strings.TrimSpace(allowed), origin) {
				return true
			}
		}
		return false
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	session := h.Registry.Create()
	session.SetCloser(func() { conn.Close() })

	slog.Info("websocket connected", "conn_id", session.ConnID, "remote_addr", r.RemoteAddr)

	go h.writePump(conn, session)
	h.readPump(r.Context(), conn, session)
}

// readPump runs the connection's state machine. Closing the Send channel
// after Destroy signals the write pump to flush buffered frames and close
// the connection; Destroy runs first so no broadcast can hit the closed
// channel.
func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, session *hub.Session) {
	defer func() {
		h.Registry.Destroy(session)
		close(session.Send)
		slog.Info("websocket disconnected", "conn_id", session.ConnID, "username", session.Username())
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			sendError(session, "Malformed frame", "INVALID_REQUEST")
			continue
		}

		switch frame.Type {
		case "joinRoom":
			if !h.handleJoin(ctx, session, frame) {
				return
			}

		case "sendMessage":
			h.handleSend(ctx, session, frame)

		default:
			slog.Warn("unknown frame type", "conn_id", session.ConnID, "type", frame.Type)
			sendError(session, "Unknown frame type", "INVALID_REQUEST")
		}
	}
}

// handleJoin reports whether the connection may continue. An invalid token
// terminates the connection; the client must reconnect with a fresh one.
func (h *WSHandler) handleJoin(ctx context.Context, session *hub.Session, frame models.Frame) bool {
	room := strings.TrimSpace(frame.Room)
	if room == "" {
		sendError(session, "Room is required", "INVALID_REQUEST")
		return true
	}

	username, err := h.Auth.Verify(frame.Token)
	if err != nil {
		slog.Warn("join with invalid token", "conn_id", session.ConnID, "room", room)
		sendError(session, "Invalid or expired token", "INVALID_TOKEN")
		return false
	}

	if err := h.Registry.BindIdentity(session, username); err != nil {
		// Already authenticated: switching rooms with the same identity is
		// fine, presenting a token for someone else is not.
		if session.Username() != username {
			sendError(session, "Session is bound to another identity", "INVALID_TOKEN")
			return false
		}
	}

	if err := h.Hub.Join(ctx, room, session); err != nil {
		if errors.Is(err, db.ErrLogUnavailable) {
			slog.Error("history fetch failed", "conn_id", session.ConnID, "room", room, "error", err)
			sendError(session, "Message history is unavailable", "LOG_UNAVAILABLE")
			return true
		}
		slog.Error("room join failed", "conn_id", session.ConnID, "room", room, "error", err)
		sendError(session, "Failed to join room", "INTERNAL_ERROR")
		return true
	}
	return true
}

func (h *WSHandler) handleSend(ctx context.Context, session *hub.Session, frame models.Frame) {
	if frame.Text == "" || len(frame.Text) > MaxTextLength {
		sendError(session, "Message text must be 1-4096 bytes", "INVALID_REQUEST")
		return
	}

	err := h.Hub.Send(ctx, session, frame.Text)
	switch {
	case err == nil:
	case errors.Is(err, hub.ErrNotJoined):
		sendError(session, "Join a room before sending", "NOT_JOINED")
	case errors.Is(err, db.ErrLogUnavailable):
		slog.Error("message append failed", "conn_id", session.ConnID, "error", err)
		sendError(session, "Message was not delivered", "LOG_UNAVAILABLE")
	default:
		slog.Error("message send failed", "conn_id", session.ConnID, "error", err)
		sendError(session, "Message was not delivered", "INTERNAL_ERROR")
	}
}

// writePump owns all writes on the connection, including pings, and closes
// the connection once the session's Send channel is drained and closed.
func (h *WSHandler) writePump(conn *websocket.Conn, session *hub.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-session.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func sendError(session *hub.Session, message, code string) {
	data, err := json.Marshal(models.Frame{Type: "error", Error: message, Code: code})
	if err != nil {
		slog.Error("failed to marshal error frame", "error", err)
		return
	}
	session.Deliver(data)
}
