package models

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Message is one persisted chat record. ID is assigned by the log and breaks
// ties between messages carrying the same timestamp.
type Message struct {
	ID        int64  `json:"id,omitempty"`
	Room      string `json:"room"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Frame is the websocket envelope for both directions. Client frames carry
// type joinRoom or sendMessage; server frames carry chatHistory, message,
// receiveMessage, or error. Fields not used by a frame type are omitted.
type Frame struct {
	Type      string    `json:"type"`
	Token     string    `json:"token,omitempty"`
	Room      string    `json:"room,omitempty"`
	Username  string    `json:"username,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`
	History   []Message `json:"history,omitempty"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"`
}

type RoomInfo struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
