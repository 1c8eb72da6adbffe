package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatwire/internal/auth"
	"chatwire/internal/db"
	"chatwire/internal/handler"
	"chatwire/internal/hub"
	"chatwire/internal/models"
)

const testSecret = "integration-test-secret-32-chars!!"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	identity := auth.New(testSecret, time.Hour)
	broadcaster := hub.New(database)
	registry := hub.NewRegistry(broadcaster)

	wsHandler := handler.NewWSHandler(identity, broadcaster, registry, nil)
	authHandler := &handler.AuthHandler{DB: database, Auth: identity}
	roomHandler := &handler.RoomHandler{Hub: broadcaster}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /api/rooms", roomHandler.ListRooms)
	mux.HandleFunc("GET /ws", wsHandler.HandleWebSocket)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, payload any) (int, []byte) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(resp.Body); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return resp.StatusCode, out.Bytes()
}

func registerUser(t *testing.T, serverURL, username, password string) {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, serverURL+"/api/auth/register",
		map[string]string{"username": username, "password": password})
	if status != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d body=%s", username, status, body)
	}
}

func loginUser(t *testing.T, serverURL, username, password string) string {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, serverURL+"/api/auth/login",
		map[string]string{"username": username, "password": password})
	if status != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d body=%s", username, status, body)
	}
	var resp handler.LoginResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		t.Fatalf("login %s: missing token in %s", username, body)
	}
	return resp.Token
}

func dialWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame models.Frame) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) models.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame models.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return frame
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func roomMembers(t *testing.T, serverURL, room string) int {
	t.Helper()
	status, body := doJSON(t, http.MethodGet, serverURL+"/api/rooms", nil)
	if status != http.StatusOK {
		t.Fatalf("rooms: expected 200, got %d", status)
	}
	var rooms []models.RoomInfo
	if err := json.Unmarshal(body, &rooms); err != nil {
		t.Fatalf("failed to decode rooms: %v body=%s", err, body)
	}
	for _, info := range rooms {
		if info.Room == room {
			return info.Members
		}
	}
	return 0
}

func TestRegisterDuplicateUsername(t *testing.T) {
	server := newTestServer(t)

	registerUser(t, server.URL, "alice", "password123")
	status, body := doJSON(t, http.MethodPost, server.URL+"/api/auth/register",
		map[string]string{"username": "alice", "password": "password456"})
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d body=%s", status, body)
	}
	var errResp models.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Code != "ALREADY_EXISTS" {
		t.Fatalf("expected ALREADY_EXISTS error code, got %s", body)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	server := newTestServer(t)
	registerUser(t, server.URL, "alice", "password123")

	for _, tc := range []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "alice", "not-the-password"},
		{"unknown user", "nobody", "password123"},
		{"empty", "", ""},
	} {
		status, body := doJSON(t, http.MethodPost, server.URL+"/api/auth/login",
			map[string]string{"username": tc.username, "password": tc.password})
		if status != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d body=%s", tc.name, status, body)
		}
	}
}

func TestJoinWithInvalidTokenTerminatesConnection(t *testing.T) {
	server := newTestServer(t)
	conn := dialWS(t, server.URL)

	writeFrame(t, conn, models.Frame{Type: "joinRoom", Token: "garbage", Room: "r1"})

	frame := readFrame(t, conn)
	if frame.Type != "error" || frame.Code != "INVALID_TOKEN" {
		t.Fatalf("expected INVALID_TOKEN error frame, got %+v", frame)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to be closed after invalid token")
	}
}

func TestSendBeforeJoinIsReportedAndRecoverable(t *testing.T) {
	server := newTestServer(t)
	registerUser(t, server.URL, "alice", "password123")
	token := loginUser(t, server.URL, "alice", "password123")

	conn := dialWS(t, server.URL)
	writeFrame(t, conn, models.Frame{Type: "sendMessage", Text: "too early"})

	frame := readFrame(t, conn)
	if frame.Type != "error" || frame.Code != "NOT_JOINED" {
		t.Fatalf("expected NOT_JOINED error frame, got %+v", frame)
	}

	// The connection survives; joining and sending afterwards works.
	writeFrame(t, conn, models.Frame{Type: "joinRoom", Token: token, Room: "r1"})
	if frame := readFrame(t, conn); frame.Type != "chatHistory" {
		t.Fatalf("expected chatHistory after join, got %+v", frame)
	}
	writeFrame(t, conn, models.Frame{Type: "sendMessage", Text: "on time"})
	if frame := readFrame(t, conn); frame.Type != "receiveMessage" || frame.Text != "on time" {
		t.Fatalf("expected own message back, got %+v", frame)
	}
}

func TestChatScenario(t *testing.T) {
	server := newTestServer(t)
	registerUser(t, server.URL, "alice", "password123")
	registerUser(t, server.URL, "bob", "password123")
	aliceToken := loginUser(t, server.URL, "alice", "password123")
	bobToken := loginUser(t, server.URL, "bob", "password123")

	// Alice joins an empty room and gets an empty history.
	aliceConn := dialWS(t, server.URL)
	writeFrame(t, aliceConn, models.Frame{Type: "joinRoom", Token: aliceToken, Room: "r1"})
	frame := readFrame(t, aliceConn)
	if frame.Type != "chatHistory" || frame.Room != "r1" || len(frame.History) != 0 {
		t.Fatalf("expected empty chatHistory, got %+v", frame)
	}

	// Bob joins: he gets empty history, Alice gets the announcement.
	bobConn := dialWS(t, server.URL)
	writeFrame(t, bobConn, models.Frame{Type: "joinRoom", Token: bobToken, Room: "r1"})
	frame = readFrame(t, bobConn)
	if frame.Type != "chatHistory" || len(frame.History) != 0 {
		t.Fatalf("expected empty chatHistory for bob, got %+v", frame)
	}
	frame = readFrame(t, aliceConn)
	if frame.Type != "message" || frame.Username != "System" || frame.Text != "bob joined" {
		t.Fatalf("expected join announcement for alice, got %+v", frame)
	}

	// Alice sends: both members receive the same committed message.
	writeFrame(t, aliceConn, models.Frame{Type: "sendMessage", Text: "hi"})
	for _, tc := range []struct {
		name string
		conn *websocket.Conn
	}{{"alice", aliceConn}, {"bob", bobConn}} {
		frame := readFrame(t, tc.conn)
		if frame.Type != "receiveMessage" || frame.Username != "alice" || frame.Room != "r1" || frame.Text != "hi" {
			t.Fatalf("%s: unexpected message frame: %+v", tc.name, frame)
		}
		if frame.Timestamp == 0 {
			t.Fatalf("%s: expected committed timestamp", tc.name)
		}
	}

	// Alice disconnects; the room's membership shrinks and Bob keeps working.
	aliceConn.Close()
	waitFor(t, 2*time.Second, func() bool { return roomMembers(t, server.URL, "r1") == 1 })

	writeFrame(t, bobConn, models.Frame{Type: "sendMessage", Text: "still here"})
	frame = readFrame(t, bobConn)
	if frame.Type != "receiveMessage" || frame.Text != "still here" {
		t.Fatalf("expected bob's message after alice left, got %+v", frame)
	}

	// A fresh join replays the full history in order.
	lateConn := dialWS(t, server.URL)
	writeFrame(t, lateConn, models.Frame{Type: "joinRoom", Token: aliceToken, Room: "r1"})
	frame = readFrame(t, lateConn)
	if frame.Type != "chatHistory" || len(frame.History) != 2 {
		t.Fatalf("expected two-message history, got %+v", frame)
	}
	if frame.History[0].Text != "hi" || frame.History[1].Text != "still here" {
		t.Fatalf("history out of order: %+v", frame.History)
	}
	if frame.History[0].Username != "alice" || frame.History[1].Username != "bob" {
		t.Fatalf("history attribution wrong: %+v", frame.History)
	}
}

func TestSwitchingRoomsLeavesPriorRoom(t *testing.T) {
	server := newTestServer(t)
	registerUser(t, server.URL, "alice", "password123")
	token := loginUser(t, server.URL, "alice", "password123")

	conn := dialWS(t, server.URL)
	writeFrame(t, conn, models.Frame{Type: "joinRoom", Token: token, Room: "first"})
	if frame := readFrame(t, conn); frame.Type != "chatHistory" {
		t.Fatalf("expected chatHistory, got %+v", frame)
	}

	writeFrame(t, conn, models.Frame{Type: "joinRoom", Token: token, Room: "second"})
	if frame := readFrame(t, conn); frame.Type != "chatHistory" || frame.Room != "second" {
		t.Fatalf("expected chatHistory for second room, got %+v", frame)
	}

	waitFor(t, 2*time.Second, func() bool {
		return roomMembers(t, server.URL, "first") == 0 && roomMembers(t, server.URL, "second") == 1
	})

	writeFrame(t, conn, models.Frame{Type: "sendMessage", Text: "where am I"})
	if frame := readFrame(t, conn); frame.Type != "receiveMessage" || frame.Room != "second" {
		t.Fatalf("expected message in second room, got %+v", frame)
	}
}
