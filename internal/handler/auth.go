package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"chatwire/internal/auth"
	"chatwire/internal/db"
	"chatwire/internal/models"
)

const (
	PasswordMinLength = 8
	UsernameMinLength = 3
	UsernameMaxLength = 32
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

type AuthHandler struct {
	DB   *db.Database
	Auth *auth.Service
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

func isValidUsername(username string) bool {
	if len(username) < UsernameMinLength || len(username) > UsernameMaxLength {
		return false
	}
	return usernameRegex.MatchString(username)
}

func writeJSONError(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	if !isValidUsername(req.Username) {
		writeJSONError(w, "Username must be 3-32 characters and contain only letters, numbers, and underscores", "INVALID_USERNAME", http.StatusBadRequest)
		return
	}

	if len(req.Password) < PasswordMinLength {
		writeJSONError(w, "Password must be at least 8 characters", "INVALID_PASSWORD", http.StatusBadRequest)
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeJSONError(w, "Failed to process password", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	id := uuid.New().String()
	if err := h.DB.CreateUserIfNotExists(id, req.Username, passwordHash); err != nil {
		if errors.Is(err, db.ErrUserExists) {
			writeJSONError(w, "User already exists", "ALREADY_EXISTS", http.StatusConflict)
			return
		}
		slog.Error("failed to create user", "username", req.Username, "error", err)
		writeJSONError(w, "Failed to create account", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	slog.Info("user registered", "username", req.Username)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"id":       id,
		"username": req.Username,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		auth.BurnPasswordCheck(req.Password)
		time.Sleep(100 * time.Millisecond)
		writeJSONError(w, "Invalid credentials", "INVALID_CREDENTIALS", http.StatusUnauthorized)
		return
	}

	user, err := h.DB.GetUserByUsername(req.Username)
	if err != nil {
		auth.BurnPasswordCheck(req.Password)
		time.Sleep(100 * time.Millisecond)
		writeJSONError(w, "Invalid credentials", "INVALID_CREDENTIALS", http.StatusUnauthorized)
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		time.Sleep(100 * time.Millisecond)
		writeJSONError(w, "Invalid credentials", "INVALID_CREDENTIALS", http.StatusUnauthorized)
		return
	}

	token, err := h.Auth.Issue(user.Username)
	if err != nil {
		slog.Error("failed to issue token", "username", user.Username, "error", err)
		writeJSONError(w, "Failed to issue token", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{Token: token})
}
