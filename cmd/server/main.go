package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatwire/internal/auth"
	"chatwire/internal/config"
	"chatwire/internal/db"
	"chatwire/internal/handler"
	"chatwire/internal/hub"
	"chatwire/internal/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal("Failed to open database: ", err)
	}
	defer database.Close()

	slog.Info("database initialized", "path", cfg.DBPath)

	identity := auth.New(cfg.JWTSecret, cfg.TokenTTL)
	broadcaster := hub.New(database)
	registry := hub.NewRegistry(broadcaster)

	wsHandler := handler.NewWSHandler(identity, broadcaster, registry, cfg.AllowedOrigins)
	authHandler := &handler.AuthHandler{DB: database, Auth: identity}
	roomHandler := &handler.RoomHandler{Hub: broadcaster}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := database.Ping(); err != nil {
			slog.Error("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status":   "unhealthy",
				"database": "disconnected",
			})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /api/rooms", roomHandler.ListRooms)
	mux.HandleFunc("GET /ws", wsHandler.HandleWebSocket)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     middleware.BodyLimit(middleware.CORS(middleware.Logging(mux), cfg.AllowedOrigins)),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("chatwire server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	registry.DisconnectAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
