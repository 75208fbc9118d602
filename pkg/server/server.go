// Package server exposes the build sessions over a REST API and a WebSocket
// per session.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/appforge/appforge/pkg/model"
	"github.com/appforge/appforge/pkg/store"
	"github.com/appforge/appforge/pkg/watcher"
)

// Server serves the REST API and per-session WebSockets.
type Server struct {
	registry *Registry
	sessions store.SessionStore
	messages store.TranscriptStore
	provider model.Provider
	watch    *watcher.Watcher
	srv      *http.Server
}

// New creates a new Server.
func New(
	registry *Registry,
	sessions store.SessionStore,
	messages store.TranscriptStore,
	provider model.Provider,
	watch *watcher.Watcher,
) *Server {
	return &Server{
		registry: registry,
		sessions: sessions,
		messages: messages,
		provider: provider,
		watch:    watch,
	}
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.corsMiddleware(s.routes()),
	}

	slog.Info("Starting server", "addr", addr)
	return s.srv.ListenAndServe()
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Session routes
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	// Transcript
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleGetMessages)

	// Models
	mux.HandleFunc("GET /api/models", s.handleListModels)

	// Health
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// WebSocket
	mux.HandleFunc("/api/sessions/{id}/ws", s.handleSessionWebSocket)

	return mux
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	slog.Error("API Error", "error", err)
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
