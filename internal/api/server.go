// Package api exposes the relay's read-only HTTP surface: the per-username
// message query and the health endpoint. No business logic lives here, only
// HTTP handling and JSON serialization.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Pinger validates backing-store connectivity for the health endpoint.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Registry is the slice of registry behaviour the API needs.
type Registry interface {
	Stats() map[string]int
}

// Server handles the auxiliary query endpoints.
type Server struct {
	store    interfaces.MessageStore
	pinger   Pinger
	registry Registry
	router   *http.ServeMux
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
}

// ErrorResponse is the JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// NewServer creates the API server with its routes installed.
func NewServer(store interfaces.MessageStore, pinger Pinger, registry Registry) *Server {
	s := &Server{
		store:    store,
		pinger:   pinger,
		registry: registry,
		router:   http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/messages", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleMessages))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleMessages serves GET /api/messages?username=u: the named user's full
// history as envelopes with send_time, ascending. An unknown username yields
// an empty array.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		s.sendError(w, "Missing required query parameter: username", http.StatusBadRequest)
		return
	}
	if !types.IsValidUsername(username) {
		s.sendError(w, "Invalid username", http.StatusBadRequest)
		return
	}

	envelopes, err := s.store.MessagesForUsername(r.Context(), username)
	if err != nil {
		log.Printf("Message query failed: username=%s: %v", username, err)
		s.sendError(w, "Failed to query messages", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, envelopes, http.StatusOK)
}

// healthCheck serves GET /health with store connectivity and connection
// counts.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Database:    "connected",
		Connections: s.registry.Stats(),
	}

	status := http.StatusOK
	if err := s.pinger.HealthCheck(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}

	s.sendJSON(w, resp, status)
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}, status int) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, ErrorResponse{Error: message, Code: code}, code)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
