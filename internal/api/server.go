package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tutorcall/internal/presence"
	"tutorcall/pkg/interfaces"
	"tutorcall/pkg/types"
)

// CallTracker reports live call counts without coupling to the coordinator.
type CallTracker interface {
	Count() int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between
// external clients and internal components - no business logic, only HTTP
// handling and JSON serialization
type Server struct {
	directory *presence.Directory
	store     interfaces.CallStore
	calls     CallTracker
	router    *http.ServeMux
}

// NewServer wires the read-only dashboard endpoints.
func NewServer(directory *presence.Directory, store interfaces.CallStore, calls CallTracker) *Server {
	s := &Server{
		directory: directory,
		store:     store,
		calls:     calls,
		router:    http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/presence", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handlePresence))))
	s.router.Handle("/api/appels", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleAppels))))
	s.router.Handle("/api/profs/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleProfHeures))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/metrics", promhttp.Handler())
}

// ServeHTTP implements http.Handler for integration with the standard HTTP server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type PresenceResponse struct {
	Profs []types.ProviderStatus `json:"profs"`
}

type AppelsResponse struct {
	Appels []*types.CallRecord `json:"appels"`
}

type HeuresResponse struct {
	Prof         string  `json:"prof"`
	Mois         string  `json:"mois"`
	DureeMinutes float64 `json:"duree_minutes"`
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Database    string    `json:"database"`
	ActiveCalls int       `json:"active_calls"`
	OnlineProfs int       `json:"online_profs"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/presence - current prof roster with derived availability,
// same snapshot the profList push carries.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(PresenceResponse{Profs: s.directory.Snapshot()})
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GET /api/appels?limit=N - most recent call records, newest first.
func (s *Server) handleAppels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			s.sendError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	appels, err := s.store.ListCalls(r.Context(), limit)
	if err != nil {
		s.sendError(w, "Failed to list calls", http.StatusInternalServerError)
		return
	}
	if appels == nil {
		appels = []*types.CallRecord{}
	}

	_ = json.NewEncoder(w).Encode(AppelsResponse{Appels: appels})
}

// GET /api/profs/{username}/heures - completed-call minutes for the
// current month, the figure the billing page shows.
func (s *Server) handleProfHeures(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/profs/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "heures" {
		s.sendError(w, "Invalid prof resource", http.StatusBadRequest)
		return
	}
	username := parts[0]

	if !types.IsValidUsername(username) {
		s.sendError(w, "Invalid username", http.StatusBadRequest)
		return
	}

	// Offline profs still have history, so this never consults the
	// live directory - the store is the authority for past calls.
	minutes, err := s.store.MonthlyMinutes(r.Context(), username)
	if err != nil {
		s.sendError(w, "Failed to compute monthly minutes", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(HeuresResponse{
		Prof:         username,
		Mois:         time.Now().Format("2006-01"),
		DureeMinutes: minutes,
	})
}

// GET /health - system health check with component validation.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		ActiveCalls: s.calls.Count(),
		OnlineProfs: len(s.directory.Snapshot()),
	}

	// Return 503 if any component is unhealthy
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	_ = json.NewEncoder(w).Encode(response)
}

// sendError writes the consistent error response format.
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware enables web client access. Allows all origins in
// development - would be restricted in production.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonMiddleware ensures proper content-type headers on API responses.
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}
