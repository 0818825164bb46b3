// Package api is the HTTP surface: chat endpoints plus CRUD for agents,
// topics, worldbooks, presets, notes, groups, and settings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fablehost/fable/internal/completion"
	"github.com/fablehost/fable/internal/db"
	"github.com/fablehost/fable/internal/pipeline"
)

// Server implements the HTTP API.
type Server struct {
	store      *db.Store
	client     *completion.Client
	generator  *pipeline.Generator
	log        *zap.Logger
	router     *chi.Mux
	port       string
	httpServer *http.Server
	sseServer  *server.SSEServer
	mcpServer  *server.MCPServer
}

// NewServer creates an HTTP API server wired to the store and pipeline.
func NewServer(store *db.Store, client *completion.Client, generator *pipeline.Generator, log *zap.Logger, port string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		store:     store,
		client:    client,
		generator: generator,
		log:       log,
		port:      port,
	}

	s.setupRouter()
	return s
}

type contextKey string

const userIDKey contextKey = "user_id"

// setupRouter configures all HTTP routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware (no timeout here - we'll add it selectively)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health checks (no timeout needed)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// MCP SSE endpoint gets mounted dynamically via AddMCPServer.
	// NO TIMEOUT MIDDLEWARE - SSE connections must stay open indefinitely.

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireUser)

		// Generation routes stream; the completion client's own timeout
		// bounds them instead of the router.
		r.Post("/chat/generate", s.handleGenerate)
		r.Post("/chat/regenerate", s.handleRegenerate)

		// Short-lived REST routes get a timeout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/chat/send", s.handleSend)
			r.Get("/chat/history/{topicID}", s.handleHistory)
			r.Put("/chat/messages/{id}", s.handleEditMessage)
			r.Delete("/chat/messages/{id}", s.handleDeleteMessage)
			r.Delete("/chat/topics/{topicID}/messages", s.handleClearTopic)

			r.Post("/agents", s.handleCreateAgent)
			r.Get("/agents", s.handleListAgents)
			r.Get("/agents/{id}", s.handleGetAgent)
			r.Put("/agents/{id}", s.handleUpdateAgent)
			r.Delete("/agents/{id}", s.handleDeleteAgent)
			r.Post("/agents/{id}/topics", s.handleCreateTopic)
			r.Get("/agents/{id}/topics", s.handleListTopics)

			r.Put("/topics/{id}", s.handleRenameTopic)
			r.Delete("/topics/{id}", s.handleDeleteTopic)

			r.Post("/worldbooks", s.handleCreateWorldBook)
			r.Get("/worldbooks", s.handleListWorldBooks)
			r.Get("/worldbooks/{id}", s.handleGetWorldBook)
			r.Put("/worldbooks/{id}", s.handleUpdateWorldBook)
			r.Delete("/worldbooks/{id}", s.handleDeleteWorldBook)
			r.Post("/worldbooks/{id}/entries", s.handleCreateEntry)
			r.Get("/worldbooks/{id}/entries", s.handleListEntries)
			r.Put("/entries/{id}", s.handleUpdateEntry)
			r.Delete("/entries/{id}", s.handleDeleteEntry)

			r.Post("/presets", s.handleCreatePreset)
			r.Get("/presets", s.handleListPresets)
			r.Get("/presets/{id}", s.handleGetPreset)
			r.Put("/presets/{id}", s.handleUpdatePreset)
			r.Delete("/presets/{id}", s.handleDeletePreset)
			r.Post("/presets/{id}/apply/{agentID}", s.handleApplyPreset)

			r.Post("/notes", s.handleCreateNote)
			r.Get("/notes", s.handleListNotes)
			r.Get("/notes/{id}", s.handleGetNote)
			r.Put("/notes/{id}", s.handleUpdateNote)
			r.Put("/notes/{id}/move", s.handleMoveNote)
			r.Delete("/notes/{id}", s.handleDeleteNote)

			r.Post("/groups", s.handleCreateGroup)
			r.Get("/groups", s.handleListGroups)
			r.Get("/groups/{id}", s.handleGetGroup)
			r.Put("/groups/{id}", s.handleUpdateGroup)
			r.Delete("/groups/{id}", s.handleDeleteGroup)
			r.Post("/groups/{id}/members/{agentID}", s.handleAddGroupMember)
			r.Delete("/groups/{id}/members/{agentID}", s.handleRemoveGroupMember)

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)
			r.Post("/settings/test", s.handleTestSettings)
		})
	})

	s.router = r
}

// requireUser resolves the requesting user from the X-User-ID header set by
// the fronting proxy. Requests without it are rejected.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			errorResponse(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userID returns the authenticated user id placed by requireUser.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// Serve starts the HTTP server and blocks until it stops.
func (s *Server) Serve() error {
	addr := fmt.Sprintf(":%s", s.port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	s.log.Info("starting HTTP server", zap.String("addr", addr))

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth returns 200 OK if server is running
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// handleReady checks whether the database is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// errorResponse writes a JSON error response
func errorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// successResponse writes a JSON success response
func successResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(data)
}

// writeErr maps pipeline and completion errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, err error) {
	var upstream *completion.UpstreamError
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		errorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrForbidden):
		errorResponse(w, http.StatusForbidden, err.Error())
	case errors.Is(err, pipeline.ErrNotConfigured):
		errorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrGenerationInProgress):
		errorResponse(w, http.StatusConflict, err.Error())
	case errors.As(err, &upstream):
		errorResponse(w, http.StatusBadGateway, err.Error())
	default:
		errorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

// AddMCPServer adds MCP SSE transport to the HTTP server
func (s *Server) AddMCPServer(mcpServer *server.MCPServer) {
	s.mcpServer = mcpServer

	// Create SSE server with base path and keep-alive enabled
	s.sseServer = server.NewSSEServer(
		mcpServer,
		server.WithBasePath("/mcp"),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithKeepAlive(true),
		server.WithKeepAliveInterval(15*time.Second),
	)

	// Mount SSE server handler at the base path - it handles subrouting internally
	s.router.Mount("/mcp", s.sseServer)

	s.log.Info("MCP SSE endpoint mounted",
		zap.String("sse", "/mcp/sse"),
		zap.String("message", "/mcp/message"))
}
