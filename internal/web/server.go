// Package web serves the REST API and the event WebSocket.
package web

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hubspace-go-home/internal/capability"
	"hubspace-go-home/internal/cloud"
	"hubspace-go-home/internal/coordinator"
	"hubspace-go-home/internal/store"
)

// Controller is the accessory registry and control path the server exposes.
type Controller interface {
	Accessories() []*store.Accessory
	Accessory(id string) (*store.Accessory, bool)
	Read(ctx context.Context, accessoryID string, q capability.Query) (cloud.Reading, error)
	Write(ctx context.Context, accessoryID string, q capability.Query, value cloud.Value) error
	Reconcile(ctx context.Context) (*coordinator.Result, error)
	Events() *coordinator.EventBus
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string reported by the API.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the REST API.
type Server struct {
	ctrl           Controller
	router         chi.Router
	wsHub          *WSHub
	logger         *slog.Logger
	apiKey         string
	allowedOrigins []string
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server and starts its WebSocket hub.
func NewServer(ctrl Controller, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		ctrl:   ctrl,
		logger: logger.With("component", "web"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	// Forward every coordinator event to WebSocket clients.
	s.unsubEvents = ctrl.Events().OnAll(func(event coordinator.Event) {
		s.wsHub.Broadcast(event)
	})

	s.router = s.routes()
	return s
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.apiKeyMiddleware)

		r.Get("/health", s.handleAPIHealth)
		r.Get("/version", s.handleAPIVersion)
		r.Post("/discovery", s.handleAPIDiscovery)

		r.Route("/accessories", func(r chi.Router) {
			r.Get("/", s.handleAPIListAccessories)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleAPIGetAccessory)
				r.Get("/capabilities/{capability}", s.handleAPIReadCapability)
				r.Put("/capabilities/{capability}", s.handleAPIWriteCapability)
			})
		})
	})

	// Browsers cannot send custom headers on a WebSocket upgrade, so /ws is
	// guarded by origin checks only.
	r.Get("/ws", s.handleWS)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// corsMiddleware checks Origin on preflight and mutating requests to prevent CSRF.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if len(s.allowedOrigins) == 0 || origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			if !s.isOriginAllowed(origin) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if r.Method != http.MethodGet {
			if !s.isOriginAllowed(origin) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
