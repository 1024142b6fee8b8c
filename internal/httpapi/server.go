// Package httpapi exposes the management REST API, the realtime websocket
// endpoint, and the operational endpoints (health, readiness, metrics).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/agentgrid-io/agentgrid/internal/config"
	"github.com/agentgrid-io/agentgrid/internal/contracts"
	"github.com/agentgrid-io/agentgrid/internal/deploystate"
	"github.com/agentgrid-io/agentgrid/internal/observability"
)

const apiTimeout = 60 * time.Second

type principalContextKey struct{}

// CatalogSource resolves catalog entries to their server specs.
type CatalogSource interface {
	GetCatalog(catalogID string) (*config.ServerSpec, error)
}

// Reconciler triggers an automatic reinstall for one server.
type Reconciler interface {
	AutoReinstall(ctx context.Context, server *contracts.DeployedServer, spec *config.ServerSpec) error
}

// Server routes HTTP traffic to the API handlers and the realtime hub.
type Server struct {
	persistence contracts.Persistence
	catalogs    CatalogSource
	store       *deploystate.Store
	authn       contracts.Authenticator
	authz       contracts.Authorizer
	reconciler  Reconciler
	hub         http.Handler
	metrics     *observability.MetricsManager
	logger      *zap.SugaredLogger
	router      *chi.Mux
	ready       func() bool
}

// Options configures the HTTP server. Metrics and Ready may be nil.
type Options struct {
	Persistence   contracts.Persistence
	Catalogs      CatalogSource
	Store         *deploystate.Store
	Authenticator contracts.Authenticator
	Authorizer    contracts.Authorizer
	Reconciler    Reconciler
	Hub           http.Handler
	Metrics       *observability.MetricsManager
	Logger        *zap.SugaredLogger
	Ready         func() bool
}

// NewServer builds the router and registers all routes.
func NewServer(opts Options) *Server {
	s := &Server{
		persistence: opts.Persistence,
		catalogs:    opts.Catalogs,
		store:       opts.Store,
		authn:       opts.Authenticator,
		authz:       opts.Authorizer,
		reconciler:  opts.Reconciler,
		hub:         opts.Hub,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		router:      chi.NewRouter(),
		ready:       opts.Ready,
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTPMiddleware())
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware())

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	s.router.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if s.ready == nil || s.ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ready":true}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"ready":false}`))
	})

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	// The realtime hub authenticates connections itself, at accept time.
	if s.hub != nil {
		s.router.Handle("/ws", s.hub)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(apiTimeout))
		r.Use(s.authMiddleware())

		r.Get("/servers", s.handleListServers)
		r.Route("/servers/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetServer)
			r.Get("/status", s.handleGetServerStatus)
			r.Post("/reinstall", s.handleReinstallServer)
		})
		r.Get("/statuses", s.handleGetStatuses)
	})
}

// authMiddleware authenticates every API request and stores the principal in
// the request context.
func (s *Server) authMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := s.authn.Authenticate(r.Header)
			if err != nil || principal == nil {
				s.writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func principalFrom(r *http.Request) *contracts.Principal {
	principal, _ := r.Context().Value(principalContextKey{}).(*contracts.Principal)
	return principal
}

// handleListServers returns every server the caller owns or shares a team
// with.
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.persistence.ListServersForPrincipal(principalFrom(r))
	if err != nil {
		s.logger.Errorw("Failed to list servers", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"servers": servers})
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	server, ok := s.authorizedServer(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, server)
}

// handleGetServerStatus returns the cached deployment status for one server,
// defaulting to not_created when the provisioner has never reported it.
func (s *Server) handleGetServerStatus(w http.ResponseWriter, r *http.Request) {
	server, ok := s.authorizedServer(w, r)
	if !ok {
		return
	}
	status, found := s.store.Get(server.ID)
	if !found {
		status = contracts.DeploymentStatus{State: contracts.StateNotCreated}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"serverId": server.ID,
		"status":   status,
	})
}

// handleReinstallServer runs an automatic reinstall synchronously and
// reports the outcome. There are no retries; the client decides whether to
// try again.
func (s *Server) handleReinstallServer(w http.ResponseWriter, r *http.Request) {
	server, ok := s.authorizedServer(w, r)
	if !ok {
		return
	}
	spec, err := s.catalogs.GetCatalog(server.CatalogID)
	if err != nil {
		s.logger.Errorw("Failed to load catalog for reinstall", "server_id", server.ID, "catalog_id", server.CatalogID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load catalog entry")
		return
	}
	if err := s.reconciler.AutoReinstall(r.Context(), server, spec); err != nil {
		s.logger.Errorw("Automatic reinstall failed", "server_id", server.ID, "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"serverId":          server.ID,
		"reinstallRequired": false,
	})
}

// handleGetStatuses returns the deployment status snapshot for every local
// server visible to the caller.
func (s *Server) handleGetStatuses(w http.ResponseWriter, r *http.Request) {
	servers, err := s.persistence.ListServersForPrincipal(principalFrom(r))
	if err != nil {
		s.logger.Errorw("Failed to list servers", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}
	statuses := make(map[string]contracts.DeploymentStatus)
	for _, server := range servers {
		if server.ServerType != contracts.ServerTypeLocal {
			continue
		}
		status, found := s.store.Get(server.ID)
		if !found {
			status = contracts.DeploymentStatus{State: contracts.StateNotCreated}
		}
		statuses[server.ID] = status
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"statuses": statuses})
}

// authorizedServer loads the {id} route parameter and checks the caller may
// act on it. Unauthorized access reports 404 rather than 403 so server IDs
// are not enumerable.
func (s *Server) authorizedServer(w http.ResponseWriter, r *http.Request) (*contracts.DeployedServer, bool) {
	serverID := chi.URLParam(r, "id")
	principal := principalFrom(r)

	allowed, err := s.authz.Authorize(principal, serverID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "server not found")
		return nil, false
	}
	if !allowed {
		s.writeError(w, http.StatusNotFound, "server not found")
		return nil, false
	}
	server, err := s.persistence.FindServer(serverID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "server not found")
		return nil, false
	}
	return server, true
}

func (s *Server) loggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			s.logger.Debugw("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnw("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
