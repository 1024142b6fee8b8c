// Package realtime manages persistent operator connections: per-connection
// log tailing and deployment-status change notification over a duplex
// channel.
package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentgrid-io/agentgrid/internal/contracts"
	"github.com/agentgrid-io/agentgrid/internal/deploystate"
	"github.com/agentgrid-io/agentgrid/internal/observability"
)

// Hub accepts realtime connections and owns their lifecycle.
type Hub struct {
	persistence contracts.Persistence
	compute     contracts.Compute
	store       *deploystate.Store
	authn       contracts.Authenticator
	authz       contracts.Authorizer
	logger      *zap.SugaredLogger
	metrics     *observability.MetricsManager

	statusInterval time.Duration
	upgrader       websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
	shutdown bool
}

// Options configures a Hub.
type Options struct {
	Persistence    contracts.Persistence
	Compute        contracts.Compute
	Store          *deploystate.Store
	Authenticator  contracts.Authenticator
	Authorizer     contracts.Authorizer
	Logger         *zap.SugaredLogger
	Metrics        *observability.MetricsManager
	StatusInterval time.Duration
}

// NewHub creates a hub. Metrics may be nil.
func NewHub(opts Options) *Hub {
	interval := opts.StatusInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Hub{
		persistence:    opts.Persistence,
		compute:        opts.Compute,
		store:          opts.Store,
		authn:          opts.Authenticator,
		authz:          opts.Authorizer,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		statusInterval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		sessions: make(map[string]*Session),
	}
}

// ServeHTTP upgrades the request to a websocket and runs the session.
// Authentication happens once, at accept time; unauthenticated connections
// get a single error frame and are closed immediately.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, authErr := h.authn.Authenticate(r.Header)

	wsocket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugw("Websocket upgrade failed", "error", err)
		return
	}
	conn := newWSConn(wsocket)

	if authErr != nil || principal == nil {
		_ = conn.WriteJSON(newErrorFrame("authentication required"))
		_ = conn.Close()
		return
	}

	h.Accept(conn, principal)
}

// Accept registers a connection for an already-authenticated principal and
// starts its read loop.
func (h *Hub) Accept(conn Conn, principal *contracts.Principal) *Session {
	session := newSession(uuid.NewString(), h, conn, principal, h.logger)

	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		_ = conn.WriteJSON(newErrorFrame("server is shutting down"))
		_ = conn.Close()
		return nil
	}
	h.sessions[session.id] = session
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SessionOpened()
	}
	h.logger.Debugw("Session accepted", "session_id", session.id, "principal", principal.ID)

	go session.run()
	return session
}

func (h *Hub) removeSession(s *Session) {
	h.mu.Lock()
	_, present := h.sessions[s.id]
	delete(h.sessions, s.id)
	h.mu.Unlock()

	if present && h.metrics != nil {
		h.metrics.SessionClosed()
	}
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown cancels every connection's subscriptions and closes every
// socket. New connections are refused afterwards.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.shutdown = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	h.logger.Infow("Realtime hub shut down", "closed_sessions", len(sessions))
}
