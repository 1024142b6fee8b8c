// Package auth validates realtime connection credentials and authorizes
// access to individual servers.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/agentgrid-io/agentgrid/internal/config"
	"github.com/agentgrid-io/agentgrid/internal/contracts"
)

// ErrUnauthenticated is returned when no valid credential is presented.
var ErrUnauthenticated = errors.New("unauthenticated")

const (
	apiKeyHeader = "X-Api-Key"
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "
)

// sessionClaims are the JWT claims carried by a session token.
type sessionClaims struct {
	TeamIDs []string `json:"team_ids,omitempty"`
	jwt.RegisteredClaims
}

// Service authenticates connections via static API keys or HS256 session
// tokens, and authorizes principals against server ownership.
type Service struct {
	apiKeys     map[string]*config.APIKey
	jwtSecret   []byte
	persistence contracts.Persistence
	logger      *zap.SugaredLogger
}

// NewService creates an auth service from daemon configuration.
func NewService(cfg *config.Config, persistence contracts.Persistence, logger *zap.SugaredLogger) *Service {
	return &Service{
		apiKeys:     cfg.APIKeys,
		jwtSecret:   []byte(cfg.JWTSecret),
		persistence: persistence,
		logger:      logger,
	}
}

// Authenticate resolves the connection headers to a principal, or returns
// ErrUnauthenticated.
func (s *Service) Authenticate(headers http.Header) (*contracts.Principal, error) {
	if key := headers.Get(apiKeyHeader); key != "" {
		if entry, ok := s.apiKeys[key]; ok {
			return &contracts.Principal{
				ID:      entry.PrincipalID,
				TeamIDs: entry.TeamIDs,
				APIKey:  true,
			}, nil
		}
		s.logger.Debugw("Rejected unknown API key")
		return nil, ErrUnauthenticated
	}

	if raw := headers.Get(authHeader); strings.HasPrefix(raw, bearerPrefix) {
		return s.authenticateToken(strings.TrimPrefix(raw, bearerPrefix))
	}

	return nil, ErrUnauthenticated
}

func (s *Service) authenticateToken(raw string) (*contracts.Principal, error) {
	if len(s.jwtSecret) == 0 {
		return nil, ErrUnauthenticated
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		s.logger.Debugw("Rejected session token", "error", err)
		return nil, ErrUnauthenticated
	}

	return &contracts.Principal{
		ID:      claims.Subject,
		TeamIDs: claims.TeamIDs,
	}, nil
}

// Authorize reports whether the principal may observe the given server:
// it must own the server or belong to the server's team.
func (s *Service) Authorize(p *contracts.Principal, serverID string) (bool, error) {
	server, err := s.persistence.FindServer(serverID)
	if err != nil {
		return false, fmt.Errorf("failed to look up server %s: %w", serverID, err)
	}
	if server.OwnerID != "" && server.OwnerID == p.ID {
		return true, nil
	}
	if server.TeamID != "" {
		for _, teamID := range p.TeamIDs {
			if teamID == server.TeamID {
				return true, nil
			}
		}
	}
	return false, nil
}
