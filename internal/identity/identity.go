// Package identity manages delegated third-party credentials. Users connect
// external services (calendar, mail, search) once; tools then resolve fresh
// access tokens per run without ever seeing refresh tokens or client
// secrets.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Connection is one user's linked account with an external service.
type Connection struct {
	UserID    string
	Service   string
	Token     *oauth2.Token
	LinkedAt  time.Time
	UpdatedAt time.Time
}

// NotConnectedError is returned when a user has not linked the requested
// service. Its message is shown to the model so the assistant can tell the
// user what to do.
type NotConnectedError struct {
	Service string
}

// Error implements the error interface.
func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s is not connected; connect it in settings to use this tool", e.Service)
}

// Service resolves access tokens for linked accounts, refreshing expired
// ones through each service's OAuth2 configuration. It satisfies the
// engine's TokenResolver contract.
type Service struct {
	mu          sync.RWMutex
	connections map[string]*Connection // key: userID + "\x00" + service
	configs     map[string]*oauth2.Config
	logger      *slog.Logger
}

// New creates an identity service with the given per-service OAuth2
// configurations.
func New(configs map[string]*oauth2.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if configs == nil {
		configs = make(map[string]*oauth2.Config)
	}
	return &Service{
		connections: make(map[string]*Connection),
		configs:     configs,
		logger:      logger,
	}
}

func connKey(userID, service string) string { return userID + "\x00" + service }

// Connect stores a user's token for a service, replacing any previous link.
func (s *Service) Connect(userID, service string, token *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	conn := &Connection{
		UserID:    userID,
		Service:   service,
		Token:     token,
		LinkedAt:  now,
		UpdatedAt: now,
	}
	if existing, ok := s.connections[connKey(userID, service)]; ok {
		conn.LinkedAt = existing.LinkedAt
	}
	s.connections[connKey(userID, service)] = conn
}

// Disconnect removes a user's link to a service.
func (s *Service) Disconnect(userID, service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, connKey(userID, service))
}

// Connected lists the services a user has linked.
func (s *Service) Connected(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, conn := range s.connections {
		if conn.UserID == userID {
			out = append(out, conn.Service)
		}
	}
	sort.Strings(out)
	return out
}

// ResolveAccessToken returns a valid access token for the user's linked
// service, refreshing it when expired. Implements the engine's
// TokenResolver contract.
func (s *Service) ResolveAccessToken(ctx context.Context, userID, service string) (string, error) {
	s.mu.RLock()
	conn, ok := s.connections[connKey(userID, service)]
	s.mu.RUnlock()
	if !ok || conn.Token == nil {
		return "", &NotConnectedError{Service: service}
	}

	if conn.Token.Valid() {
		return conn.Token.AccessToken, nil
	}

	cfg, ok := s.configs[service]
	if !ok {
		// No refresh config; the stale token is all we have.
		return "", fmt.Errorf("%s token expired and cannot be refreshed", service)
	}

	fresh, err := cfg.TokenSource(ctx, conn.Token).Token()
	if err != nil {
		return "", fmt.Errorf("refreshing %s token: %w", service, err)
	}

	s.mu.Lock()
	conn.Token = fresh
	conn.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.logger.Debug("refreshed delegated token", "service", service, "user_id", userID)
	return fresh.AccessToken, nil
}
