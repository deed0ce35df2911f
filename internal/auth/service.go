package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrInvalidCredentials is returned when authentication fails, regardless of
// whether the username or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

type user struct {
	name         string
	passwordHash string
	roles        []string
}

// Service maps connection credentials to principals and answers per-route
// authorization checks. The user set is append-only at startup and read-only
// afterwards, mirroring the route table.
type Service struct {
	mu     sync.RWMutex
	users  map[string]user
	hasher Hasher
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for authentication failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService constructs an authenticator backed by the given password hasher.
func NewService(hasher Hasher, opts ...Option) *Service {
	s := &Service{
		users:  make(map[string]user),
		hasher: hasher,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterUser hashes the password and adds a user. Intended for startup
// wiring; duplicate usernames are rejected.
func (s *Service) RegisterUser(username, password string, roles ...string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("register user %q: %w", username, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return fmt.Errorf("register user %q: already registered", username)
	}
	s.users[username] = user{name: username, passwordHash: hash, roles: roles}
	return nil
}

// Authenticate resolves credentials to a principal. The hash comparison runs
// even for unknown users so response timing does not leak which usernames
// exist.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (*Principal, error) {
	s.mu.RLock()
	u, found := s.users[creds.Username]
	s.mu.RUnlock()

	if !found {
		// Burn a comparison against an empty hash; it always fails.
		_ = s.hasher.Compare("", creds.Password)
		return nil, ErrInvalidCredentials
	}

	if err := s.hasher.Compare(u.passwordHash, creds.Password); err != nil {
		s.logger.DebugContext(ctx, "authentication failed", "username", creds.Username)
		return nil, ErrInvalidCredentials
	}

	return &Principal{Name: u.name, Roles: append([]string(nil), u.roles...)}, nil
}

// Authorize reports whether the principal may act in the required role. A nil
// principal (anonymous connection) is never authorized.
func (s *Service) Authorize(p *Principal, requiredRole string) bool {
	return p.HasRole(requiredRole)
}
