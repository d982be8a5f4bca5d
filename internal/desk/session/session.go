// Package session owns the login state of one browser: the backend user,
// its bearer token, and the teardown that runs when the token stops working.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bitfantasy/repairdesk/internal/desk/entity"
	"github.com/bitfantasy/repairdesk/internal/desk/validate"
	"github.com/bitfantasy/repairdesk/internal/shared/backend"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrExpired     = errors.New("session expired")
	ErrInvalidRole = errors.New("invalid user role")
)

// Session is one login. It satisfies backend.Credentials.
type Session struct {
	ID        string      `json:"id"`
	User      entity.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`

	teardown func(id string)
	once     sync.Once
}

var _ backend.Credentials = (*Session)(nil)

func (s *Session) BearerToken() string {
	return s.Token
}

// OnUnauthorized tears the session down. Later calls are no-ops.
func (s *Session) OnUnauthorized() {
	s.once.Do(func() {
		if s.teardown != nil {
			s.teardown(s.ID)
		}
	})
}

// Expired reports whether the token has passed its exp claim.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// TokenExpiry reads the exp claim without verifying the signature; the
// backend owns the signing key. A token without exp yields the zero time.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}

// Authenticator exchanges credentials for a backend token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*backend.LoginResult, error)
}

// Manager 会话管理
type Manager struct {
	store       Store
	authn       Authenticator
	fallbackTTL time.Duration
	logger      *zap.Logger

	mu    sync.RWMutex
	hooks []func(id string)
	now   func() time.Time
}

func NewManager(store Store, authn Authenticator, fallbackTTL time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fallbackTTL <= 0 {
		fallbackTTL = 24 * time.Hour
	}
	return &Manager{
		store:       store,
		authn:       authn,
		fallbackTTL: fallbackTTL,
		logger:      logger,
		now:         time.Now,
	}
}

// OnTeardown registers fn to run whenever a session ends (logout, expiry,
// or a 401 from the backend).
func (m *Manager) OnTeardown(fn func(id string)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// Login authenticates against the backend and persists a new session.
func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	var v validate.Errors
	v.Required("email", "Email", email)
	v.Required("password", "Password", password)
	if err := v.Err(); err != nil {
		return nil, err
	}

	res, err := m.authn.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, err
	}
	if !res.User.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, res.User.Role)
	}

	exp, err := TokenExpiry(res.AccessToken)
	if err != nil {
		m.logger.Warn("token has no readable expiry", zap.Error(err))
	}
	now := m.now()
	ttl := m.fallbackTTL
	if !exp.IsZero() {
		ttl = exp.Sub(now)
	} else {
		exp = now.Add(ttl)
	}
	if ttl <= 0 {
		return nil, ErrExpired
	}

	sess := &Session{
		ID:        uuid.New().String(),
		User:      res.User,
		Token:     res.AccessToken,
		ExpiresAt: exp,
	}
	if err := m.store.Save(ctx, sess, ttl); err != nil {
		return nil, err
	}
	sess.teardown = m.teardown

	m.logger.Info("session created",
		zap.String("session_id", sess.ID),
		zap.Int64("user_id", sess.User.ID),
		zap.String("role", string(sess.User.Role)),
	)
	return sess, nil
}

// Load returns the live session for id. An expired token tears the session
// down and yields ErrExpired. An id the store no longer knows (its key aged
// out with the token) still runs the teardown hooks.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	sess, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		m.runHooks(id)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if sess.Expired(m.now()) {
		m.teardown(id)
		return nil, ErrExpired
	}
	sess.teardown = m.teardown
	return sess, nil
}

// Logout ends the session.
func (m *Manager) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	m.teardown(id)
	return nil
}

func (m *Manager) teardown(id string) {
	// The caller's request context may already be cancelled by the time a
	// 401 surfaces.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Delete(ctx, id); err != nil {
		m.logger.Error("delete session failed", zap.String("session_id", id), zap.Error(err))
	}
	m.runHooks(id)
	m.logger.Info("session ended", zap.String("session_id", id))
}

func (m *Manager) runHooks(id string) {
	m.mu.RLock()
	hooks := append([]func(string){}, m.hooks...)
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(id)
	}
}
