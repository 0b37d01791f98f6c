package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/VINIA6/CHATAI/internal/backend"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const DefaultTTL = 24 * time.Hour

// LoginClient performs the backend login call.
type LoginClient interface {
	Login(ctx context.Context, username, password string) (*backend.LoginResponse, error)
}

// Manager owns the persisted session. It is the backend client's
// SessionSource.
type Manager struct {
	store Store
	ttl   time.Duration
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewManager(store Store, ttl time.Duration, log logrus.FieldLogger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{store: store, ttl: ttl, log: log.WithField("component", "auth"), now: time.Now}
}

// Login validates the credentials, calls the backend and stores the session.
func (m *Manager) Login(ctx context.Context, client LoginClient, email, password string) (*Session, error) {
	if err := ValidateCredentials(email, password); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)

	res, err := client.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Token:     res.Token,
		User:      userFromLogin(res.User),
		ExpiresAt: m.expiry(res.Token),
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	m.log.WithFields(logrus.Fields{
		"user":       s.User.Email,
		"expires_at": s.ExpiresAt.Format(time.RFC3339),
	}).Info("logged in")
	return s, nil
}

// Current returns the stored session, clearing it if it has expired.
func (m *Manager) Current(ctx context.Context) (*Session, error) {
	s, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if s.Token == "" || s.Expired(m.now()) {
		if err := m.store.Delete(ctx); err != nil {
			m.log.WithError(err).Warn("clear expired session")
		}
		return nil, ErrNoSession
	}
	return s, nil
}

// Token returns the bearer token, or "" if absent or expired.
func (m *Manager) Token(ctx context.Context) string {
	s, err := m.Current(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			m.log.WithError(err).Warn("load session")
		}
		return ""
	}
	return s.Token
}

func (m *Manager) Clear(ctx context.Context) error {
	return m.store.Delete(ctx)
}

func (m *Manager) Logout(ctx context.Context) error {
	if err := m.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	m.log.Info("logged out")
	return nil
}

// expiry uses the token's exp claim when it is a JWT carrying one. The
// signature is the backend's concern; the claim only schedules the local
// expiry.
func (m *Manager) expiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return m.now().Add(m.ttl)
}

func userFromLogin(u *backend.LoginUser) User {
	if u == nil {
		return User{Role: RoleUser, Department: defaultDepartment}
	}
	dept := u.Setor
	if strings.TrimSpace(dept) == "" {
		dept = defaultDepartment
	}
	return User{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       roleFor(u.Cargo),
		Position:   u.Cargo,
		Department: dept,
	}
}

func roleFor(cargo string) Role {
	c := strings.ToLower(cargo)
	switch {
	case strings.Contains(c, "administrador"), strings.Contains(c, "admin"):
		return RoleAdmin
	case strings.Contains(c, "analista"), strings.Contains(c, "analyst"):
		return RoleAnalyst
	}
	return RoleUser
}
