// Package auth keeps the login session the backend client authenticates with.
package auth

import (
	"context"
	"errors"
	"time"
)

// ErrNoSession is returned when no unexpired session is stored.
var ErrNoSession = errors.New("no active session")

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
	RoleUser    Role = "user"
)

const defaultDepartment = "Observatório da Indústria"

type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	Position   string `json:"position"`
	Department string `json:"department"`
}

// Session is a bearer token with the instant it stops being valid.
type Session struct {
	Token     string    `json:"token"`
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists at most one session.
type Store interface {
	// Load returns ErrNoSession when nothing is stored.
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context) error
}
