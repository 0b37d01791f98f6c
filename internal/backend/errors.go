package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

type Kind string

const (
	KindNetwork      Kind = "network"
	KindTimeout      Kind = "timeout"
	KindRefused      Kind = "refused"
	KindServer       Kind = "server"
	KindHTTP         Kind = "http"
	KindUnauthorized Kind = "unauthorized"
	KindDecode       Kind = "decode"
)

var (
	// ErrUnauthenticated is matched by every 401 from an authenticated call.
	// The persisted session has already been cleared when it is returned.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidCredentials is returned by Login on a 401.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

const (
	msgTimeout = "The server took too long to respond. Please try again in a moment."
	msgRefused = "Server unavailable. Please try again in a moment."
	msgServer  = "Internal server error. Please try again later."
	msgNetwork = "Network error: could not reach the server."
)

// Error is the normalized failure of a backend call.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Timeout() bool { return e.Kind == KindTimeout }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthenticated:
		return e.Kind == KindUnauthorized
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// transportError classifies a failure that happened before any response.
func transportError(err error) *Error {
	switch {
	case isTimeout(err):
		return &Error{Kind: KindTimeout, Message: msgTimeout, Err: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &Error{Kind: KindRefused, Message: msgRefused, Err: err}
	default:
		return &Error{Kind: KindNetwork, Message: msgNetwork, Err: err}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// statusError builds the error for a non-2xx response. A message provided
// by the server wins over the generic wording.
func statusError(status int, body []byte) *Error {
	e := &Error{Status: status}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case status >= 500:
		e.Kind = KindServer
	default:
		e.Kind = KindHTTP
	}

	if msg := serverMessage(body); msg != "" {
		e.Message = msg
		return e
	}
	switch e.Kind {
	case KindServer:
		e.Message = msgServer
	case KindUnauthorized:
		e.Message = "Your session has expired. Please sign in again."
	default:
		e.Message = fmt.Sprintf("HTTP error %d", status)
	}
	return e
}

func serverMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if m := strings.TrimSpace(payload.Message); m != "" {
		return m
	}
	if s, ok := payload.Error.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
