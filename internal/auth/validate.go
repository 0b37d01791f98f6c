package auth

import (
	"regexp"
	"strings"
)

// emailRe is the login form's loose shape check: no whitespace, one @, a dot
// in the domain.
var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationError rejects credentials before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func ValidateCredentials(email, password string) error {
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		return &ValidationError{Field: "email", Message: "email is required"}
	case !emailRe.MatchString(email):
		return &ValidationError{Field: "email", Message: "email is not valid"}
	case password == "":
		return &ValidationError{Field: "password", Message: "password is required"}
	}
	return nil
}
