package validation

import (
	"errors"
	"fmt"
	"regexp"
)

// Account field limits
const (
	MinUsernameLen = 3
	MaxUsernameLen = 50
	MinPasswordLen = 6
	// bcrypt rejects longer input
	MaxPasswordLen = 72
	MaxEmailLen    = 255
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// AuthRequestValidator validates authentication-related requests
type AuthRequestValidator struct{}

// NewAuthRequestValidator creates a new AuthRequestValidator
func NewAuthRequestValidator() *AuthRequestValidator {
	return &AuthRequestValidator{}
}

// ValidateUsername validates a username
func (v *AuthRequestValidator) ValidateUsername(username string) error {
	switch {
	case username == "":
		return errors.New("username cannot be empty")
	case len(username) < MinUsernameLen:
		return fmt.Errorf("username must be at least %d characters long, got %d", MinUsernameLen, len(username))
	case len(username) > MaxUsernameLen:
		return fmt.Errorf("username must be at most %d characters long, got %d", MaxUsernameLen, len(username))
	case !usernamePattern.MatchString(username):
		return errors.New("username can only contain letters, numbers, underscores, and hyphens")
	}
	return nil
}

// ValidatePassword validates a password
func (v *AuthRequestValidator) ValidatePassword(password string) error {
	switch {
	case password == "":
		return errors.New("password cannot be empty")
	case len(password) < MinPasswordLen:
		return fmt.Errorf("password must be at least %d characters long, got %d", MinPasswordLen, len(password))
	case len(password) > MaxPasswordLen:
		return fmt.Errorf("password must be at most %d bytes long, got %d", MaxPasswordLen, len(password))
	}
	return nil
}

// ValidateEmail validates an optional email address
func (v *AuthRequestValidator) ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	if len(email) > MaxEmailLen {
		return fmt.Errorf("email must be at most %d characters long, got %d", MaxEmailLen, len(email))
	}
	if !emailPattern.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}

// ValidateLoginRequest only checks presence; credentials are verified against storage
func (v *AuthRequestValidator) ValidateLoginRequest(username, password string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}
	return nil
}

// ValidateRegisterRequest validates a registration request
func (v *AuthRequestValidator) ValidateRegisterRequest(username, email, password string) error {
	if err := v.ValidateUsername(username); err != nil {
		return err
	}
	if err := v.ValidateEmail(email); err != nil {
		return err
	}
	return v.ValidatePassword(password)
}
