package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// UserRole represents the role assigned to a user account.
type UserRole string

const (
	RoleGuest UserRole = "guest"
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User represents a registered account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters — RoleAtLeast uses >= comparison.
func RoleRank(r UserRole) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleUser:
		return 2
	case RoleGuest:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole UserRole) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// ValidRole reports whether r is a known role.
func ValidRole(r UserRole) bool {
	switch r {
	case RoleGuest, RoleUser, RoleAdmin:
		return true
	}
	return false
}

const (
	MinUsernameLen = 3
	MaxUsernameLen = 50
	MinPasswordLen = 6
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.\-]*$`)
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// ValidateUsername checks length and allowed characters. Usernames must be
// mention-safe: `@username` detection relies on word characters only, so
// anything that starts with a non-word rune is rejected up front.
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLen || len(username) > MaxUsernameLen {
		return fmt.Errorf("username must be %d-%d characters", MinUsernameLen, MaxUsernameLen)
	}
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("username may contain letters, digits, underscore, dot, and hyphen only")
	}
	return nil
}

// ValidateEmail checks basic email shape.
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLen)
	}
	return nil
}
