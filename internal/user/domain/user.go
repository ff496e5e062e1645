package domain

import (
	"errors"
	"strings"
	"time"
)

// User is the directory entry the session core reads. It is owned by user management.
type User struct {
	ID         string
	Email      string
	Name       string
	Roles      []string
	ActiveRole string
	Status     UserStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Email) == "" {
		return errors.New("email is required")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	if u.ActiveRole == "" && len(u.Roles) > 0 {
		u.ActiveRole = u.Roles[0]
	}
	return nil
}

// IsActive reports whether the user may sign in.
func (u *User) IsActive() bool {
	return u != nil && u.Status == UserStatusActive
}

// NormalizeEmail lowercases and trims an email for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
