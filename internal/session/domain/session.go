package domain

import (
	"time"

	"sessionguard/internal/platform/apperr"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive               Status = "ACTIVE"
	StatusPendingConcurrent    Status = "PENDING_CONCURRENT_RESOLUTION"
	StatusBlockedPendingReauth Status = "BLOCKED_PENDING_REAUTH"
	StatusRevoked              Status = "REVOKED"
)

// Revocation reasons stored in Session.RevokedReason.
const (
	ReasonSuperseded   = "superseded"
	ReasonDisplaced    = "displaced"
	ReasonKeptExisting = "kept_existing"
	ReasonPendingCap   = "pending_cap"
	ReasonExpired      = "expired"
	ReasonLogout       = "logout"
	ReasonBanned       = "banned"
	ReasonInactive     = "inactive"
)

// LiveStatuses are the non-terminal statuses.
var LiveStatuses = []Status{StatusActive, StatusPendingConcurrent, StatusBlockedPendingReauth}

// ParseStatus maps a stored status value to a Status. An unknown value is a configuration error,
// never silently defaulted.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusActive, StatusPendingConcurrent, StatusBlockedPendingReauth, StatusRevoked:
		return st, nil
	}
	return "", &apperr.ConfigurationError{Kind: "session status", Value: s}
}

// IsLive reports whether s is not terminal.
func (s Status) IsLive() bool {
	return s == StatusActive || s == StatusPendingConcurrent || s == StatusBlockedPendingReauth
}

var transitions = map[Status][]Status{
	StatusPendingConcurrent:    {StatusActive, StatusRevoked, StatusBlockedPendingReauth},
	StatusActive:               {StatusRevoked, StatusBlockedPendingReauth},
	StatusBlockedPendingReauth: {StatusActive, StatusRevoked},
}

// CanTransition reports whether the state machine allows from -> to. REVOKED is terminal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session binds a user, a device and the hash of the current refresh token to a lifecycle status.
// The raw refresh token is never stored.
type Session struct {
	ID               string
	UserID           string
	DeviceID         string
	RefreshTokenHash string
	Status           Status
	IPAddress        string
	City             string
	Country          string
	Latitude         *float64 // nil when the location is unknown
	Longitude        *float64
	UserAgent        string
	RevokedReason    string
	CreatedAt        time.Time
	LastActivityAt   time.Time
	ExpiresAt        time.Time
}

// HasLocation reports whether both coordinates are known.
func (s *Session) HasLocation() bool {
	return s != nil && s.Latitude != nil && s.Longitude != nil
}

// Expired reports whether the session's refresh window has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
