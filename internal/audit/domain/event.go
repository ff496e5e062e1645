package domain

import "time"

// EventCode identifies the kind of security event. Codes are rows in security_event_codes.
type EventCode string

const (
	LoginSuccess              EventCode = "LOGIN_SUCCESS"
	AnomalousLoginDetected    EventCode = "ANOMALOUS_LOGIN_DETECTED"
	ConcurrentSessionDetected EventCode = "CONCURRENT_SESSION_DETECTED"
	ConcurrentSessionResolved EventCode = "CONCURRENT_SESSION_RESOLVED"
	NewDeviceDetected         EventCode = "NEW_DEVICE_DETECTED"
	SessionLockedDown         EventCode = "SESSION_LOCKED_DOWN"
	ReauthSuccess             EventCode = "REAUTH_SUCCESS"
	SessionRevoked            EventCode = "SESSION_REVOKED"
	UserBanned                EventCode = "USER_BANNED"
	StrikeThresholdReached    EventCode = "STRIKE_THRESHOLD_REACHED"
)

// KnownCodes lists the codes seeded by the initial migration.
var KnownCodes = []EventCode{
	LoginSuccess, AnomalousLoginDetected, ConcurrentSessionDetected, ConcurrentSessionResolved,
	NewDeviceDetected, SessionLockedDown, ReauthSuccess, SessionRevoked, UserBanned, StrikeThresholdReached,
}

// SecurityEvent is one append-only audit record.
type SecurityEvent struct {
	ID         string
	UserID     string
	Code       EventCode
	Metadata   map[string]any
	OccurredAt time.Time
}

// Filter narrows FindAll. Zero fields are ignored.
type Filter struct {
	UserID string
	Codes  []EventCode
	From   time.Time
	To     time.Time
}
