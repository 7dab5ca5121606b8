package audit

import "time"

type EventType string

const (
	EventTypeLoginSuccess      EventType = "login_success"
	EventTypeLoginFailed       EventType = "login_failed"
	EventTypeLoginLockout      EventType = "login_lockout"
	EventTypeLogout            EventType = "logout"
	EventTypePinVerified       EventType = "pin_verified"
	EventTypePinFailed         EventType = "pin_failed"
	EventTypeRateLimitExceeded EventType = "rate_limit_exceeded"
	EventTypeRateLimitBlocked  EventType = "rate_limit_blocked"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is an append-only security audit record, never mutated after insert
type Event struct {
	ID        int            `json:"id"`
	Type      EventType      `json:"event_type"`
	Severity  Severity       `json:"severity"`
	UserID    string         `json:"user_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
