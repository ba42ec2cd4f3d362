package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventAccountRegistered  EventType = "account_registered"
	EventAccountLoggedOut   EventType = "account_logged_out"
	EventTokenFamilyRevoked EventType = "token_family_revoked"
	EventPasswordChanged    EventType = "password_changed"
)

// Event represents a domain event emitted by the auth flows.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	AccountID string    `json:"account_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// AccountRegisteredPayload payload.
type AccountRegisteredPayload struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// FamilyRevokedPayload payload.
type FamilyRevokedPayload struct {
	FamilyID string `json:"family_id"`
	Reason   string `json:"reason"`
}
