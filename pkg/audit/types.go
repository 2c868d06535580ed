// Package audit records security-relevant auth events for operators.
//
// Denial reasons and verification failures are captured here with full
// structured detail. The HTTP responses stay generic on purpose; this
// trail is the only place the real reason is written down.
package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeTokenValidateFail  EventType = "auth.token_validate_fail"
	EventTypeAccessDenied       EventType = "authz.access_denied"
	EventTypeSessionRefresh     EventType = "session.refresh"
	EventTypeSessionRefreshFail EventType = "session.refresh_fail"
	EventTypeFlagInvalidate     EventType = "flags.invalidate"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	UserID         string `json:"user_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	TargetOrgID    string `json:"target_org_id,omitempty"`
	Role           string `json:"role,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	// Reason carries the internal denial reason. Never exposed to the
	// caller.
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Recorder receives audit events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(event Event)
}
