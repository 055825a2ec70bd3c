// Package audit records workflow events (request created, completed,
// declined) for the activity trail shown to senders and for incident
// response.
package audit

import (
	"time"
)

// Action tags for workflow events.
const (
	ActionRequestCreated     = "signature_request_created"
	ActionRequestRemoved     = "signature_request_removed"
	ActionSignatureCompleted = "signature_completed"
	ActionSignatureDeclined  = "signature_declined"
)

// Entry represents a single audit event.
type Entry struct {
	ID          string
	ActorID     string
	Action      string
	SubjectName string
	CreatedAt   time.Time

	// Free-form event context (signer email, decline reason, ...).
	Metadata map[string]string
}

// Record is the input for creating an audit entry; ID and CreatedAt are
// assigned by the repository.
type Record struct {
	ActorID     string
	Action      string
	SubjectName string
	Metadata    map[string]string
}
