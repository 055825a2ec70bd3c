// Package signing provides the models, store, and workflow engine for
// routing a document through an ordered chain of signers.
package signing

import (
	"time"
)

// RequestStatus is the lifecycle state of a signature request.
type RequestStatus string

// Request statuses. StatusExpired is computed from ExpiresAt on read and
// never overwrites the stored value.
const (
	StatusPending    RequestStatus = "pending"
	StatusViewed     RequestStatus = "viewed"
	StatusInProgress RequestStatus = "in_progress"
	StatusSigned     RequestStatus = "signed"
	StatusDeclined   RequestStatus = "declined"
	StatusExpired    RequestStatus = "expired"
)

// SignerStatus is the state of one signer within a request's chain.
// It only moves forward: pending → sent → signed, or pending/sent →
// declined. Signed is terminal.
type SignerStatus string

// Signer statuses.
const (
	SignerPending  SignerStatus = "pending"
	SignerSent     SignerStatus = "sent"
	SignerSigned   SignerStatus = "signed"
	SignerDeclined SignerStatus = "declined"
)

// DefaultTTLDays is the request lifetime when the sender does not pick one.
const DefaultTTLDays = 30

// ReminderThresholds are the days-remaining values at which a reminder
// fires, exactly once per (request, threshold) pair.
var ReminderThresholds = []int{7, 3, 1}

// SignatureRequest is one document routed through an ordered signer chain.
type SignatureRequest struct {
	ID           string
	SenderID     string
	DocumentRef  string
	DocumentName string
	Message      string

	// SignedDocumentRef points at the latest mutated document after each
	// signer; once set it is only ever replaced, never reverted.
	SignedDocumentRef *string

	Status    RequestStatus
	CreatedAt time.Time
	ExpiresAt time.Time
	SignedAt  *time.Time

	AuditCertificateRef *string

	// LastReminderDay is the most recent days-remaining threshold a
	// reminder was sent at (0 = none yet).
	LastReminderDay int

	// Legacy mirror of signer #1, kept in sync for single-signer
	// requests created before signer rows existed.
	RecipientEmail string
	RecipientName  string
	AccessToken    string
}

// Signer is one party in a request's chain, reachable only through its
// secret access token.
type Signer struct {
	ID        string
	RequestID string
	Email     string
	Name      string

	// Order is 1-based and dense within a request.
	Order int

	Status      SignerStatus
	AccessToken string

	SignedAt          *time.Time
	SignatureImageRef *string
}

// DaysRemaining returns ceil((expiresAt − now) in milliseconds / one
// day), clamped at 0 once the request has expired.
func DaysRemaining(expiresAt, now time.Time) int {
	const dayMs = 86_400_000
	ms := expiresAt.Sub(now).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int((ms + dayMs - 1) / dayMs)
}

/// DeriveStatus computes the effective request status. Precedence:
// expiry, then any-signer-declined, then all-signers-signed, then
// any-signer-signed (in progress), then the stored value. Expiry is
// computed, not written back.
func DeriveStatus(req *SignatureRequest, signers []*Signer, now time.Time) RequestStatus {
	if now.After(req.ExpiresAt) {
		return StatusExpired
	}
	if req.Status == StatusDeclined {
		return StatusDeclined
	}
	for _, s := range signers {
		if s.Status == SignerDeclined {
			return StatusDeclined
		}
	}
	if len(signers) > 0 {
		allSigned := true
		anySigned := false
		for _, s := range signers {
			if s.Status == SignerSigned {
				anySigned = true
			} else {
				allSigned = false
			}
		}
		if allSigned {
			return StatusSigned
		}
		if anySigned {
			return StatusInProgress
		}
	}
	switch req.Status {
	case StatusViewed, StatusInProgress, StatusSigned:
		return req.Status
	default:
		return StatusPending
	}
}

// PreferredDocumentRef returns the latest document version: the signed
// document when one exists, otherwise the original.
func (r *SignatureRequest) PreferredDocumentRef() string {
	if r.SignedDocumentRef != nil && *r.SignedDocumentRef != "" {
		return *r.SignedDocumentRef
	}
	return r.DocumentRef
}

// SignerView is the projection a signer sees when resolving their link:
// the request overlaid with that signer's own identity and position.
type SignerView struct {
	RequestID    string
	DocumentName string
	Message      string
	SenderID     string

	SignerID     string
	SignerEmail  string
	SignerName   string
	SignerOrder  int
	SignerStatus SignerStatus

	// RequestStatus is the derived status at resolution time.
	RequestStatus RequestStatus

	// Blocked reports that an earlier signer has not signed yet; the
	// projection is read-only until the predecessor finishes.
	Blocked bool

	// DocumentRef is the latest document version, empty for expired
	// requests (no document is served past the TTL).
	DocumentRef string

	ExpiresAt time.Time
}
