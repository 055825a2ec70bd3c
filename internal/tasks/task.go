// Package tasks provides the deferred follow-up work queue: document
// embedding, certificate generation, and notifications scheduled after a
// workflow transition commits. Delivery is at-least-once; every handler
// must be idempotent or guarded by state checks in the workflow engine.
package tasks

import (
	"context"
	"time"
)

// Kind identifies a task type. The set is closed: each kind has exactly
// one registered handler.
type Kind string

// Task kinds.
const (
	KindEmbedSignature      Kind = "embed_signature"
	KindGenerateCertificate Kind = "generate_certificate"
	KindNotifySigner        Kind = "notify_signer"
	KindNotifyCompleted     Kind = "notify_completed"
	KindNotifyDeclined      Kind = "notify_declined"
	KindNotifyReminder      Kind = "notify_reminder"
)

// EmbedPayload carries the inputs for applying a signature image to the
// most recent document version.
type EmbedPayload struct {
	RequestID         string
	DocumentRef       string
	SignatureImageRef string
	SignerName        string
	SignerEmail       string
}

// CertificatePayload triggers completion-record generation for a fully
// signed request.
type CertificatePayload struct {
	RequestID string
}

// NotifySignerPayload triggers the signing-request email for one signer.
type NotifySignerPayload struct {
	RequestID string
	SignerID  string
}

// NotifyCompletedPayload notifies the sender that all signers finished.
type NotifyCompletedPayload struct {
	RequestID string
}

// NotifyDeclinedPayload notifies the sender that a signer declined.
type NotifyDeclinedPayload struct {
	RequestID   string
	SignerEmail string
	Reason      string
}

// NotifyReminderPayload triggers an expiry reminder for the signer whose
// turn it currently is.
type NotifyReminderPayload struct {
	RequestID     string
	SignerID      string
	DaysRemaining int
}

// Task is one unit of deferred work.
type Task struct {
	ID         string
	Kind       Kind
	Payload    any
	Attempt    int
	EnqueuedAt time.Time
}

// Handler executes one task. Returning an error requeues the task until
// the attempt budget is spent; handlers therefore run more than once
// under retry and must re-check state before writing back.
type Handler func(ctx context.Context, task Task) error

// Scheduler is the narrow interface the workflow engine and sweeper use
// to enqueue follow-up work. A zero delay means "as soon as possible
// after the current mutation".
type Scheduler interface {
	Schedule(delay time.Duration, kind Kind, payload any) error
}
