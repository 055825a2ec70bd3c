// Package notify defines the outbound notification interface the
// workflow engine and reminder sweep send through. Delivery is
// fire-and-forget: failures are logged by callers, never retried here.
package notify

import (
	"context"
	"log/slog"
)

// SigningRequest is the payload for a "please sign" notification.
type SigningRequest struct {
	RecipientEmail string
	RecipientName  string
	SenderName     string
	DocumentName   string
	Message        string
	SigningURL     string
}

// Signed is the payload for the sender's completion notification.
type Signed struct {
	RecipientEmail string
	RecipientName  string
	DocumentName   string
	DocumentURL    string
}

// Declined is the payload for the sender's decline notification.
type Declined struct {
	RecipientEmail string
	RecipientName  string
	DocumentName   string
	DeclinedBy     string
	Reason         string
}

// Reminder is the payload for an expiry reminder to a signer.
type Reminder struct {
	RecipientEmail string
	RecipientName  string
	SenderName     string
	DocumentName   string
	SigningURL     string
	DaysRemaining  int
}

// Notifier sends workflow notifications. The mail transport behind it
// is out of scope here; implementations adapt to whatever carries the
// message.
type Notifier interface {
	SendSigningRequest(ctx context.Context, n SigningRequest) error
	SendSignedNotification(ctx context.Context, n Signed) error
	SendDeclinedNotification(ctx context.Context, n Declined) error
	SendReminder(ctx context.Context, n Reminder) error
}

// LogNotifier writes notifications to the structured log instead of
// sending them. Used in development and as the default when no mail
// transport is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// SendSigningRequest logs a signing-request notification.
func (l *LogNotifier) SendSigningRequest(ctx context.Context, n SigningRequest) error {
	l.logger.Info("notification: signing request",
		"recipient", n.RecipientEmail,
		"document", n.DocumentName,
		"signing_url", n.SigningURL)
	return nil
}

// SendSignedNotification logs a completion notification.
func (l *LogNotifier) SendSignedNotification(ctx context.Context, n Signed) error {
	l.logger.Info("notification: request signed",
		"recipient", n.RecipientEmail,
		"document", n.DocumentName)
	return nil
}

// SendDeclinedNotification logs a decline notification.
func (l *LogNotifier) SendDeclinedNotification(ctx context.Context, n Declined) error {
	l.logger.Info("notification: request declined",
		"recipient", n.RecipientEmail,
		"document", n.DocumentName,
		"declined_by", n.DeclinedBy)
	return nil
}

// SendReminder logs an expiry reminder.
func (l *LogNotifier) SendReminder(ctx context.Context, n Reminder) error {
	l.logger.Info("notification: expiry reminder",
		"recipient", n.RecipientEmail,
		"document", n.DocumentName,
		"days_remaining", n.DaysRemaining)
	return nil
}
