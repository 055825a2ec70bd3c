package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/inkflow/internal/notify"
	"github.com/onnwee/inkflow/internal/tasks"
)

// EmbedInput carries what the document mutator needs to apply one
// signature to the current document version.
type EmbedInput struct {
	DocumentRef       string
	SignatureImageRef string
	SignerName        string
	SignerEmail       string
}

// DocumentMutator produces a new document version with the signature
// visibly applied. The drawing itself is external to the workflow.
type DocumentMutator interface {
	Embed(ctx context.Context, in EmbedInput) (newDocumentRef string, err error)
}

// CertificateInput carries what the certificate generator needs for the
// human-readable completion record.
type CertificateInput struct {
	RequestID    string
	DocumentName string
	SignerNames  []string
	CompletedAt  time.Time
}

// CertificateGenerator produces the completion record for a fully
// signed request and returns a ref to the stored artifact.
type CertificateGenerator interface {
	Generate(ctx context.Context, in CertificateInput) (certificateRef string, err error)
}

// SenderDirectory resolves a sender's opaque identity to a deliverable
// address. The identity provider is external; the default treats the
// subject itself as the address.
type SenderDirectory interface {
	Lookup(ctx context.Context, senderID string) (email, name string, err error)
}

type identityDirectory struct{}

func (identityDirectory) Lookup(ctx context.Context, senderID string) (string, string, error) {
	return senderID, senderID, nil
}

// FollowupConfig configures the follow-up task handlers.
type FollowupConfig struct {
	// BaseURL is the public prefix signing links are built under.
	BaseURL string
	// Senders resolves sender identities to addresses; defaults to
	// using the identity as the address.
	Senders SenderDirectory
	// Logger for handler activity.
	Logger *slog.Logger
}

// Followups implements the deferred work that runs after a workflow
// transition commits: embedding, certificate generation, and every
// notification kind. All handlers are idempotent and re-check state
// before writing, because the dispatcher delivers at least once and a
// request may have been removed since the task was scheduled.
type Followups struct {
	engine   *Engine
	store    Store
	notifier notify.Notifier
	mutator  DocumentMutator
	certGen  CertificateGenerator

	baseURL string
	senders SenderDirectory
	logger  *slog.Logger
}

// NewFollowups creates the follow-up handler set.
func NewFollowups(engine *Engine, store Store, notifier notify.Notifier, mutator DocumentMutator, certGen CertificateGenerator, config FollowupConfig) *Followups {
	if config.Senders == nil {
		config.Senders = identityDirectory{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Followups{
		engine:   engine,
		store:    store,
		notifier: notifier,
		mutator:  mutator,
		certGen:  certGen,
		baseURL:  config.BaseURL,
		senders:  config.Senders,
		logger:   config.Logger,
	}
}

// Register binds every task kind to its handler.
func (f *Followups) Register(d *tasks.Dispatcher) {
	d.Register(tasks.KindEmbedSignature, f.handleEmbed)
	d.Register(tasks.KindGenerateCertificate, f.handleCertificate)
	d.Register(tasks.KindNotifySigner, f.handleNotifySigner)
	d.Register(tasks.KindNotifyCompleted, f.handleNotifyCompleted)
	d.Register(tasks.KindNotifyDeclined, f.handleNotifyDeclined)
	d.Register(tasks.KindNotifyReminder, f.handleNotifyReminder)
}

// SigningURL builds the public link for a signer's access token.
func (f *Followups) SigningURL(accessToken string) string {
	return f.baseURL + "/sign/" + accessToken
}

func (f *Followups) handleEmbed(ctx context.Context, task tasks.Task) error {
	payload, ok := task.Payload.(tasks.EmbedPayload)
	if !ok {
		return fmt.Errorf("embed task: unexpected payload %T", task.Payload)
	}

	newRef, err := f.mutator.Embed(ctx, EmbedInput{
		DocumentRef:       payload.DocumentRef,
		SignatureImageRef: payload.SignatureImageRef,
		SignerName:        payload.SignerName,
		SignerEmail:       payload.SignerEmail,
	})
	if err != nil {
		return fmt.Errorf("embed signature for request %s: %w", payload.RequestID, err)
	}

	err = f.engine.Finalize(ctx, payload.RequestID, newRef)
	if errors.Is(err, ErrNotFound) {
		// Request removed while the task was in flight; nothing to do.
		f.logger.Info("embed finalize skipped, request gone", "request_id", payload.RequestID)
		return nil
	}
	return err
}

func (f *Followups) handleCertificate(ctx context.Context, task tasks.Task) error {
	payload, ok := task.Payload.(tasks.CertificatePayload)
	if !ok {
		return fmt.Errorf("certificate task: unexpected payload %T", task.Payload)
	}

	req, err := f.store.GetRequest(ctx, payload.RequestID)
	if errors.Is(err, ErrNotFound) {
		f.logger.Info("certificate skipped, request gone", "request_id", payload.RequestID)
		return nil
	}
	if err != nil {
		return err
	}
	if req.AuditCertificateRef != nil {
		// Already generated on a previous delivery.
		return nil
	}

	signers, err := f.store.ListSigners(ctx, req.ID)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(signers))
	for _, s := range signers {
		name := s.Name
		if name == "" {
			name = s.Email
		}
		names = append(names, name)
	}

	completedAt := req.CreatedAt
	if req.SignedAt != nil {
		completedAt = *req.SignedAt
	}
	certRef, err := f.certGen.Generate(ctx, CertificateInput{
		RequestID:    req.ID,
		DocumentName: req.DocumentName,
		SignerNames:  names,
		CompletedAt:  completedAt,
	})
	if err != nil {
		return fmt.Errorf("generate certificate for request %s: %w", req.ID, err)
	}
	return f.engine.SetCertificateRef(ctx, req.ID, certRef)
}

func (f *Followups) handleNotifySigner(ctx context.Context, task tasks.Task) error {
	payload, ok := task.Payload.(tasks.NotifySignerPayload)
	if !ok {
		return fmt.Errorf("notify-signer task: unexpected payload %T", task.Payload)
	}

	req, signer, err := f.loadSigner(ctx, payload.RequestID, payload.SignerID)
	if err != nil || signer == nil {
		return err
	}
	if signer.Status != SignerSent {
		// Superseded: the signer advanced or the chain was cut.
		return nil
	}

	_, senderName, err := f.senders.Lookup(ctx, req.SenderID)
	if err != nil {
		return fmt.Errorf("resolve sender %s: %w", req.SenderID, err)
	}
	return f.notifier.SendSigningRequest(ctx, notify.SigningRequest{
		RecipientEmail: signer.Email,
		RecipientName:  signer.Name,
		SenderName:     senderName,
		DocumentName:   req.DocumentName,
		Message:        req.Message,
		SigningURL:     f.SigningURL(signer.AccessToken),
	})
}

func (f *Followups) handleNotifyCompleted(ctx context.Context, task tasks.Task) error {
	payload, ok := task.Payload.(tasks.NotifyCompletedPayload)
	if !ok {
		return fmt.Errorf("notify-completed task: unexpected payload %T", task.Payload)
	}

	req, err := f.store.GetRequest(ctx, payload.RequestID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	email, name, err := f.senders.Lookup(ctx, req.SenderID)
	if err != nil {
		return fmt.Errorf("resolve sender %s: %w", req.SenderID, err)
	}
	return f.notifier.SendSignedNotification(ctx, notify.Signed{
		RecipientEmail: email,
		RecipientName:  name,
		DocumentName:   req.DocumentName,
		DocumentURL:    req.PreferredDocumentRef(),
	})
}

func (f *Followups) handleNotifyDeclined(ctx context.Context, task tasks.Task) error {
	payload, ok := task.Payload.(tasks.NotifyDeclinedPayload)
	if !ok {
		return fmt.Errorf("notify-declined task: unexpected payload %T", task.Payload)
	}

	req, err := f.store.GetRequest(ctx, payload.RequestID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	email, name, err := f.senders.Lookup(ctx, req.SenderID)
	if err != nil {
		return fmt.Errorf("resolve sender %s: %w", req.SenderID, err)
	}
	return f.notifier.SendDeclinedNotification(ctx, notify.Declined{
		RecipientEmail: email,
		RecipientName:  name,
		DocumentName:   req.DocumentName,
		DeclinedBy:     payload.SignerEmail,
		Reason:         payload.Reason,
	})
}

func (f *Followups) handleNotifyReminder(ctx context.Context, task tasks.Task) error {
	payload, ok := task.Payload.(tasks.NotifyReminderPayload)
	if !ok {
		return fmt.Errorf("notify-reminder task: unexpected payload %T", task.Payload)
	}

	req, signer, err := f.loadSigner(ctx, payload.RequestID, payload.SignerID)
	if err != nil || signer == nil {
		return err
	}
	if signer.Status != SignerSent {
		return nil
	}

	_, senderName, err := f.senders.Lookup(ctx, req.SenderID)
	if err != nil {
		return fmt.Errorf("resolve sender %s: %w", req.SenderID, err)
	}
	return f.notifier.SendReminder(ctx, notify.Reminder{
		RecipientEmail: signer.Email,
		RecipientName:  signer.Name,
		SenderName:     senderName,
		DocumentName:   req.DocumentName,
		SigningURL:     f.SigningURL(signer.AccessToken),
		DaysRemaining:  payload.DaysRemaining,
	})
}

// loadSigner fetches a request and one of its signers, treating a
// missing request or signer as superseded rather than an error.
func (f *Followups) loadSigner(ctx context.Context, requestID, signerID string) (*SignatureRequest, *Signer, error) {
	req, err := f.store.GetRequest(ctx, requestID)
	if errors.Is(err, ErrNotFound) {
		f.logger.Info("notification skipped, request gone", "request_id", requestID)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	signers, err := f.store.ListSigners(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range signers {
		if s.ID == signerID {
			return req, s, nil
		}
	}
	f.logger.Info("notification skipped, signer gone", "request_id", requestID, "signer_id", signerID)
	return nil, nil, nil
}
