package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/onnwee/inkflow/internal/audit"
	"github.com/onnwee/inkflow/internal/ratelimit"
	"github.com/onnwee/inkflow/internal/tasks"
)

// maxTokenAttempts bounds re-issuing on access-token collision before
// giving up with ErrTokenCollision.
const maxTokenAttempts = 5

// TokenIssuer produces unguessable per-signer access tokens.
type TokenIssuer interface {
	Issue() (string, error)
}

// EngineConfig configures the workflow engine.
type EngineConfig struct {
	// CreationLimit guards request creation per sender.
	CreationLimit ratelimit.Limit
	// SubmissionLimit guards signature submission per signer email.
	SubmissionLimit ratelimit.Limit
	// Logger for workflow activity.
	Logger *slog.Logger
	// Clock drives all expiry math; defaults to the real clock.
	Clock clock.Clock
}

// Engine is the workflow state machine: creation, view tracking,
// submission, decline, finalize/advance, and expiry evaluation. All
// signer and request mutations flow through it.
type Engine struct {
	store     Store
	auditRepo audit.Repository
	scheduler tasks.Scheduler
	issuer    TokenIssuer
	guard     *ratelimit.Guard

	creationLimit   ratelimit.Limit
	submissionLimit ratelimit.Limit
	clk             clock.Clock
	logger          *slog.Logger
}

// NewEngine creates a workflow engine. guard may be nil to disable rate
// limiting (tests, internal tooling).
func NewEngine(store Store, auditRepo audit.Repository, scheduler tasks.Scheduler, issuer TokenIssuer, guard *ratelimit.Guard, config EngineConfig) *Engine {
	if config.CreationLimit == (ratelimit.Limit{}) {
		config.CreationLimit = ratelimit.DefaultSignatureCreationLimit()
	}
	if config.SubmissionLimit == (ratelimit.Limit{}) {
		config.SubmissionLimit = ratelimit.DefaultSignatureCreationLimit()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &Engine{
		store:           store,
		auditRepo:       auditRepo,
		scheduler:       scheduler,
		issuer:          issuer,
		guard:           guard,
		creationLimit:   config.CreationLimit,
		submissionLimit: config.SubmissionLimit,
		clk:             config.Clock,
		logger:          config.Logger,
	}
}

// SignerInput describes one signer in a creation request, in chain order.
type SignerInput struct {
	Email string
	Name  string
}

// CreateInput is the input for Create.
type CreateInput struct {
	SenderID     string
	Signers      []SignerInput
	DocumentRef  string
	DocumentName string
	Message      string
	TTLDays      int

	// Legacy single-recipient fields, used only when Signers is empty.
	RecipientEmail string
	RecipientName  string
}

// CreateResult identifies the created request and the first signer's token.
type CreateResult struct {
	RequestID        string
	FirstSignerToken string
}

// Create builds a request with its ordered signer chain, issues an
// access token per signer, marks signer #1 as sent and schedules their
// notification. The request and all signers are written atomically.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if in.SenderID == "" {
		return nil, fmt.Errorf("%w: missing sender", ErrUnauthorized)
	}

	signerInputs := in.Signers
	if len(signerInputs) == 0 && in.RecipientEmail != "" {
		signerInputs = []SignerInput{{Email: in.RecipientEmail, Name: in.RecipientName}}
	}
	if len(signerInputs) == 0 {
		return nil, fmt.Errorf("%w: at least one signer is required", ErrValidation)
	}
	for i, s := range signerInputs {
		if s.Email == "" {
			return nil, fmt.Errorf("%w: signer %d has no email", ErrValidation, i+1)
		}
	}
	if in.DocumentRef == "" {
		return nil, fmt.Errorf("%w: missing document", ErrValidation)
	}

	if e.guard != nil {
		if err := e.guard.Check(ctx, ratelimit.ClassSignatureRequest, in.SenderID, e.creationLimit); err != nil {
			return nil, err
		}
	}

	ttlDays := in.TTLDays
	if ttlDays <= 0 {
		ttlDays = DefaultTTLDays
	}
	now := e.clk.Now().UTC()

	req := &SignatureRequest{
		ID:           uuid.New().String(),
		SenderID:     in.SenderID,
		DocumentRef:  in.DocumentRef,
		DocumentName: in.DocumentName,
		Message:      in.Message,
		Status:       StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(ttlDays) * 24 * time.Hour),
	}

	signers := make([]*Signer, 0, len(signerInputs))
	issued := make(map[string]bool)
	for i, s := range signerInputs {
		token, err := e.issueUniqueToken(ctx, issued)
		if err != nil {
			return nil, err
		}
		issued[token] = true

		status := SignerPending
		if i == 0 {
			status = SignerSent
		}
		signers = append(signers, &Signer{
			ID:          uuid.New().String(),
			RequestID:   req.ID,
			Email:       s.Email,
			Name:        s.Name,
			Order:       i + 1,
			Status:      status,
			AccessToken: token,
		})
	}

	// Legacy mirror of signer #1 on the request itself.
	req.RecipientEmail = signers[0].Email
	req.RecipientName = signers[0].Name
	req.AccessToken = signers[0].AccessToken

	if err := e.store.CreateRequest(ctx, req, signers); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if e.guard != nil {
		if err := e.guard.Observe(ctx, ratelimit.ClassSignatureRequest, in.SenderID); err != nil {
			e.logger.Error("rate limit observe failed", "request_id", req.ID, "error", err)
		}
	}

	e.logAudit(audit.Record{
		ActorID:     in.SenderID,
		Action:      audit.ActionRequestCreated,
		SubjectName: req.DocumentName,
		Metadata:    map[string]string{"request_id": req.ID, "signers": fmt.Sprintf("%d", len(signers))},
	}, req.ID)

	e.schedule(req.ID, 0, tasks.KindNotifySigner, tasks.NotifySignerPayload{
		RequestID: req.ID,
		SignerID:  signers[0].ID,
	})

	return &CreateResult{RequestID: req.ID, FirstSignerToken: signers[0].AccessToken}, nil
}

// issueUniqueToken issues a token absent from the store and the current
// batch, re-issuing on collision up to maxTokenAttempts times.
func (e *Engine) issueUniqueToken(ctx context.Context, batch map[string]bool) (string, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := e.issuer.Issue()
		if err != nil {
			return "", fmt.Errorf("issue token: %w", err)
		}
		if batch[token] {
			continue
		}
		exists, err := e.store.TokenExists(ctx, token)
		if err != nil {
			return "", fmt.Errorf("check token uniqueness: %w", err)
		}
		if !exists {
			return token, nil
		}
	}
	return "", ErrTokenCollision
}

// resolve locates the signer and request for a token, falling back to
// the legacy request-level token and that request's first signer.
func (e *Engine) resolve(ctx context.Context, token string) (*SignatureRequest, *Signer, []*Signer, error) {
	signer, err := e.store.GetSignerByToken(ctx, token)
	if err == nil {
		req, err := e.store.GetRequest(ctx, signer.RequestID)
		if err != nil {
			return nil, nil, nil, err
		}
		signers, err := e.store.ListSigners(ctx, req.ID)
		if err != nil {
			return nil, nil, nil, err
		}
		return req, signer, signers, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, nil, nil, err
	}

	req, err := e.store.GetRequestByAccessToken(ctx, token)
	if err != nil {
		return nil, nil, nil, err
	}
	signers, err := e.store.ListSigners(ctx, req.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(signers) == 0 {
		return nil, nil, nil, ErrNotFound
	}
	return req, signers[0], signers, nil
}

// predecessorPending reports whether a signer with order > 1 is still
// waiting on the signer before them.
func predecessorPending(signer *Signer, signers []*Signer) bool {
	if signer.Order <= 1 {
		return false
	}
	for _, s := range signers {
		if s.Order == signer.Order-1 {
			return s.Status != SignerSigned
		}
	}
	// A dense chain always has the predecessor; a gap means corrupt
	// ordering, so fail closed.
	return true
}

// ResolveByToken returns the signer's projection of the request: the
// request overlaid with that signer's identity, the latest document
// version, and whether they are blocked on an earlier signer. An
// expired request yields a read-only expired projection without
// mutating the stored status.
func (e *Engine) ResolveByToken(ctx context.Context, accessToken string) (*SignerView, error) {
	req, signer, signers, err := e.resolve(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	now := e.clk.Now().UTC()
	derived := DeriveStatus(req, signers, now)

	view := &SignerView{
		RequestID:     req.ID,
		DocumentName:  req.DocumentName,
		Message:       req.Message,
		SenderID:      req.SenderID,
		SignerID:      signer.ID,
		SignerEmail:   signer.Email,
		SignerName:    signer.Name,
		SignerOrder:   signer.Order,
		SignerStatus:  signer.Status,
		RequestStatus: derived,
		ExpiresAt:     req.ExpiresAt,
	}

	if derived == StatusExpired {
		// Read-only: no document is served past the TTL.
		return view, nil
	}

	view.Blocked = predecessorPending(signer, signers)
	view.DocumentRef = req.PreferredDocumentRef()
	return view, nil
}

// MarkViewed records that a signer opened the request. Idempotent: only
// the pending → viewed transition is applied, anything else is a no-op.
func (e *Engine) MarkViewed(ctx context.Context, accessToken string) error {
	req, _, signers, err := e.resolve(ctx, accessToken)
	if err != nil {
		return err
	}

	now := e.clk.Now().UTC()
	if DeriveStatus(req, signers, now) != StatusPending || req.Status != StatusPending {
		return nil
	}
	req.Status = StatusViewed
	return e.store.UpdateRequest(ctx, req)
}

// Submit records a signer's signature and schedules the embedding task.
// Completion is asynchronous: the caller gets an acknowledgement once
// the signer row is committed, and observes the embedded document by
// re-reading the request later.
//
// The predecessor check runs here, in the same step as the
// already-signed check; the read-side Blocked flag is advisory only.
func (e *Engine) Submit(ctx context.Context, accessToken, signatureImageRef, signerName string) error {
	if signatureImageRef == "" {
		return fmt.Errorf("%w: missing signature image", ErrValidation)
	}

	req, signer, signers, err := e.resolve(ctx, accessToken)
	if err != nil {
		return err
	}

	now := e.clk.Now().UTC()
	switch DeriveStatus(req, signers, now) {
	case StatusExpired:
		return ErrExpired
	case StatusDeclined:
		return ErrDeclined
	case StatusSigned:
		return ErrAlreadySigned
	}
	if signer.Status == SignerSigned {
		return ErrAlreadySigned
	}
	if predecessorPending(signer, signers) {
		return ErrNotYourTurn
	}

	if e.guard != nil {
		if err := e.guard.Check(ctx, ratelimit.ClassSignatureSubmission, signer.Email, e.submissionLimit); err != nil {
			return err
		}
	}

	signer.Status = SignerSigned
	signer.SignedAt = &now
	signer.SignatureImageRef = &signatureImageRef
	if signerName != "" {
		signer.Name = signerName
	}

	// Submission guard: a second click must not re-enter this branch
	// before the embed task finishes.
	req.Status = StatusInProgress
	if signer.Order == 1 {
		req.RecipientName = signer.Name
	}

	if err := e.store.UpdateRequestAndSigner(ctx, req, signer); err != nil {
		return fmt.Errorf("record submission: %w", err)
	}

	if e.guard != nil {
		if err := e.guard.Observe(ctx, ratelimit.ClassSignatureSubmission, signer.Email); err != nil {
			e.logger.Error("rate limit observe failed", "request_id", req.ID, "error", err)
		}
	}

	e.schedule(req.ID, 0, tasks.KindEmbedSignature, tasks.EmbedPayload{
		RequestID:         req.ID,
		DocumentRef:       req.PreferredDocumentRef(),
		SignatureImageRef: signatureImageRef,
		SignerName:        signer.Name,
		SignerEmail:       signer.Email,
	})
	return nil
}

// Finalize commits a newly embedded document, then either advances the
// chain to the next pending signer or completes the request. Invoked by
// the embed task on success; idempotent under task retry (the advance
// fires only for a signer still in pending, completion only once).
func (e *Engine) Finalize(ctx context.Context, requestID, newSignedDocumentRef string) error {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		// Stale-task guard: the request may have been removed after the
		// embed task was scheduled.
		return err
	}
	signers, err := e.store.ListSigners(ctx, requestID)
	if err != nil {
		return err
	}

	wasCompleted := req.Status == StatusSigned
	req.SignedDocumentRef = &newSignedDocumentRef
	// A decline that raced the embed task stays terminal; only the
	// document ref is refreshed.
	if req.Status != StatusDeclined {
		req.Status = StatusInProgress
	}

	allSigned := len(signers) > 0
	var next *Signer
	for _, s := range signers {
		if s.Status != SignerSigned {
			allSigned = false
			if next == nil {
				next = s
			}
		}
	}

	if allSigned {
		now := e.clk.Now().UTC()
		req.Status = StatusSigned
		if req.SignedAt == nil {
			req.SignedAt = &now
		}
		if err := e.store.UpdateRequest(ctx, req); err != nil {
			return fmt.Errorf("complete request: %w", err)
		}
		if wasCompleted {
			// Retry of an already-finalized request: the document ref is
			// refreshed above, but certificates and notifications fired
			// the first time around.
			return nil
		}

		e.logAudit(audit.Record{
			ActorID:     req.SenderID,
			Action:      audit.ActionSignatureCompleted,
			SubjectName: req.DocumentName,
			Metadata:    map[string]string{"request_id": req.ID},
		}, req.ID)
		e.schedule(req.ID, 0, tasks.KindGenerateCertificate, tasks.CertificatePayload{RequestID: req.ID})
		e.schedule(req.ID, 0, tasks.KindNotifyCompleted, tasks.NotifyCompletedPayload{RequestID: req.ID})
		return nil
	}

	// Sequential advance: only a signer still in pending is flipped to
	// sent and notified; a signer already sent is left alone so task
	// retries never re-send.
	if next != nil && next.Status == SignerPending && req.Status != StatusDeclined {
		next.Status = SignerSent
		if err := e.store.UpdateRequestAndSigner(ctx, req, next); err != nil {
			return fmt.Errorf("advance chain: %w", err)
		}
		e.schedule(req.ID, 0, tasks.KindNotifySigner, tasks.NotifySignerPayload{
			RequestID: req.ID,
			SignerID:  next.ID,
		})
		return nil
	}

	if err := e.store.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("record signed document: %w", err)
	}
	return nil
}

// Decline marks the signer declined and, with it, the whole request: a
// single-track chain cannot complete once any signer refuses.
func (e *Engine) Decline(ctx context.Context, accessToken, reason string) error {
	req, signer, signers, err := e.resolve(ctx, accessToken)
	if err != nil {
		return err
	}

	now := e.clk.Now().UTC()
	switch DeriveStatus(req, signers, now) {
	case StatusExpired:
		return ErrExpired
	case StatusDeclined:
		return ErrDeclined
	case StatusSigned:
		return ErrAlreadySigned
	}
	if signer.Status == SignerSigned {
		return ErrAlreadySigned
	}

	signer.Status = SignerDeclined
	req.Status = StatusDeclined
	if err := e.store.UpdateRequestAndSigner(ctx, req, signer); err != nil {
		return fmt.Errorf("record decline: %w", err)
	}

	metadata := map[string]string{"request_id": req.ID, "signer_email": signer.Email}
	if reason != "" {
		metadata["reason"] = reason
	}
	e.logAudit(audit.Record{
		ActorID:     req.SenderID,
		Action:      audit.ActionSignatureDeclined,
		SubjectName: req.DocumentName,
		Metadata:    metadata,
	}, req.ID)

	e.schedule(req.ID, 0, tasks.KindNotifyDeclined, tasks.NotifyDeclinedPayload{
		RequestID:   req.ID,
		SignerEmail: signer.Email,
		Reason:      reason,
	})
	return nil
}

// Remove deletes a request and its signers. Only the owning sender may
// remove a request.
func (e *Engine) Remove(ctx context.Context, requestID, callerID string) error {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.SenderID != callerID {
		return ErrUnauthorized
	}
	if err := e.store.DeleteRequest(ctx, requestID); err != nil {
		return err
	}

	e.logAudit(audit.Record{
		ActorID:     callerID,
		Action:      audit.ActionRequestRemoved,
		SubjectName: req.DocumentName,
		Metadata:    map[string]string{"request_id": req.ID},
	}, req.ID)
	return nil
}

// Get returns a sender's request with its signers and the derived
// status materialized on the returned copy (never written back).
func (e *Engine) Get(ctx context.Context, requestID, callerID string) (*SignatureRequest, []*Signer, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req.SenderID != callerID {
		return nil, nil, ErrUnauthorized
	}
	signers, err := e.store.ListSigners(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	req.Status = DeriveStatus(req, signers, e.clk.Now().UTC())
	return req, signers, nil
}

// List returns a sender's requests, newest first, each with the derived
// status materialized on the returned copy.
func (e *Engine) List(ctx context.Context, senderID string) ([]*SignatureRequest, error) {
	reqs, err := e.store.ListBySender(ctx, senderID)
	if err != nil {
		return nil, err
	}
	now := e.clk.Now().UTC()
	for _, req := range reqs {
		signers, err := e.store.ListSigners(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		req.Status = DeriveStatus(req, signers, now)
	}
	return reqs, nil
}

// SetCertificateRef records the completion certificate produced for a
// fully signed request. Invoked by the certificate task.
func (e *Engine) SetCertificateRef(ctx context.Context, requestID, certificateRef string) error {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	req.AuditCertificateRef = &certificateRef
	return e.store.UpdateRequest(ctx, req)
}

// logAudit writes an audit entry, logging instead of failing: the
// workflow mutation has already committed.
func (e *Engine) logAudit(rec audit.Record, requestID string) {
	if e.auditRepo == nil {
		return
	}
	if _, err := e.auditRepo.Log(rec); err != nil {
		e.logger.Error("audit log failed", "request_id", requestID, "action", rec.Action, "error", err)
	}
}

// schedule enqueues follow-up work, logging instead of failing: the
// synchronous path stays available even when the async path degrades.
func (e *Engine) schedule(requestID string, delay time.Duration, kind tasks.Kind, payload any) {
	if e.scheduler == nil {
		return
	}
	if err := e.scheduler.Schedule(delay, kind, payload); err != nil {
		e.logger.Error("task schedule failed", "request_id", requestID, "kind", kind, "error", err)
	}
}
