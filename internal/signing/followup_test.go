package signing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/inkflow/internal/docstore"
	"github.com/onnwee/inkflow/internal/notify"
	"github.com/onnwee/inkflow/internal/tasks"
)

// recordingNotifier captures every notification sent through it.
type recordingNotifier struct {
	signingRequests []notify.SigningRequest
	signed          []notify.Signed
	declined        []notify.Declined
	reminders       []notify.Reminder
}

func (r *recordingNotifier) SendSigningRequest(ctx context.Context, n notify.SigningRequest) error {
	r.signingRequests = append(r.signingRequests, n)
	return nil
}

func (r *recordingNotifier) SendSignedNotification(ctx context.Context, n notify.Signed) error {
	r.signed = append(r.signed, n)
	return nil
}

func (r *recordingNotifier) SendDeclinedNotification(ctx context.Context, n notify.Declined) error {
	r.declined = append(r.declined, n)
	return nil
}

func (r *recordingNotifier) SendReminder(ctx context.Context, n notify.Reminder) error {
	r.reminders = append(r.reminders, n)
	return nil
}

type followupFixture struct {
	*engineFixture
	followups *Followups
	notifier  *recordingNotifier
	docs      *docstore.MemoryStore
}

func newFollowupFixture(t *testing.T) *followupFixture {
	t.Helper()
	ef := newEngineFixture(t)
	docs := docstore.NewMemoryStore()
	notifier := &recordingNotifier{}
	followups := NewFollowups(ef.engine, ef.store, notifier,
		NewPassthroughMutator(docs), NewTextCertificateGenerator(docs),
		FollowupConfig{BaseURL: "https://sign.example.com"})
	return &followupFixture{engineFixture: ef, followups: followups, notifier: notifier, docs: docs}
}

func (f *followupFixture) run(t *testing.T, kind tasks.Kind, payload any) {
	t.Helper()
	var handler tasks.Handler
	switch kind {
	case tasks.KindEmbedSignature:
		handler = f.followups.handleEmbed
	case tasks.KindGenerateCertificate:
		handler = f.followups.handleCertificate
	case tasks.KindNotifySigner:
		handler = f.followups.handleNotifySigner
	case tasks.KindNotifyCompleted:
		handler = f.followups.handleNotifyCompleted
	case tasks.KindNotifyDeclined:
		handler = f.followups.handleNotifyDeclined
	case tasks.KindNotifyReminder:
		handler = f.followups.handleNotifyReminder
	default:
		t.Fatalf("no handler for kind %q", kind)
	}
	if err := handler(context.Background(), tasks.Task{Kind: kind, Payload: payload}); err != nil {
		t.Fatalf("handler %q: %v", kind, err)
	}
}

func TestSigningURL(t *testing.T) {
	f := newFollowupFixture(t)
	got := f.followups.SigningURL("tok-abc")
	if got != "https://sign.example.com/sign/tok-abc" {
		t.Errorf("SigningURL = %q", got)
	}
}

func TestHandleEmbedFinalizes(t *testing.T) {
	f := newFollowupFixture(t)
	ctx := context.Background()

	// Seed an original document and route it through a single signer.
	origRef, err := f.docs.Put(ctx, docstore.KindOriginal, []byte("contract body"), "application/pdf")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	res, err := f.engine.Create(ctx, CreateInput{
		SenderID: "sender-1", DocumentRef: string(origRef), DocumentName: "contract.pdf",
		Signers: []SignerInput{{Email: "solo@example.com", Name: "Solo"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.engine.Submit(ctx, res.FirstSignerToken, "signatures/solo", ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f.run(t, tasks.KindEmbedSignature, tasks.EmbedPayload{
		RequestID:         res.RequestID,
		DocumentRef:       string(origRef),
		SignatureImageRef: "signatures/solo",
		SignerName:        "Solo",
		SignerEmail:       "solo@example.com",
	})

	req, _ := f.store.GetRequest(ctx, res.RequestID)
	if req.Status != StatusSigned {
		t.Errorf("status = %q", req.Status)
	}
	if req.SignedDocumentRef == nil {
		t.Fatal("no signed document ref recorded")
	}
	data, err := f.docs.Get(ctx, docstore.Ref(*req.SignedDocumentRef))
	if err != nil {
		t.Fatalf("signed artifact missing: %v", err)
	}
	if string(data) != "contract body" {
		t.Errorf("signed artifact = %q", data)
	}
}

func TestHandleEmbedSkipsRemovedRequest(t *testing.T) {
	f := newFollowupFixture(t)
	ctx := context.Background()

	origRef, _ := f.docs.Put(ctx, docstore.KindOriginal, []byte("x"), "application/pdf")

	// The request was removed after the task was scheduled; the handler
	// must succeed so the dispatcher does not retry forever.
	f.run(t, tasks.KindEmbedSignature, tasks.EmbedPayload{
		RequestID:   "removed",
		DocumentRef: string(origRef),
	})
}

func TestHandleCertificateIdempotent(t *testing.T) {
	f := newFollowupFixture(t)
	ctx := context.Background()
	res := f.create(t, SignerInput{Email: "solo@example.com", Name: "Solo"})

	req, _ := f.store.GetRequest(ctx, res.RequestID)
	req.Status = StatusSigned
	now := f.clk.Now().UTC()
	req.SignedAt = &now
	if err := f.store.UpdateRequest(ctx, req); err != nil {
		t.Fatalf("UpdateRequest: %v", err)
	}

	f.run(t, tasks.KindGenerateCertificate, tasks.CertificatePayload{RequestID: res.RequestID})

	req, _ = f.store.GetRequest(ctx, res.RequestID)
	if req.AuditCertificateRef == nil {
		t.Fatal("no certificate ref recorded")
	}
	firstRef := *req.AuditCertificateRef

	data, err := f.docs.Get(ctx, docstore.Ref(firstRef))
	if err != nil {
		t.Fatalf("certificate artifact missing: %v", err)
	}
	if len(data) == 0 {
		t.Error("empty certificate")
	}

	// Redelivery keeps the first certificate.
	f.run(t, tasks.KindGenerateCertificate, tasks.CertificatePayload{RequestID: res.RequestID})
	req, _ = f.store.GetRequest(ctx, res.RequestID)
	if *req.AuditCertificateRef != firstRef {
		t.Error("certificate regenerated on redelivery")
	}
}

func TestHandleNotifySigner(t *testing.T) {
	f := newFollowupFixture(t)
	ctx := context.Background()
	res := f.create(t, twoSigners()...)
	signers, _ := f.store.ListSigners(ctx, res.RequestID)

	f.run(t, tasks.KindNotifySigner, tasks.NotifySignerPayload{
		RequestID: res.RequestID,
		SignerID:  signers[0].ID,
	})

	if len(f.notifier.signingRequests) != 1 {
		t.Fatalf("notifications = %d", len(f.notifier.signingRequests))
	}
	n := f.notifier.signingRequests[0]
	if n.RecipientEmail != "alice@example.com" {
		t.Errorf("recipient = %q", n.RecipientEmail)
	}
	if n.SigningURL != "https://sign.example.com/sign/"+signers[0].AccessToken {
		t.Errorf("url = %q", n.SigningURL)
	}

	// A pending signer has not been sent yet; redelivered notifications
	// for them are dropped.
	f.run(t, tasks.KindNotifySigner, tasks.NotifySignerPayload{
		RequestID: res.RequestID,
		SignerID:  signers[1].ID,
	})
	if len(f.notifier.signingRequests) != 1 {
		t.Error("notified a signer who is not yet up")
	}
}

func TestHandleNotifyDeclined(t *testing.T) {
	f := newFollowupFixture(t)
	res := f.create(t, twoSigners()...)

	f.run(t, tasks.KindNotifyDeclined, tasks.NotifyDeclinedPayload{
		RequestID:   res.RequestID,
		SignerEmail: "alice@example.com",
		Reason:      "wrong terms",
	})

	if len(f.notifier.declined) != 1 {
		t.Fatalf("notifications = %d", len(f.notifier.declined))
	}
	n := f.notifier.declined[0]
	if n.DeclinedBy != "alice@example.com" || n.Reason != "wrong terms" {
		t.Errorf("notification = %+v", n)
	}
	// Default directory addresses the sender by their identity.
	if n.RecipientEmail != "sender-1" {
		t.Errorf("recipient = %q", n.RecipientEmail)
	}
}

func TestHandleNotifyReminder(t *testing.T) {
	f := newFollowupFixture(t)
	ctx := context.Background()
	res := f.create(t, twoSigners()...)
	signers, _ := f.store.ListSigners(ctx, res.RequestID)

	f.run(t, tasks.KindNotifyReminder, tasks.NotifyReminderPayload{
		RequestID:     res.RequestID,
		SignerID:      signers[0].ID,
		DaysRemaining: 3,
	})

	if len(f.notifier.reminders) != 1 {
		t.Fatalf("reminders = %d", len(f.notifier.reminders))
	}
	if f.notifier.reminders[0].DaysRemaining != 3 {
		t.Errorf("days = %d", f.notifier.reminders[0].DaysRemaining)
	}

	// No reminder once the signer already signed.
	if err := f.engine.Submit(ctx, signers[0].AccessToken, "signatures/alice", ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f.run(t, tasks.KindNotifyReminder, tasks.NotifyReminderPayload{
		RequestID:     res.RequestID,
		SignerID:      signers[0].ID,
		DaysRemaining: 1,
	})
	if len(f.notifier.reminders) != 1 {
		t.Error("reminded a signer who already signed")
	}
}

func TestTextCertificateGenerator(t *testing.T) {
	docs := docstore.NewMemoryStore()
	gen := NewTextCertificateGenerator(docs)
	ctx := context.Background()

	ref, err := gen.Generate(ctx, CertificateInput{
		RequestID:    "req-1",
		DocumentName: "contract.pdf",
		SignerNames:  []string{"Alice", "Bob"},
		CompletedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	data, err := docs.Get(ctx, docstore.Ref(ref))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, want := range []string{"contract.pdf", "Alice", "Bob", "2025-06-01T12:00:00Z"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("certificate missing %q:\n%s", want, data)
		}
	}
}
