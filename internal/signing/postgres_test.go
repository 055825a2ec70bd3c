package signing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func requestRows(req *SignatureRequest) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "sender_id", "document_ref", "document_name", "message",
		"signed_document_ref", "status", "created_at", "expires_at", "signed_at",
		"audit_certificate_ref", "last_reminder_day", "recipient_email", "recipient_name", "access_token",
	}).AddRow(
		req.ID, req.SenderID, req.DocumentRef, req.DocumentName, req.Message,
		req.SignedDocumentRef, string(req.Status), req.CreatedAt, req.ExpiresAt, req.SignedAt,
		req.AuditCertificateRef, req.LastReminderDay, req.RecipientEmail, req.RecipientName, req.AccessToken,
	)
}

func TestPostgresCreateRequestCommitsBoth(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	req := &SignatureRequest{
		ID: "req-1", SenderID: "sender-1", DocumentRef: "originals/doc",
		DocumentName: "contract.pdf", Status: StatusPending,
		CreatedAt: now, ExpiresAt: now.AddDate(0, 0, 30),
	}
	signer := &Signer{
		ID: "signer-1", RequestID: "req-1", Email: "a@example.com",
		Name: "Alice", Order: 1, Status: SignerSent, AccessToken: "tok-a",
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO signature_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO signers`).
		WithArgs("signer-1", "req-1", "a@example.com", "Alice", 1, string(SignerSent), "tok-a", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.CreateRequest(context.Background(), req, []*Signer{signer}); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresCreateRequestRollsBackOnSignerFailure(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	req := &SignatureRequest{ID: "req-1", SenderID: "sender-1", Status: StatusPending, CreatedAt: now, ExpiresAt: now}
	signer := &Signer{ID: "signer-1", RequestID: "req-1", Order: 1, Status: SignerSent, AccessToken: "tok-a"}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO signature_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO signers`).
		WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	if err := store.CreateRequest(context.Background(), req, []*Signer{signer}); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresGetRequest(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	want := &SignatureRequest{
		ID: "req-1", SenderID: "sender-1", DocumentRef: "originals/doc",
		DocumentName: "contract.pdf", Status: StatusInProgress,
		CreatedAt: now, ExpiresAt: now.AddDate(0, 0, 30), LastReminderDay: 3,
	}

	mock.ExpectQuery(`SELECT .+ FROM signature_requests WHERE id`).
		WithArgs("req-1").
		WillReturnRows(requestRows(want))

	got, err := store.GetRequest(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.ID != want.ID || got.Status != want.Status || got.LastReminderDay != 3 {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.SignedDocumentRef != nil || got.SignedAt != nil {
		t.Error("expected nil optional fields")
	}
}

func TestPostgresGetRequestNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM signature_requests WHERE id`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetRequest(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresUpdateSignerNoRows(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE signers SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateSigner(context.Background(), &Signer{ID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresUpdateRequestAndSignerTransactional(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	req := &SignatureRequest{ID: "req-1", Status: StatusInProgress, CreatedAt: now, ExpiresAt: now}
	signer := &Signer{ID: "signer-1", Status: SignerSigned, SignedAt: &now}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE signature_requests SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE signers SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.UpdateRequestAndSigner(context.Background(), req, signer); err != nil {
		t.Fatalf("UpdateRequestAndSigner: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresUpdateRequestAndSignerNilSigner(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	req := &SignatureRequest{ID: "req-1", Status: StatusDeclined, CreatedAt: now, ExpiresAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE signature_requests SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.UpdateRequestAndSigner(context.Background(), req, nil); err != nil {
		t.Fatalf("UpdateRequestAndSigner: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgresCountBySenderSince(t *testing.T) {
	store, mock := newMockStore(t)
	since := time.Now().Add(-time.Minute)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM signature_requests`).
		WithArgs("sender-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := store.CountBySenderSince(context.Background(), "sender-1", since)
	if err != nil {
		t.Fatalf("CountBySenderSince: %v", err)
	}
	if n != 7 {
		t.Errorf("count = %d, want 7", n)
	}
}

func TestPostgresTokenExists(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("tok-a").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.TokenExists(context.Background(), "tok-a")
	if err != nil {
		t.Fatalf("TokenExists: %v", err)
	}
	if !exists {
		t.Error("expected token to exist")
	}
}

func TestPostgresDeleteRequestNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM signature_requests`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteRequest(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
