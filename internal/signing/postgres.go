package signing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore is the production Store over PostgreSQL. Multi-entity
// writes run inside a single transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, sender_id, document_ref, document_name, message,
	signed_document_ref, status, created_at, expires_at, signed_at,
	audit_certificate_ref, last_reminder_day, recipient_email, recipient_name, access_token`

const signerColumns = `id, request_id, email, name, sign_order, status,
	access_token, signed_at, signature_image_ref`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*SignatureRequest, error) {
	var req SignatureRequest
	var signedDocRef, certRef sql.NullString
	var signedAt sql.NullTime
	err := row.Scan(
		&req.ID, &req.SenderID, &req.DocumentRef, &req.DocumentName, &req.Message,
		&signedDocRef, &req.Status, &req.CreatedAt, &req.ExpiresAt, &signedAt,
		&certRef, &req.LastReminderDay, &req.RecipientEmail, &req.RecipientName, &req.AccessToken,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}
	if signedDocRef.Valid {
		req.SignedDocumentRef = &signedDocRef.String
	}
	if signedAt.Valid {
		t := signedAt.Time
		req.SignedAt = &t
	}
	if certRef.Valid {
		req.AuditCertificateRef = &certRef.String
	}
	return &req, nil
}

func scanSigner(row rowScanner) (*Signer, error) {
	var s Signer
	var signedAt sql.NullTime
	var imageRef sql.NullString
	err := row.Scan(
		&s.ID, &s.RequestID, &s.Email, &s.Name, &s.Order, &s.Status,
		&s.AccessToken, &signedAt, &imageRef,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan signer: %w", err)
	}
	if signedAt.Valid {
		t := signedAt.Time
		s.SignedAt = &t
	}
	if imageRef.Valid {
		s.SignatureImageRef = &imageRef.String
	}
	return &s, nil
}

// CreateRequest persists a request and its signers in one transaction,
// so partial failure never leaves signer rows without a request.
func (s *PostgresStore) CreateRequest(ctx context.Context, req *SignatureRequest, signers []*Signer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO signature_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		req.ID, req.SenderID, req.DocumentRef, req.DocumentName, req.Message,
		req.SignedDocumentRef, req.Status, req.CreatedAt, req.ExpiresAt, req.SignedAt,
		req.AuditCertificateRef, req.LastReminderDay, req.RecipientEmail, req.RecipientName, req.AccessToken,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	for _, signer := range signers {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO signers (`+signerColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			signer.ID, signer.RequestID, signer.Email, signer.Name, signer.Order, signer.Status,
			signer.AccessToken, signer.SignedAt, signer.SignatureImageRef,
		)
		if err != nil {
			return fmt.Errorf("insert signer %d: %w", signer.Order, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

// GetRequest retrieves a request by id.
func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*SignatureRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM signature_requests WHERE id = $1`, id)
	return scanRequest(row)
}

// ListBySender retrieves a sender's requests, newest first.
func (s *PostgresStore) ListBySender(ctx context.Context, senderID string) ([]*SignatureRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM signature_requests
		WHERE sender_id = $1 ORDER BY created_at DESC`, senderID)
	if err != nil {
		return nil, fmt.Errorf("list by sender: %w", err)
	}
	defer rows.Close()

	var results []*SignatureRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, req)
	}
	return results, rows.Err()
}

// ListSigners retrieves a request's signers ordered by position.
func (s *PostgresStore) ListSigners(ctx context.Context, requestID string) ([]*Signer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+signerColumns+` FROM signers
		WHERE request_id = $1 ORDER BY sign_order ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list signers: %w", err)
	}
	defer rows.Close()

	var results []*Signer
	for rows.Next() {
		signer, err := scanSigner(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, signer)
	}
	return results, rows.Err()
}

// GetSignerByToken is the point lookup behind public signing links;
// signers.access_token carries a unique index.
func (s *PostgresStore) GetSignerByToken(ctx context.Context, token string) (*Signer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+signerColumns+` FROM signers WHERE access_token = $1`, token)
	return scanSigner(row)
}

// GetRequestByAccessToken retrieves a request by its legacy mirrored token.
func (s *PostgresStore) GetRequestByAccessToken(ctx context.Context, token string) (*SignatureRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM signature_requests WHERE access_token = $1`, token)
	return scanRequest(row)
}

// UpdateRequest persists request mutations.
func (s *PostgresStore) UpdateRequest(ctx context.Context, req *SignatureRequest) error {
	return execRequestUpdate(ctx, s.db, req)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execRequestUpdate(ctx context.Context, db execer, req *SignatureRequest) error {
	res, err := db.ExecContext(ctx, `
		UPDATE signature_requests SET
			signed_document_ref = $2, status = $3, signed_at = $4,
			audit_certificate_ref = $5, last_reminder_day = $6,
			recipient_email = $7, recipient_name = $8, access_token = $9
		WHERE id = $1`,
		req.ID, req.SignedDocumentRef, req.Status, req.SignedAt,
		req.AuditCertificateRef, req.LastReminderDay,
		req.RecipientEmail, req.RecipientName, req.AccessToken,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	return requireRow(res)
}

func execSignerUpdate(ctx context.Context, db execer, signer *Signer) error {
	res, err := db.ExecContext(ctx, `
		UPDATE signers SET
			name = $2, status = $3, signed_at = $4, signature_image_ref = $5
		WHERE id = $1`,
		signer.ID, signer.Name, signer.Status, signer.SignedAt, signer.SignatureImageRef,
	)
	if err != nil {
		return fmt.Errorf("update signer: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSigner persists signer mutations.
func (s *PostgresStore) UpdateSigner(ctx context.Context, signer *Signer) error {
	return execSignerUpdate(ctx, s.db, signer)
}

// UpdateRequestAndSigner persists both inside one transaction, so a
// crash mid-advance cannot leave the signer flipped without the request
// reflecting the new document.
func (s *PostgresStore) UpdateRequestAndSigner(ctx context.Context, req *SignatureRequest, signer *Signer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := execRequestUpdate(ctx, tx, req); err != nil {
		return err
	}
	if signer != nil {
		if err := execSignerUpdate(ctx, tx, signer); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

// DeleteRequest removes a request; signer rows cascade via foreign key.
func (s *PostgresStore) DeleteRequest(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM signature_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	return requireRow(res)
}

// CountBySenderSince counts requests a sender created at or after since.
func (s *PostgresStore) CountBySenderSince(ctx context.Context, senderID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM signature_requests
		WHERE sender_id = $1 AND created_at >= $2`, senderID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by sender: %w", err)
	}
	return count, nil
}

// ListOpenRequests retrieves requests not yet terminally signed or declined.
func (s *PostgresStore) ListOpenRequests(ctx context.Context) ([]*SignatureRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM signature_requests
		WHERE status NOT IN ('signed', 'declined') ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list open requests: %w", err)
	}
	defer rows.Close()

	var results []*SignatureRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, req)
	}
	return results, rows.Err()
}

// TokenExists reports whether a token is already in use by any signer
// or any request's legacy mirror.
func (s *PostgresStore) TokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM signers WHERE access_token = $1
			UNION ALL
			SELECT 1 FROM signature_requests WHERE access_token = $1
		)`, token).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check token: %w", err)
	}
	return exists, nil
}

// CountInWindow implements the rate-limit Counter over stored requests.
func (s *PostgresStore) CountInWindow(ctx context.Context, class, identity string, since time.Time) (int, error) {
	return s.CountBySenderSince(ctx, identity, since)
}
