// Package api provides HTTP handlers for the Inkflow API.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/inkflow/internal/middleware"
	"github.com/onnwee/inkflow/internal/signing"
	"github.com/onnwee/inkflow/internal/validate"
)

// SignerRequest is one entry in the ordered signer list of a create call.
type SignerRequest struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// CreateRequestRequest represents the request body for creating a
// signature request.
type CreateRequestRequest struct {
	DocumentRef  string          `json:"document_ref"`
	DocumentName string          `json:"document_name"`
	Message      string          `json:"message,omitempty"`
	Signers      []SignerRequest `json:"signers,omitempty"`
	TTLDays      int             `json:"ttl_days,omitempty"`

	// Legacy single-recipient form, honored when signers is empty.
	RecipientEmail string `json:"recipient_email,omitempty"`
	RecipientName  string `json:"recipient_name,omitempty"`
}

// CreateRequestResponse is returned from a successful create.
type CreateRequestResponse struct {
	RequestID        string `json:"request_id"`
	FirstSignerToken string `json:"first_signer_token"`
}

// SignerResponse is the sender's view of one signer in the chain.
type SignerResponse struct {
	ID       string     `json:"id"`
	Email    string     `json:"email"`
	Name     string     `json:"name,omitempty"`
	Order    int        `json:"order"`
	Status   string     `json:"status"`
	SignedAt *time.Time `json:"signed_at,omitempty"`
}

// RequestResponse is the sender's view of a signature request.
type RequestResponse struct {
	ID                  string           `json:"id"`
	DocumentRef         string           `json:"document_ref"`
	DocumentName        string           `json:"document_name"`
	Message             string           `json:"message,omitempty"`
	SignedDocumentRef   *string          `json:"signed_document_ref,omitempty"`
	Status              string           `json:"status"`
	CreatedAt           time.Time        `json:"created_at"`
	ExpiresAt           time.Time        `json:"expires_at"`
	SignedAt            *time.Time       `json:"signed_at,omitempty"`
	AuditCertificateRef *string          `json:"audit_certificate_ref,omitempty"`
	Signers             []SignerResponse `json:"signers,omitempty"`
}

// RequestHandlers holds dependencies for sender-facing request handlers.
type RequestHandlers struct {
	engine *signing.Engine
}

// NewRequestHandlers creates a new RequestHandlers instance.
func NewRequestHandlers(engine *signing.Engine) *RequestHandlers {
	return &RequestHandlers{engine: engine}
}

// validateEmail returns an error message if addr is not a plausible
// email address, empty string if valid.
func validateEmail(addr string) string {
	if strings.TrimSpace(addr) == "" {
		return "email is required"
	}
	if _, err := validate.Email(addr); err != nil {
		return "email is not a valid address"
	}
	return ""
}

func toRequestResponse(req *signing.SignatureRequest, signers []*signing.Signer) RequestResponse {
	resp := RequestResponse{
		ID:                  req.ID,
		DocumentRef:         req.DocumentRef,
		DocumentName:        req.DocumentName,
		Message:             req.Message,
		SignedDocumentRef:   req.SignedDocumentRef,
		Status:              string(req.Status),
		CreatedAt:           req.CreatedAt,
		ExpiresAt:           req.ExpiresAt,
		SignedAt:            req.SignedAt,
		AuditCertificateRef: req.AuditCertificateRef,
	}
	for _, s := range signers {
		resp.Signers = append(resp.Signers, SignerResponse{
			ID:       s.ID,
			Email:    s.Email,
			Name:     s.Name,
			Order:    s.Order,
			Status:   string(s.Status),
			SignedAt: s.SignedAt,
		})
	}
	return resp
}

// CreateRequest handles POST /requests - creates a signature request
// with its ordered signer chain.
func (h *RequestHandlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	senderID := middleware.GetSubject(r.Context())
	if senderID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	var req CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if strings.TrimSpace(req.DocumentRef) == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "document_ref is required")
		return
	}
	documentName, err := validate.DocumentName(req.DocumentName)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "document_name is invalid: "+err.Error())
		return
	}
	message, err := validate.Message(req.Message)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "message is invalid: "+err.Error())
		return
	}
	for _, s := range req.Signers {
		if errMsg := validateEmail(s.Email); errMsg != "" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "signer "+errMsg)
			return
		}
	}
	if len(req.Signers) == 0 {
		if errMsg := validateEmail(req.RecipientEmail); errMsg != "" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "recipient "+errMsg)
			return
		}
	}

	in := signing.CreateInput{
		SenderID:       senderID,
		DocumentRef:    req.DocumentRef,
		DocumentName:   documentName,
		Message:        message,
		TTLDays:        req.TTLDays,
		RecipientEmail: req.RecipientEmail,
		RecipientName:  req.RecipientName,
	}
	for _, s := range req.Signers {
		in.Signers = append(in.Signers, signing.SignerInput{Email: s.Email, Name: s.Name})
	}

	result, err := h.engine.Create(r.Context(), in)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(CreateRequestResponse{
		RequestID:        result.RequestID,
		FirstSignerToken: result.FirstSignerToken,
	}); err != nil {
		// Response already started
		return
	}
}

// ListRequests handles GET /requests - lists the caller's requests,
// newest first.
func (h *RequestHandlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	senderID := middleware.GetSubject(r.Context())
	if senderID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	reqs, err := h.engine.List(r.Context(), senderID)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}

	resp := make([]RequestResponse, 0, len(reqs))
	for _, req := range reqs {
		resp = append(resp, toRequestResponse(req, nil))
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return
	}
}

// requestID extracts the request id from a /requests/{id} path.
func requestID(r *http.Request) string {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/requests/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// GetRequest handles GET /requests/{id} - returns one request with its
// signer chain, for the sender only.
func (h *RequestHandlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	senderID := middleware.GetSubject(r.Context())
	if senderID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	id := requestID(r)
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Request ID is required")
		return
	}

	req, signers, err := h.engine.Get(r.Context(), id, senderID)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toRequestResponse(req, signers)); err != nil {
		return
	}
}

// DeleteRequest handles DELETE /requests/{id} - removes a request, its
// signers and their access tokens.
func (h *RequestHandlers) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	senderID := middleware.GetSubject(r.Context())
	if senderID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	id := requestID(r)
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Request ID is required")
		return
	}

	if err := h.engine.Remove(r.Context(), id, senderID); err != nil {
		WriteEngineError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
