package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/inkflow/internal/middleware"
	"github.com/onnwee/inkflow/internal/signing"
)

// SignerViewResponse is the signer's projection of a request, reached
// through their secret access token.
type SignerViewResponse struct {
	RequestID    string `json:"request_id"`
	DocumentName string `json:"document_name"`
	Message      string `json:"message,omitempty"`
	SenderID     string `json:"sender_id"`

	SignerID     string `json:"signer_id"`
	SignerEmail  string `json:"signer_email"`
	SignerName   string `json:"signer_name,omitempty"`
	SignerOrder  int    `json:"signer_order"`
	SignerStatus string `json:"signer_status"`

	RequestStatus string `json:"request_status"`
	Blocked       bool   `json:"blocked"`

	// DocumentRef is empty once the request has expired.
	DocumentRef string    `json:"document_ref,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SubmitSignatureRequest represents the request body for submitting a
// signature.
type SubmitSignatureRequest struct {
	SignatureImageRef string `json:"signature_image_ref"`
	SignerName        string `json:"signer_name,omitempty"`
}

// DeclineRequestRequest represents the request body for declining.
type DeclineRequestRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SignHandlers holds dependencies for the token-addressed signer
// endpoints under /sign/.
type SignHandlers struct {
	engine *signing.Engine
}

// NewSignHandlers creates a new SignHandlers instance.
func NewSignHandlers(engine *signing.Engine) *SignHandlers {
	return &SignHandlers{engine: engine}
}

// signPath splits /sign/{token}[/{action}] into its token and action.
func signPath(r *http.Request) (token, action string) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/sign/"), "/")
	if len(parts) > 0 {
		token = parts[0]
	}
	if len(parts) > 1 {
		action = parts[1]
	}
	return token, action
}

// Route dispatches /sign/{token} requests:
//
//	GET  /sign/{token}          resolve the signer's view
//	POST /sign/{token}          submit a signature
//	POST /sign/{token}/view     mark the request viewed
//	POST /sign/{token}/decline  decline the request
func (h *SignHandlers) Route(w http.ResponseWriter, r *http.Request) {
	token, action := signPath(r)
	if token == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Access token is required")
		return
	}

	switch {
	case r.Method == http.MethodGet && action == "":
		h.resolve(w, r, token)
	case r.Method == http.MethodPost && action == "":
		h.submit(w, r, token)
	case r.Method == http.MethodPost && action == "view":
		h.markViewed(w, r, token)
	case r.Method == http.MethodPost && action == "decline":
		h.decline(w, r, token)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Not found")
	}
}

func (h *SignHandlers) resolve(w http.ResponseWriter, r *http.Request, token string) {
	view, err := h.engine.ResolveByToken(r.Context(), token)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}

	resp := SignerViewResponse{
		RequestID:     view.RequestID,
		DocumentName:  view.DocumentName,
		Message:       view.Message,
		SenderID:      view.SenderID,
		SignerID:      view.SignerID,
		SignerEmail:   view.SignerEmail,
		SignerName:    view.SignerName,
		SignerOrder:   view.SignerOrder,
		SignerStatus:  string(view.SignerStatus),
		RequestStatus: string(view.RequestStatus),
		Blocked:       view.Blocked,
		DocumentRef:   view.DocumentRef,
		ExpiresAt:     view.ExpiresAt,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return
	}
}

func (h *SignHandlers) submit(w http.ResponseWriter, r *http.Request, token string) {
	var req SubmitSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if strings.TrimSpace(req.SignatureImageRef) == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "signature_image_ref is required")
		return
	}

	if err := h.engine.Submit(r.Context(), token, req.SignatureImageRef, req.SignerName); err != nil {
		WriteEngineError(w, r, err)
		return
	}

	// Embedding runs asynchronously; the signed document appears on the
	// request once the task completes.
	w.WriteHeader(http.StatusAccepted)
}

func (h *SignHandlers) markViewed(w http.ResponseWriter, r *http.Request, token string) {
	if err := h.engine.MarkViewed(r.Context(), token); err != nil {
		WriteEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SignHandlers) decline(w http.ResponseWriter, r *http.Request, token string) {
	var req DeclineRequestRequest
	if r.Body != nil {
		// A missing or empty body declines without a reason.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.engine.Decline(r.Context(), token, req.Reason); err != nil {
		WriteEngineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
