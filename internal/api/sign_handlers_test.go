package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/inkflow/internal/signing"
)

// signFixture wires both handler sets over a shared engine so sender
// and signer flows can be exercised against the same state.
type signFixture struct {
	requests *RequestHandlers
	sign     *SignHandlers
	store    *signing.InMemoryStore
}

func newSignFixture(t *testing.T) *signFixture {
	t.Helper()
	engine, store := newTestEngine(t)
	return &signFixture{
		requests: NewRequestHandlers(engine),
		sign:     NewSignHandlers(engine),
		store:    store,
	}
}

// createChain creates a request for the given signer emails and returns
// the request id plus every signer's access token in order.
func (f *signFixture) createChain(t *testing.T, emails ...string) (string, []string) {
	t.Helper()
	body := CreateRequestRequest{
		DocumentRef:  "originals/contract",
		DocumentName: "Contract.pdf",
	}
	for _, email := range emails {
		body.Signers = append(body.Signers, SignerRequest{Email: email})
	}
	created := createRequest(t, f.requests, "sender-1", body)

	signers, err := f.store.ListSigners(context.Background(), created.RequestID)
	if err != nil {
		t.Fatalf("ListSigners: %v", err)
	}
	tokens := make([]string, len(signers))
	for i, s := range signers {
		tokens[i] = s.AccessToken
	}
	return created.RequestID, tokens
}

func (f *signFixture) do(method, target string, body []byte) *httptest.ResponseRecorder {
	req := authedRequest(method, target, "", body)
	w := httptest.NewRecorder()
	f.sign.Route(w, req)
	return w
}

func TestSignRoute_Resolve(t *testing.T) {
	f := newSignFixture(t)
	reqID, tokens := f.createChain(t, "alice@example.com", "bob@example.com")

	w := f.do(http.MethodGet, "/sign/"+tokens[0], nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var view SignerViewResponse
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.RequestID != reqID {
		t.Errorf("request_id = %q, want %q", view.RequestID, reqID)
	}
	if view.SignerEmail != "alice@example.com" {
		t.Errorf("signer_email = %q", view.SignerEmail)
	}
	if view.SignerOrder != 1 {
		t.Errorf("signer_order = %d, want 1", view.SignerOrder)
	}
	if view.Blocked {
		t.Error("first signer should not be blocked")
	}
	if view.DocumentRef == "" {
		t.Error("expected document_ref to be set")
	}

	// Second signer sees the same request but is blocked.
	w = f.do(http.MethodGet, "/sign/"+tokens[1], nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !view.Blocked {
		t.Error("second signer should be blocked")
	}
}

func TestSignRoute_UnknownToken(t *testing.T) {
	f := newSignFixture(t)

	w := f.do(http.MethodGet, "/sign/no-such-token", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeNotFound {
		t.Errorf("error code = %q, want %q", code, ErrCodeNotFound)
	}
}

func TestSignRoute_Submit(t *testing.T) {
	f := newSignFixture(t)
	reqID, tokens := f.createChain(t, "alice@example.com")

	body, _ := json.Marshal(SubmitSignatureRequest{
		SignatureImageRef: "signatures/alice.png",
		SignerName:        "Alice",
	})
	w := f.do(http.MethodPost, "/sign/"+tokens[0], body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	signers, err := f.store.ListSigners(context.Background(), reqID)
	if err != nil {
		t.Fatalf("ListSigners: %v", err)
	}
	if signers[0].Status != signing.SignerSigned {
		t.Errorf("signer status = %q, want signed", signers[0].Status)
	}
}

func TestSignRoute_SubmitMissingSignature(t *testing.T) {
	f := newSignFixture(t)
	_, tokens := f.createChain(t, "alice@example.com")

	w := f.do(http.MethodPost, "/sign/"+tokens[0], []byte(`{}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeValidation {
		t.Errorf("error code = %q, want %q", code, ErrCodeValidation)
	}
}

func TestSignRoute_SubmitTwice(t *testing.T) {
	f := newSignFixture(t)
	_, tokens := f.createChain(t, "alice@example.com", "bob@example.com")

	body, _ := json.Marshal(SubmitSignatureRequest{SignatureImageRef: "signatures/alice.png"})
	if w := f.do(http.MethodPost, "/sign/"+tokens[0], body); w.Code != http.StatusAccepted {
		t.Fatalf("first submit: expected 202, got %d", w.Code)
	}

	w := f.do(http.MethodPost, "/sign/"+tokens[0], body)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeAlreadySigned {
		t.Errorf("error code = %q, want %q", code, ErrCodeAlreadySigned)
	}
}

func TestSignRoute_SubmitOutOfTurn(t *testing.T) {
	f := newSignFixture(t)
	_, tokens := f.createChain(t, "alice@example.com", "bob@example.com")

	body, _ := json.Marshal(SubmitSignatureRequest{SignatureImageRef: "signatures/bob.png"})
	w := f.do(http.MethodPost, "/sign/"+tokens[1], body)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeNotYourTurn {
		t.Errorf("error code = %q, want %q", code, ErrCodeNotYourTurn)
	}
}

func TestSignRoute_MarkViewed(t *testing.T) {
	f := newSignFixture(t)
	reqID, tokens := f.createChain(t, "alice@example.com")

	w := f.do(http.MethodPost, "/sign/"+tokens[0]+"/view", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", w.Code, w.Body.String())
	}

	req, err := f.store.GetRequest(context.Background(), reqID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if req.Status != signing.StatusViewed {
		t.Errorf("status = %q, want viewed", req.Status)
	}
}

func TestSignRoute_Decline(t *testing.T) {
	f := newSignFixture(t)
	_, tokens := f.createChain(t, "alice@example.com", "bob@example.com")

	body, _ := json.Marshal(DeclineRequestRequest{Reason: "wrong terms"})
	w := f.do(http.MethodPost, "/sign/"+tokens[0]+"/decline", body)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", w.Code, w.Body.String())
	}

	// The projection reflects the decline for every signer.
	w = f.do(http.MethodGet, "/sign/"+tokens[1], nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var view SignerViewResponse
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.RequestStatus != string(signing.StatusDeclined) {
		t.Errorf("request_status = %q, want declined", view.RequestStatus)
	}

	// Submitting after a decline is rejected.
	submit, _ := json.Marshal(SubmitSignatureRequest{SignatureImageRef: "signatures/alice.png"})
	w = f.do(http.MethodPost, "/sign/"+tokens[0], submit)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}
	if code := decodeErrorCode(t, w); code != ErrCodeDeclined {
		t.Errorf("error code = %q, want %q", code, ErrCodeDeclined)
	}
}

func TestSignRoute_UnknownAction(t *testing.T) {
	f := newSignFixture(t)
	_, tokens := f.createChain(t, "alice@example.com")

	w := f.do(http.MethodPost, "/sign/"+tokens[0]+"/bogus", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestSignRoute_MissingToken(t *testing.T) {
	f := newSignFixture(t)

	w := f.do(http.MethodGet, "/sign/", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}
