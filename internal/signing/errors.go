package signing

import "errors"

// Workflow errors. Callers distinguish these because the UI behavior
// differs for each: a missing token, an expired request, and an
// already-signed request all render differently.
var (
	// ErrValidation indicates bad input shape (e.g. empty signer list),
	// rejected before any write.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized indicates an ownership mismatch, rejected before
	// any write.
	ErrUnauthorized = errors.New("not authorized")

	// ErrNotFound indicates no request or signer matches the id or token.
	ErrNotFound = errors.New("signature request not found")

	// ErrExpired indicates the request exists but is past its TTL.
	ErrExpired = errors.New("signature request expired")

	// ErrAlreadySigned indicates the signer (or request) already signed.
	ErrAlreadySigned = errors.New("already signed")

	// ErrDeclined indicates the request was declined and accepts no
	// further submissions.
	ErrDeclined = errors.New("signature request declined")

	// ErrNotYourTurn indicates an earlier signer in the chain has not
	// signed yet.
	ErrNotYourTurn = errors.New("waiting for an earlier signer")

	// ErrTokenCollision indicates token generation kept colliding with
	// stored tokens; treated as fatal rather than silently accepted.
	ErrTokenCollision = errors.New("access token collision")
)
