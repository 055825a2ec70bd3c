// Package docstore provides storage for document artifacts: originals,
// per-step signed versions, signature images, and completion
// certificates.
package docstore

import (
	"context"
	"errors"
)

// Ref is an opaque pointer to a stored artifact.
type Ref string

// Artifact kinds, used as key prefixes.
const (
	KindOriginal    = "originals"
	KindSigned      = "signed"
	KindSignature   = "signatures"
	KindCertificate = "certificates"
)

// ErrRefNotFound is returned when no artifact exists for a ref.
var ErrRefNotFound = errors.New("document ref not found")

// Store persists document artifacts.
type Store interface {
	// Put stores an artifact under a kind prefix and returns its ref.
	Put(ctx context.Context, kind string, data []byte, contentType string) (Ref, error)

	// Get retrieves an artifact's bytes.
	Get(ctx context.Context, ref Ref) ([]byte, error)

	// URL returns a time-limited URL serving the artifact.
	URL(ctx context.Context, ref Ref) (string, error)
}
