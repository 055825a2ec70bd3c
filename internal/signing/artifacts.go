package signing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/inkflow/internal/docstore"
)

// PassthroughMutator is a DocumentMutator that carries the current
// document forward as the new signed version without drawing on it.
// Deployments plug in a real PDF mutator; the workflow only cares that
// each submission yields a fresh ref.
type PassthroughMutator struct {
	docs docstore.Store
}

// NewPassthroughMutator creates a mutator over the given document store.
func NewPassthroughMutator(docs docstore.Store) *PassthroughMutator {
	return &PassthroughMutator{docs: docs}
}

// Embed copies the current document into a new signed artifact.
func (m *PassthroughMutator) Embed(ctx context.Context, in EmbedInput) (string, error) {
	data, err := m.docs.Get(ctx, docstore.Ref(in.DocumentRef))
	if err != nil {
		return "", fmt.Errorf("load document %s: %w", in.DocumentRef, err)
	}
	ref, err := m.docs.Put(ctx, docstore.KindSigned, data, "application/pdf")
	if err != nil {
		return "", fmt.Errorf("store signed document: %w", err)
	}
	return string(ref), nil
}

// TextCertificateGenerator renders the completion record as plain text
// and stores it as a certificate artifact.
type TextCertificateGenerator struct {
	docs docstore.Store
}

// NewTextCertificateGenerator creates a generator over the given store.
func NewTextCertificateGenerator(docs docstore.Store) *TextCertificateGenerator {
	return &TextCertificateGenerator{docs: docs}
}

// Generate writes the human-readable completion record.
func (g *TextCertificateGenerator) Generate(ctx context.Context, in CertificateInput) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Completion Certificate\n")
	fmt.Fprintf(&b, "Request: %s\n", in.RequestID)
	fmt.Fprintf(&b, "Document: %s\n", in.DocumentName)
	fmt.Fprintf(&b, "Completed: %s\n", in.CompletedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Signers:\n")
	for i, name := range in.SignerNames {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, name)
	}

	ref, err := g.docs.Put(ctx, docstore.KindCertificate, []byte(b.String()), "text/plain")
	if err != nil {
		return "", fmt.Errorf("store certificate: %w", err)
	}
	return string(ref), nil
}
