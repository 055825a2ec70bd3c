// Package token generates the secret access tokens that stand in for
// authentication on public signing links.
package token

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// Length is the number of characters in an issued token.
// Must stay at or above 32; signing links are only as strong as the token.
const Length = 40

// alphabet is the uniform alphanumeric set tokens are drawn from.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ErrRandomSource is returned when the system random source fails.
var ErrRandomSource = errors.New("token: random source unavailable")

// Issuer produces access tokens from a cryptographically strong source.
// The zero value is ready to use.
type Issuer struct{}

// NewIssuer creates a new token Issuer.
func NewIssuer() *Issuer {
	return &Issuer{}
}

// Issue returns a new Length-character token drawn uniformly from the
// alphanumeric alphabet. Callers are responsible for checking the result
// against already-stored tokens and re-issuing on collision; collision
// probability is non-zero and must not be assumed away.
func (i *Issuer) Issue() (string, error) {
	buf := make([]byte, Length)
	max := big.NewInt(int64(len(alphabet)))
	for n := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrRandomSource, err)
		}
		buf[n] = alphabet[idx.Int64()]
	}
	return string(buf), nil
}
