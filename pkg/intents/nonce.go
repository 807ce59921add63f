package intents

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrNonceExhausted is returned when repeated nonce draws all collide with
// nonces already used by the signer.
var ErrNonceExhausted = errors.New("could not generate an unused nonce")

// maxNonceAttempts caps the retry loop: collisions on 32 random bytes are
// vanishingly rare, so repeated hits point at a broken uniqueness check.
const maxNonceAttempts = 5

// NonceChecker reports whether a nonce has already been used by a signer on
// the verifying contract.
type NonceChecker interface {
	IsNonceUsed(ctx context.Context, nonce, signerID string) (bool, error)
}

// GenerateNonce draws random 32-byte nonces until it finds one the verifying
// contract has not seen for this signer.
func GenerateNonce(ctx context.Context, checker NonceChecker, signerID string) (string, error) {
	for attempt := 0; attempt < maxNonceAttempts; attempt++ {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		nonce := base64.StdEncoding.EncodeToString(buf)

		used, err := checker.IsNonceUsed(ctx, nonce, signerID)
		if err != nil {
			return "", fmt.Errorf("check nonce: %w", err)
		}
		if !used {
			return nonce, nil
		}
	}
	return "", ErrNonceExhausted
}
