package signing

import (
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"

	"github.com/fluxfolio/engine/pkg/models"
)

// Signer produces a signed envelope over a canonical serialized payload.
// The envelope's Payload field is byte-identical to the message passed in;
// implementations must never re-serialize it.
type Signer interface {
	Sign(ctx context.Context, message []byte) (*models.SignedEnvelope, error)
	SignerID() string
}

// LocalSigner signs with a locally held ed25519 secret key using the
// raw_ed25519 standard.
type LocalSigner struct {
	key ed25519.PrivateKey
}

var _ Signer = (*LocalSigner)(nil)

// NewLocalSigner parses an "ed25519:<base58>" secret key into a signer
func NewLocalSigner(secretKey string) (*LocalSigner, error) {
	key, err := ParseSecretKey(secretKey)
	if err != nil {
		return nil, err
	}
	return &LocalSigner{key: key}, nil
}

// SignerID returns the hex-encoded public key of the signing account
func (s *LocalSigner) SignerID() string {
	return DeriveSignerID(s.key)
}

// Sign produces a detached ed25519 signature over the message bytes
func (s *LocalSigner) Sign(_ context.Context, message []byte) (*models.SignedEnvelope, error) {
	sig := ed25519.Sign(s.key, message)
	pub := s.key.Public().(ed25519.PublicKey)

	return &models.SignedEnvelope{
		Standard:  "raw_ed25519",
		Payload:   string(message),
		PublicKey: "ed25519:" + base58.Encode(pub),
		Signature: "ed25519:" + base58.Encode(sig),
	}, nil
}
