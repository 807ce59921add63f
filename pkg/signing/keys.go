// Package signing produces signatures over canonical intent payloads, either
// with a locally held ed25519 key or through the remote MPC signer reachable
// by contract call.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const ed25519Prefix = "ed25519:"

var (
	// ErrInvalidKey is returned when key material cannot be parsed
	ErrInvalidKey = errors.New("invalid key material")
	// ErrSigning is returned when a remote signer fails or returns malformed components
	ErrSigning = errors.New("signing failed")
)

// KeyPair holds a freshly generated ed25519 keypair in the platform's
// "ed25519:<base58>" encoding. The secret key is the 64-byte expanded form
// (seed followed by public key).
type KeyPair struct {
	PublicKey string
	SecretKey string
}

// GenerateKeyPair creates a new random ed25519 keypair
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &KeyPair{
		PublicKey: ed25519Prefix + base58.Encode(pub),
		SecretKey: ed25519Prefix + base58.Encode(priv),
	}, nil
}

// ParseSecretKey decodes an "ed25519:<base58>" secret key into the raw
// 64-byte private key.
func ParseSecretKey(key string) (ed25519.PrivateKey, error) {
	if !strings.HasPrefix(key, ed25519Prefix) {
		return nil, fmt.Errorf("%w: expected %q prefix", ErrInvalidKey, ed25519Prefix)
	}
	raw, err := base58.Decode(key[len(ed25519Prefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(raw), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(raw), nil
}

// DeriveSignerID returns the hex-encoded public key used as the acting
// party's address in intent payloads.
func DeriveSignerID(key ed25519.PrivateKey) string {
	pub := key.Public().(ed25519.PublicKey)
	return hex.EncodeToString(pub)
}
