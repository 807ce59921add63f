package signing

import (
	"context"
	"crypto/ed25519"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(keyPair.PublicKey, "ed25519:"))
	assert.True(t, strings.HasPrefix(keyPair.SecretKey, "ed25519:"))

	key, err := ParseSecretKey(keyPair.SecretKey)
	require.NoError(t, err)
	assert.Len(t, key, ed25519.PrivateKeySize)
}

func TestParseSecretKeyInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "missing prefix", key: "abc"},
		{name: "bad base58", key: "ed25519:0OIl"},
		{name: "wrong length", key: "ed25519:" + base58.Encode([]byte("short"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSecretKey(tt.key)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestLocalSignerSign(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)
	signer, err := NewLocalSigner(keyPair.SecretKey)
	require.NoError(t, err)

	message := []byte(`{"signer_id":"abc","intents":[]}`)
	envelope, err := signer.Sign(context.Background(), message)
	require.NoError(t, err)

	assert.Equal(t, "raw_ed25519", envelope.Standard)
	// The envelope payload must be the exact signed bytes
	assert.Equal(t, string(message), envelope.Payload)
	assert.Equal(t, keyPair.PublicKey, envelope.PublicKey)

	// Verify the detached signature against the public key
	pub, err := base58.Decode(strings.TrimPrefix(envelope.PublicKey, "ed25519:"))
	require.NoError(t, err)
	sig, err := base58.Decode(strings.TrimPrefix(envelope.Signature, "ed25519:"))
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, message, sig))
}

func TestLocalSignerSignerID(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)
	signer, err := NewLocalSigner(keyPair.SecretKey)
	require.NoError(t, err)

	// Hex of the 32-byte public key
	assert.Len(t, signer.SignerID(), 64)
}
