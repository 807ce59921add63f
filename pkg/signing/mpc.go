package signing

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"

	"github.com/fluxfolio/engine/pkg/logger"
	"github.com/fluxfolio/engine/pkg/models"
)

// ContractCaller submits a change-method call to the proxy contract and
// returns the decoded success value.
type ContractCaller interface {
	FunctionCall(ctx context.Context, contractID, methodName string, args interface{}) ([]byte, error)
}

// mpcSignResult mirrors the signature components returned by the MPC signer:
// a compressed affine point for R, the scalar S and a recovery id.
type mpcSignResult struct {
	BigR struct {
		AffinePoint string `json:"affine_point"`
	} `json:"big_r"`
	S struct {
		Scalar string `json:"scalar"`
	} `json:"s"`
	RecoveryID int `json:"recovery_id"`
}

// MPCSigner requests erc191 signatures from the multi-party signer behind
// the proxy contract. The payload is hashed as an Ethereum signed message
// (keccak256 over the "\x19Ethereum Signed Message:\n" prefixed bytes) and
// the returned components are assembled into a 65-byte secp256k1 signature.
type MPCSigner struct {
	caller     ContractCaller
	contractID string
	methodName string
	// portfolio account the contract resolves the signing key for
	portfolioAccount string
	signerID         string
	logger           logger.Logger
}

var _ Signer = (*MPCSigner)(nil)

// NewMPCSigner creates a signer that delegates to the proxy contract's
// signature request method.
func NewMPCSigner(caller ContractCaller, contractID, portfolioAccount, signerID string, log logger.Logger) *MPCSigner {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &MPCSigner{
		caller:           caller,
		contractID:       contractID,
		methodName:       "balance_portfolio",
		portfolioAccount: portfolioAccount,
		signerID:         signerID,
		logger:           log,
	}
}

// SignerID returns the acting party's address for intent payloads
func (s *MPCSigner) SignerID() string {
	return s.signerID
}

// Sign hashes the message ERC-191 style and requests an MPC signature over it
func (s *MPCSigner) Sign(ctx context.Context, message []byte) (*models.SignedEnvelope, error) {
	hash := HashERC191(message)

	var payload json.RawMessage = message
	args := map[string]interface{}{
		"user_portfolio": s.portfolioAccount,
		"hash":           "0x" + hex.EncodeToString(hash),
		"defuse_intents": payload,
	}

	result, err := s.caller.FunctionCall(ctx, s.contractID, s.methodName, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	var results []mpcSignResult
	if err := json.Unmarshal(result, &results); err != nil {
		// A single result object is also accepted
		var single mpcSignResult
		if err2 := json.Unmarshal(result, &single); err2 != nil {
			return nil, fmt.Errorf("%w: malformed signature response: %v", ErrSigning, err)
		}
		results = []mpcSignResult{single}
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: no signature returned", ErrSigning)
	}

	signature, err := assembleSecp256k1(results[0])
	if err != nil {
		return nil, err
	}

	s.logger.Debug("MPC signature assembled for portfolio %s", s.portfolioAccount)

	return &models.SignedEnvelope{
		Standard:  "erc191",
		Payload:   string(message),
		Signature: signature,
	}, nil
}

// HashERC191 computes keccak256 over the Ethereum signed message prefix and
// the payload bytes.
func HashERC191(message []byte) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// assembleSecp256k1 converts MPC signature components into the serialized
// r||s||v form the relay expects, base58 encoded with a secp256k1 prefix.
func assembleSecp256k1(res mpcSignResult) (string, error) {
	affine := strings.TrimPrefix(strings.ToLower(res.BigR.AffinePoint), "0x")
	rBytes, err := hex.DecodeString(affine)
	if err != nil {
		return "", fmt.Errorf("%w: bad big_r: %v", ErrSigning, err)
	}
	// Compressed point: one parity prefix byte followed by the 32-byte x coordinate
	if len(rBytes) != 33 {
		return "", fmt.Errorf("%w: big_r is %d bytes, want 33", ErrSigning, len(rBytes))
	}
	r := rBytes[1:]

	scalar := strings.TrimPrefix(strings.ToLower(res.S.Scalar), "0x")
	sBytes, err := hex.DecodeString(scalar)
	if err != nil {
		return "", fmt.Errorf("%w: bad s: %v", ErrSigning, err)
	}
	if len(sBytes) != 32 {
		return "", fmt.Errorf("%w: s is %d bytes, want 32", ErrSigning, len(sBytes))
	}

	if res.RecoveryID < 0 || res.RecoveryID > 3 {
		return "", fmt.Errorf("%w: recovery id %d out of range", ErrSigning, res.RecoveryID)
	}

	sig := make([]byte, 0, 65)
	sig = append(sig, r...)
	sig = append(sig, sBytes...)
	sig = append(sig, byte(res.RecoveryID))

	return "secp256k1:" + base58.Encode(sig), nil
}
