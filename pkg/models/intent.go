package models

import "encoding/json"

// Quote represents a time-bounded exchange-rate attestation from the solver
// relay for a specific asset pair and amount.
type Quote struct {
	AmountIn       string `json:"amount_in"`
	AmountOut      string `json:"amount_out"`
	AssetIDIn      string `json:"defuse_asset_identifier_in"`
	AssetIDOut     string `json:"defuse_asset_identifier_out"`
	ExpirationTime string `json:"expiration_time"`
	QuoteHash      string `json:"quote_hash"`
}

// TokenDiff represents a balanced set of signed balance deltas per asset, in
// base units. Map keys marshal in sorted order, which keeps the serialized
// form stable.
type TokenDiff struct {
	Intent string            `json:"intent"`
	Diff   map[string]string `json:"diff"`
}

// FtWithdraw represents a withdrawal leg settling funds to an external
// address encoded in the memo.
type FtWithdraw struct {
	Intent     string `json:"intent"`
	Token      string `json:"token"`
	ReceiverID string `json:"receiver_id"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo"`
}

// IntentPayload represents the unit submitted for signing and settlement
type IntentPayload struct {
	SignerID          string            `json:"signer_id"`
	VerifyingContract string            `json:"verifying_contract"`
	Deadline          string            `json:"deadline"`
	Nonce             string            `json:"nonce"`
	Intents           []json.RawMessage `json:"intents"`
}

// SignedEnvelope represents a signed intent payload ready for publication.
// Payload holds the exact bytes that were signed; re-serializing it would
// invalidate the signature.
type SignedEnvelope struct {
	Standard  string `json:"standard"`
	Payload   string `json:"payload"`
	PublicKey string `json:"public_key,omitempty"`
	Signature string `json:"signature"`
}
