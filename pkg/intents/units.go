// Package intents builds the signed-intent payloads submitted to the solver
// relay: balanced token_diff legs for swaps, ft_withdraw legs for
// withdrawals, and the single-use nonces that prevent replay.
package intents

import (
	"fmt"
	"math/big"
	"strings"
)

// ToBaseUnits converts a human-readable decimal amount into the asset's base
// units (amount * 10^decimals). Fractional base units are not representable,
// so excess precision is truncated, never rounded up: over-allocating by a
// fraction of a unit would unbalance the intent.
func ToBaseUnits(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}

	neg := false
	if strings.HasPrefix(amount, "-") {
		neg = true
		amount = amount[1:]
	}

	whole, frac := amount, ""
	if i := strings.IndexByte(amount, '.'); i >= 0 {
		whole, frac = amount[:i], amount[i+1:]
	}
	if whole == "" {
		whole = "0"
	}

	// Truncate fractional digits beyond the asset's precision
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	digits := whole + frac
	result, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	if neg {
		result.Neg(result)
	}
	return result, nil
}

// FromBaseUnits renders a base-unit amount as a human-readable decimal
// string, trimming trailing zeros.
func FromBaseUnits(amount *big.Int, decimals int) string {
	s := new(big.Int).Abs(amount).String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole := s[:len(s)-decimals]
	frac := s[len(s)-decimals:]
	frac = strings.TrimRight(frac, "0")

	out := whole
	if frac != "" {
		out += "." + frac
	}
	if amount.Sign() < 0 {
		out = "-" + out
	}
	return out
}
