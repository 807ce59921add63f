package intents

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		expected string
	}{
		{
			name:     "whole amount",
			amount:   "5",
			decimals: 6,
			expected: "5000000",
		},
		{
			name:     "fractional eth",
			amount:   "0.3",
			decimals: 18,
			expected: "300000000000000000",
		},
		{
			name:     "excess precision truncates",
			amount:   "1.2345678",
			decimals: 6,
			expected: "1234567",
		},
		{
			name:     "truncation never rounds up",
			amount:   "0.9999999",
			decimals: 6,
			expected: "999999",
		},
		{
			name:     "bare fraction",
			amount:   ".5",
			decimals: 2,
			expected: "50",
		},
		{
			name:     "zero decimals",
			amount:   "42.9",
			decimals: 0,
			expected: "42",
		},
		{
			name:     "negative amount",
			amount:   "-1.5",
			decimals: 2,
			expected: "-150",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToBaseUnits(tt.amount, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.String())
		})
	}
}

func TestToBaseUnitsInvalid(t *testing.T) {
	for _, amount := range []string{"", "abc", "1.2.3"} {
		_, err := ToBaseUnits(amount, 6)
		assert.Error(t, err, "amount %q", amount)
	}
}

func TestFromBaseUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		expected string
	}{
		{
			name:     "fractional eth display",
			amount:   "300000000000000000",
			decimals: 18,
			expected: "0.3",
		},
		{
			name:     "whole amount",
			amount:   "5000000",
			decimals: 6,
			expected: "5",
		},
		{
			name:     "trailing zeros trimmed",
			amount:   "1500000",
			decimals: 6,
			expected: "1.5",
		},
		{
			name:     "smaller than one unit",
			amount:   "42",
			decimals: 6,
			expected: "0.000042",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, ok := new(big.Int).SetString(tt.amount, 10)
			require.True(t, ok)
			assert.Equal(t, tt.expected, FromBaseUnits(amount, tt.decimals))
		})
	}
}

func TestBaseUnitsRoundTrip(t *testing.T) {
	base, err := ToBaseUnits("0.3", 18)
	require.NoError(t, err)
	assert.Equal(t, "0.3", FromBaseUnits(base, 18))
}
