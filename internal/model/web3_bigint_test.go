package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFromDecimal(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		expected string
	}{
		{"whole token", "25", 18, "25000000000000000000"},
		{"fractional token", "0.5", 6, "500000"},
		{"truncates dust", "1.0000001", 6, "1000000"},
		{"zero", "0", 18, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, err := decimal.NewFromString(tt.amount)
			if err != nil {
				t.Fatalf("bad test amount: %v", err)
			}
			result := FromDecimal(amount, tt.decimals)
			if result.Value != tt.expected {
				t.Errorf("FromDecimal() = %s, want %s", result.Value, tt.expected)
			}
			if result.Decimal != tt.decimals {
				t.Errorf("Decimal = %d, want %d", result.Decimal, tt.decimals)
			}
		})
	}
}

func TestWeb3BigInt_BigInt(t *testing.T) {
	units, ok := (&Web3BigInt{Value: "50000000", Decimal: 6}).BigInt()
	if !ok {
		t.Fatal("BigInt() rejected a valid value")
	}
	if units.String() != "50000000" {
		t.Errorf("BigInt() = %s, want 50000000", units.String())
	}

	if _, ok := (&Web3BigInt{Value: "not-a-number", Decimal: 6}).BigInt(); ok {
		t.Error("BigInt() accepted a malformed value")
	}
}
