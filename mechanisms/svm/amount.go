package svm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ToAtomicUnits scales a decimal amount to the smallest unit of a mint with
// the given decimals, rounding half away from zero. The result never differs
// from amount by more than half an atomic unit.
func ToAtomicUnits(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("amount must not be negative: %s", amount)
	}

	scaled := amount.Shift(int32(decimals)).Round(0).BigInt()
	if !scaled.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows u64 at %d decimals", amount, decimals)
	}
	return scaled.Uint64(), nil
}

// FromAtomicUnits converts an atomic amount back to a decimal amount
func FromAtomicUnits(atomic uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(atomic), -int32(decimals))
}

// ParseAmount parses a decimal string and scales it to atomic units
func ParseAmount(amount string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return ToAtomicUnits(d, decimals)
}

// FormatAmount renders an atomic amount with the mint's decimals
func FormatAmount(atomic uint64, decimals uint8) string {
	return FromAtomicUnits(atomic, decimals).StringFixed(int32(decimals))
}

// ParsePrice parses a price in one of the accepted formats and returns it in
// USDC units:
//
//	"$0.05", "0.05", "0.05 USDC", "0.05 USD"
func ParsePrice(price string) (decimal.Decimal, error) {
	// Remove $ sign if present
	cleanPrice := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(price), "$"))

	// Check if it contains a currency/asset identifier
	parts := strings.Fields(cleanPrice)

	switch len(parts) {
	case 1:
	case 2:
		symbol := strings.ToUpper(parts[1])
		if symbol != "USDC" && symbol != "USD" {
			return decimal.Zero, fmt.Errorf("unsupported asset: %s", parts[1])
		}
	default:
		return decimal.Zero, fmt.Errorf(
			"invalid price format: %s. Must specify currency (e.g., \"0.10 USDC\") or use simple number format",
			price,
		)
	}

	amount, err := decimal.NewFromString(parts[0])
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q: %w", price, err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("price must be positive: %s", price)
	}
	return amount, nil
}
