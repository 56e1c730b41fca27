package http

import (
	"fmt"
	"regexp"
	"strings"

	x402 "github.com/402nodo/nodo-x402-Solana"
	"github.com/gagliardetto/solana-go"
)

// Base58 regex pattern - signatures are 64 bytes, at most 88 characters
var base58SignatureRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,88}$`)

// ValidatePaymentTxHeader validates an X-Payment-Tx header value.
// It checks the base58 alphabet and decodes the value as a transaction signature.
//
// Returns the proof if valid, or an error with a descriptive message.
func ValidatePaymentTxHeader(header string) (x402.PaymentProof, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return x402.PaymentProof{}, fmt.Errorf("payment header is empty")
	}

	if !base58SignatureRegex.MatchString(header) {
		return x402.PaymentProof{}, fmt.Errorf("invalid payment header format: not a base58 signature")
	}

	if _, err := solana.SignatureFromBase58(header); err != nil {
		return x402.PaymentProof{}, fmt.Errorf("invalid payment header format: %v", err)
	}

	return x402.PaymentProof{Signature: header}, nil
}
