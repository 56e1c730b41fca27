package http

import (
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestValidatePaymentTxHeader(t *testing.T) {
	t.Run("Invalid", func(t *testing.T) {
		tests := []struct {
			name          string
			header        string
			expectedError string
		}{
			{
				name:          "empty string",
				header:        "",
				expectedError: "payment header is empty",
			},
			{
				name:          "invalid base58 characters",
				header:        "0OIl+/=",
				expectedError: "invalid payment header format: not a base58 signature",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := ValidatePaymentTxHeader(tt.header)
				if err == nil {
					t.Errorf("expected error but got none")
					return
				}
				if err.Error() != tt.expectedError {
					t.Errorf("expected error %q, got %q", tt.expectedError, err.Error())
				}
			})
		}
	})

	t.Run("Wrong length", func(t *testing.T) {
		// a base58 public key decodes to 32 bytes, not 64
		_, err := ValidatePaymentTxHeader("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU")
		if err == nil {
			t.Errorf("expected error for a 32 byte value")
		}
	})

	t.Run("Valid", func(t *testing.T) {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}
		sig, err := key.Sign([]byte("message"))
		if err != nil {
			t.Fatalf("failed to sign: %v", err)
		}

		proof, err := ValidatePaymentTxHeader("  " + sig.String() + " ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if proof.Signature != sig.String() {
			t.Errorf("expected signature %s, got %s", sig.String(), proof.Signature)
		}
	})
}
