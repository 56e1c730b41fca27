package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/402nodo/nodo-x402-Solana"
	x402svm "github.com/402nodo/nodo-x402-Solana/mechanisms/svm"
)

// SignTransactionFunc signs tx in place.
type SignTransactionFunc func(ctx context.Context, tx *solana.Transaction) error

// ClientSigner implements x402svm.ClientSvmSigner for the wallet paying a
// requirement. Signing is delegated to a callback so hardware or remote
// wallets can stand in for a local keypair.
type ClientSigner struct {
	publicKey solana.PublicKey
	sign      SignTransactionFunc
}

var _ x402svm.ClientSvmSigner = (*ClientSigner)(nil)

// NewClientSigner wraps a wallet address and its signing callback.
func NewClientSigner(publicKey solana.PublicKey, sign SignTransactionFunc) (x402svm.ClientSvmSigner, error) {
	if publicKey.IsZero() {
		return nil, fmt.Errorf("public key is required")
	}
	if sign == nil {
		return nil, fmt.Errorf("sign callback is required")
	}
	return &ClientSigner{publicKey: publicKey, sign: sign}, nil
}

// NewClientSignerFromPrivateKey signs with a local ed25519 key.
func NewClientSignerFromPrivateKey(privateKey solana.PrivateKey) (x402svm.ClientSvmSigner, error) {
	if !privateKey.IsValid() {
		return nil, fmt.Errorf("%w: private key is not a valid ed25519 key", x402.ErrInvalidKeypair)
	}
	return NewClientSigner(privateKey.PublicKey(), keySigner(privateKey))
}

// NewClientSignerFromBase58 signs with a base58 encoded private key.
//
// Example:
//
//	signer, err := svm.NewClientSignerFromBase58("5J7W...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	payer, err := x402svm.NewTransferPayer(x402svm.PayerConfig{Signer: signer, Ledger: ledger})
func NewClientSignerFromBase58(privateKeyBase58 string) (x402svm.ClientSvmSigner, error) {
	privateKey, err := ParsePrivateKey(privateKeyBase58)
	if err != nil {
		return nil, err
	}
	return NewClientSignerFromPrivateKey(privateKey)
}

// NewClientSignerFromKeypairFile signs with the key stored in a solana-keygen
// JSON file. A leading ~ in path is expanded.
func NewClientSignerFromKeypairFile(path string) (x402svm.ClientSvmSigner, error) {
	privateKey, err := LoadKeypair(path)
	if err != nil {
		return nil, err
	}
	return NewClientSignerFromPrivateKey(privateKey)
}

// Address implements x402svm.ClientSvmSigner
func (s *ClientSigner) Address() solana.PublicKey {
	return s.publicKey
}

// SignTransaction implements x402svm.ClientSvmSigner
func (s *ClientSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return s.sign(ctx, tx)
}

// keySigner fills the signature slot of the key's account and leaves the
// other slots untouched.
func keySigner(privateKey solana.PrivateKey) SignTransactionFunc {
	owner := privateKey.PublicKey()
	return func(_ context.Context, tx *solana.Transaction) error {
		if !tx.Message.IsSigner(owner) {
			return fmt.Errorf("%s is not a signer of the transaction", owner)
		}
		_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
			if key.Equals(owner) {
				return &privateKey
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to sign: %w", err)
		}
		return nil
	}
}
