package svm

import (
	"context"

	solana "github.com/gagliardetto/solana-go"
)

// ClientSvmSigner signs payment transactions on behalf of the paying wallet
type ClientSvmSigner interface {
	// Address returns the wallet public key; it owns the source token account
	// and pays the transaction fee
	Address() solana.PublicKey

	// SignTransaction adds the wallet signature at its account index
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}
