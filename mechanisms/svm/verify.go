package svm

import (
	"context"
	"errors"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	x402 "github.com/402nodo/nodo-x402-Solana"
)

// Verification errors
var (
	ErrInvalidSignature = errors.New("svm: invalid transaction signature")
	ErrProofNotFound    = errors.New("svm: proof transaction not found")
	ErrProofUnconfirmed = errors.New("svm: proof transaction not confirmed")
	ErrProofInvalid     = errors.New("svm: proof transaction is not a token transfer")
	ErrRecipientUnknown = errors.New("svm: cannot resolve transfer recipient")
	ErrNoCredit         = errors.New("svm: proof transaction did not credit the recipient")
)

// LedgerVerifier reads a settlement back from the ledger
type LedgerVerifier struct {
	ledger Ledger
	logger *zap.Logger
}

var _ x402.ProofVerifier = (*LedgerVerifier)(nil)

// NewLedgerVerifier creates a verifier over ledger
func NewLedgerVerifier(ledger Ledger, logger *zap.Logger) *LedgerVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerVerifier{ledger: ledger, logger: logger}
}

// Verify implements x402.ProofVerifier.
// The transaction must be confirmed without error and contain a TransferChecked.
// The recipient is the owner of the credited token account and the amount is
// the change of its balance, both taken from the transaction's token balance
// metadata. The instruction amount is not trusted: fee-withholding mints
// credit less than it names.
func (v *LedgerVerifier) Verify(ctx context.Context, signature string) (*x402.SettlementRecord, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err.Error())
	}

	status, err := v.ledger.SignatureStatus(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if status == nil {
		return nil, fmt.Errorf("%w: %s", ErrProofNotFound, signature)
	}
	if status.Err != nil {
		return nil, fmt.Errorf("%w: %s: %v", x402.ErrTransactionFailed, signature, status.Err)
	}
	if !status.Confirmed() {
		return nil, fmt.Errorf("%w: %s is %s", ErrProofUnconfirmed, signature, status.Commitment)
	}

	record, err := v.ledger.Transaction(ctx, sig)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProofNotFound, signature)
		}
		return nil, err
	}
	if record.Err != nil {
		return nil, fmt.Errorf("%w: %s: %v", x402.ErrTransactionFailed, signature, record.Err)
	}

	transfer, err := FindTransferChecked(record.Transaction)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProofInvalid, err.Error())
	}

	post, ok := record.PostBalance(transfer.DestinationIndex)
	if !ok || post.Owner.IsZero() {
		return nil, fmt.Errorf("%w: destination %s", ErrRecipientUnknown, transfer.Destination)
	}
	credited, err := creditedAmount(record, transfer)
	if err != nil {
		return nil, err
	}

	memo, _ := FindMemo(record.Transaction)

	settlement := &x402.SettlementRecord{
		Signature: signature,
		Memo:      memo,
		Recipient: post.Owner.String(),
		Mint:      transfer.Mint.String(),
		Amount:    credited,
	}

	v.logger.Debug("verified settlement",
		zap.String("signature", signature),
		zap.String("memo", memo),
		zap.String("recipient", settlement.Recipient),
		zap.Uint64("amount", settlement.Amount),
		zap.Uint64("instructionAmount", transfer.Amount))

	return settlement, nil
}

// creditedAmount is the destination's post balance minus its pre balance in
// the transfer mint. An account created by the transaction has no pre entry
// and starts from zero.
func creditedAmount(record *TransactionRecord, transfer *TransferChecked) (uint64, error) {
	post, _ := record.PostBalance(transfer.DestinationIndex)
	if !post.Mint.Equals(transfer.Mint) {
		return 0, fmt.Errorf("%w: destination %s holds %s, not %s", ErrProofInvalid, transfer.Destination, post.Mint, transfer.Mint)
	}

	var before uint64
	if pre, ok := record.PreBalance(transfer.DestinationIndex); ok {
		if !pre.Mint.Equals(transfer.Mint) {
			return 0, fmt.Errorf("%w: destination %s changed mint", ErrProofInvalid, transfer.Destination)
		}
		before = pre.Amount
	}
	if post.Amount <= before {
		return 0, fmt.Errorf("%w: %s balance went from %d to %d", ErrNoCredit, transfer.Destination, before, post.Amount)
	}
	return post.Amount - before, nil
}
