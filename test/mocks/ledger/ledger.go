// Package ledger provides an in-memory Solana ledger for tests.
// It accepts signed transactions, applies their TransferChecked to token
// balances and reports confirmation after a configurable number of polls.
package ledger

import (
	"context"
	"fmt"
	"sync"

	solana "github.com/gagliardetto/solana-go"

	"github.com/402nodo/nodo-x402-Solana/mechanisms/svm"
)

type tokenAccount struct {
	owner   solana.PublicKey
	mint    solana.PublicKey
	balance uint64
}

type entry struct {
	record *svm.TransactionRecord
	polls  int
}

// Ledger implements svm.Ledger in memory
type Ledger struct {
	mu       sync.Mutex
	decimals map[solana.PublicKey]uint8
	accounts map[solana.PublicKey]*tokenAccount
	txs      map[solana.Signature]*entry
	order    []solana.Signature
	slot     uint64
	closed   bool

	// ConfirmAfter is the number of status polls reported as processed
	// before a transaction is reported confirmed
	ConfirmAfter int
	// NeverConfirm keeps every transaction at processed
	NeverConfirm bool
	// SubmitError fails every submission when set
	SubmitError error
	// OnChainError makes every submitted transaction land with this error
	OnChainError interface{}
	// TransferFee is withheld from every credited transfer, the way a
	// transfer-fee mint credits less than the instruction amount
	TransferFee uint64
}

var _ svm.Ledger = (*Ledger)(nil)

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		decimals: make(map[solana.PublicKey]uint8),
		accounts: make(map[solana.PublicKey]*tokenAccount),
		txs:      make(map[solana.Signature]*entry),
		slot:     1000,
	}
}

// AddMint registers a mint with its decimals
func (l *Ledger) AddMint(mint solana.PublicKey, decimals uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decimals[mint] = decimals
}

// Fund creates (if needed) the associated token account of owner for mint
// and credits amount to it
func (l *Ledger) Fund(owner, mint solana.PublicKey, amount uint64) solana.PublicKey {
	ata := mustATA(owner, mint)

	l.mu.Lock()
	defer l.mu.Unlock()
	account, ok := l.accounts[ata]
	if !ok {
		account = &tokenAccount{owner: owner, mint: mint}
		l.accounts[ata] = account
	}
	account.balance += amount
	return ata
}

// BalanceOf returns the balance of owner's associated token account for mint
func (l *Ledger) BalanceOf(owner, mint solana.PublicKey) uint64 {
	ata := mustATA(owner, mint)

	l.mu.Lock()
	defer l.mu.Unlock()
	if account, ok := l.accounts[ata]; ok {
		return account.balance
	}
	return 0
}

// Submitted returns every accepted transaction in submission order
func (l *Ledger) Submitted() []*solana.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*solana.Transaction, 0, len(l.order))
	for _, sig := range l.order {
		out = append(out, l.txs[sig].record.Transaction)
	}
	return out
}

// Closed reports whether Close was called
func (l *Ledger) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// LatestBlockhash implements svm.Ledger
func (l *Ledger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var hash solana.Hash
	hash[0] = byte(l.slot)
	hash[1] = byte(l.slot >> 8)
	return hash, nil
}

// MintDecimals implements svm.Ledger
func (l *Ledger) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	decimals, ok := l.decimals[mint]
	if !ok {
		return 0, fmt.Errorf("%w: mint %s", svm.ErrAccountNotFound, mint)
	}
	return decimals, nil
}

// TokenBalance implements svm.Ledger
func (l *Ledger) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[account]
	if !ok {
		return 0, fmt.Errorf("%w: %s", svm.ErrAccountNotFound, account)
	}
	return acct.balance, nil
}

// SendTransaction implements svm.Ledger
func (l *Ledger) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.SubmitError != nil {
		return solana.Signature{}, l.SubmitError
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, fmt.Errorf("transaction is not signed")
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, fmt.Errorf("signature verification failed: %w", err)
	}

	sig := tx.Signatures[0]
	if _, exists := l.txs[sig]; exists {
		return solana.Signature{}, fmt.Errorf("transaction %s already processed", sig)
	}

	transfer, err := svm.FindTransferChecked(tx)
	if err != nil {
		return solana.Signature{}, err
	}

	source, ok := l.accounts[transfer.Source]
	if !ok {
		return solana.Signature{}, fmt.Errorf("source account %s not found", transfer.Source)
	}
	destination, ok := l.accounts[transfer.Destination]
	if !ok {
		return solana.Signature{}, fmt.Errorf("destination account %s not found", transfer.Destination)
	}
	if !source.owner.Equals(transfer.Owner) {
		return solana.Signature{}, fmt.Errorf("owner mismatch for %s", transfer.Source)
	}
	if !source.mint.Equals(transfer.Mint) || !destination.mint.Equals(transfer.Mint) {
		return solana.Signature{}, fmt.Errorf("mint mismatch")
	}
	if decimals, ok := l.decimals[transfer.Mint]; !ok || decimals != transfer.Decimals {
		return solana.Signature{}, fmt.Errorf("decimals mismatch for mint %s", transfer.Mint)
	}

	sourceIndex := accountIndex(tx, transfer.Source)
	pre := []svm.TokenBalance{
		{AccountIndex: sourceIndex, Owner: source.owner, Mint: source.mint, Amount: source.balance},
		{AccountIndex: transfer.DestinationIndex, Owner: destination.owner, Mint: destination.mint, Amount: destination.balance},
	}

	var onChainErr interface{}
	switch {
	case l.OnChainError != nil:
		onChainErr = l.OnChainError
	case source.balance < transfer.Amount:
		onChainErr = map[string]interface{}{"InstructionError": []interface{}{0, "InsufficientFunds"}}
	default:
		source.balance -= transfer.Amount
		if transfer.Amount > l.TransferFee {
			destination.balance += transfer.Amount - l.TransferFee
		}
	}

	post := []svm.TokenBalance{
		{AccountIndex: sourceIndex, Owner: source.owner, Mint: source.mint, Amount: source.balance},
		{AccountIndex: transfer.DestinationIndex, Owner: destination.owner, Mint: destination.mint, Amount: destination.balance},
	}

	l.slot++
	l.txs[sig] = &entry{
		record: &svm.TransactionRecord{
			Signature:         sig,
			Slot:              l.slot,
			Transaction:       tx,
			Err:               onChainErr,
			PreTokenBalances:  pre,
			PostTokenBalances: post,
		},
	}
	l.order = append(l.order, sig)
	return sig, nil
}

// SignatureStatus implements svm.Ledger
func (l *Ledger) SignatureStatus(ctx context.Context, sig solana.Signature) (*svm.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.txs[sig]
	if !ok {
		return nil, nil
	}
	e.polls++

	commitment := svm.CommitmentProcessed
	if !l.NeverConfirm && e.polls > l.ConfirmAfter {
		commitment = svm.CommitmentConfirmed
	}
	return &svm.SignatureStatus{
		Slot:       e.record.Slot,
		Commitment: commitment,
		Err:        e.record.Err,
	}, nil
}

// Transaction implements svm.Ledger
func (l *Ledger) Transaction(ctx context.Context, sig solana.Signature) (*svm.TransactionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.txs[sig]
	if !ok {
		return nil, fmt.Errorf("%w: %s", svm.ErrTransactionNotFound, sig)
	}
	record := *e.record
	return &record, nil
}

// Close implements svm.Ledger
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func accountIndex(tx *solana.Transaction, key solana.PublicKey) uint16 {
	for i, k := range tx.Message.AccountKeys {
		if k.Equals(key) {
			return uint16(i)
		}
	}
	return 0
}

func mustATA(owner, mint solana.PublicKey) solana.PublicKey {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		panic(err)
	}
	return ata
}
