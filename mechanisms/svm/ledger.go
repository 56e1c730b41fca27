package svm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Ledger errors
var (
	ErrAccountNotFound     = errors.New("svm: account not found")
	ErrTransactionNotFound = errors.New("svm: transaction not found")
)

// Ledger is the boundary to a Solana cluster
type Ledger interface {
	// LatestBlockhash returns a recent blockhash for new transactions
	LatestBlockhash(ctx context.Context) (solana.Hash, error)

	// MintDecimals reads the decimals of a token mint
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)

	// TokenBalance returns the atomic balance of a token account.
	// Returns ErrAccountNotFound when the account does not exist.
	TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error)

	// SendTransaction submits a signed transaction
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	// SignatureStatus returns the status of a submitted transaction.
	// A nil status with a nil error means the signature is unknown.
	SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error)

	// Transaction fetches a confirmed transaction.
	// Returns ErrTransactionNotFound when the cluster has no record of it.
	Transaction(ctx context.Context, sig solana.Signature) (*TransactionRecord, error)

	Close() error
}

// Commitment is a confirmation level reported by the cluster
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// SignatureStatus of a submitted transaction
type SignatureStatus struct {
	Slot       uint64
	Commitment Commitment
	// Err is the on-chain error, nil when the transaction succeeded
	Err interface{}
}

// Confirmed reports whether the status reached confirmed or finalized
func (s *SignatureStatus) Confirmed() bool {
	return s.Commitment == CommitmentConfirmed || s.Commitment == CommitmentFinalized
}

// TokenBalance is a token account balance recorded in transaction metadata
type TokenBalance struct {
	AccountIndex uint16
	Owner        solana.PublicKey
	Mint         solana.PublicKey
	Amount       uint64
}

// TransactionRecord is a transaction as stored on the cluster
type TransactionRecord struct {
	Signature         solana.Signature
	Slot              uint64
	Transaction       *solana.Transaction
	Err               interface{}
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// PostBalance returns the post-transaction balance entry of an account index
func (r *TransactionRecord) PostBalance(accountIndex uint16) (TokenBalance, bool) {
	return findTokenBalance(r.PostTokenBalances, accountIndex)
}

// PreBalance returns the pre-transaction balance entry of an account index
func (r *TransactionRecord) PreBalance(accountIndex uint16) (TokenBalance, bool) {
	return findTokenBalance(r.PreTokenBalances, accountIndex)
}

func findTokenBalance(balances []TokenBalance, accountIndex uint16) (TokenBalance, bool) {
	for _, b := range balances {
		if b.AccountIndex == accountIndex {
			return b, true
		}
	}
	return TokenBalance{}, false
}

// ============================================================================
// RPCLedger - JSON-RPC backed Ledger
// ============================================================================

// RPCLedger implements Ledger over Solana JSON-RPC
type RPCLedger struct {
	client     *rpc.Client
	limiter    *rate.Limiter
	commitment rpc.CommitmentType
	logger     *zap.Logger
}

var _ Ledger = (*RPCLedger)(nil)

// LedgerOption configures an RPCLedger
type LedgerOption func(*RPCLedger)

// WithRateLimit throttles RPC calls to rps requests per second
func WithRateLimit(rps float64, burst int) LedgerOption {
	return func(l *RPCLedger) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			l.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithCommitment sets the commitment used for reads
func WithCommitment(commitment rpc.CommitmentType) LedgerOption {
	return func(l *RPCLedger) {
		l.commitment = commitment
	}
}

// WithLedgerLogger sets the logger
func WithLedgerLogger(logger *zap.Logger) LedgerOption {
	return func(l *RPCLedger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewRPCLedger creates a ledger for the cluster at rpcURL
func NewRPCLedger(rpcURL string, opts ...LedgerOption) *RPCLedger {
	l := &RPCLedger{
		client:     rpc.New(rpcURL),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		commitment: rpc.CommitmentConfirmed,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RPCLedger) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// LatestBlockhash implements Ledger
func (l *RPCLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := l.wait(ctx); err != nil {
		return solana.Hash{}, err
	}
	latest, err := l.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return latest.Value.Blockhash, nil
}

// MintDecimals implements Ledger
func (l *RPCLedger) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	if err := l.wait(ctx); err != nil {
		return 0, err
	}
	mintAccount, err := l.client.GetAccountInfoWithOpts(ctx, mint, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: l.commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return 0, fmt.Errorf("%w: mint %s", ErrAccountNotFound, mint)
		}
		return 0, fmt.Errorf("failed to get mint account: %w", err)
	}

	// Determine token program (Token or Token-2022)
	tokenProgramID := mintAccount.Value.Owner
	if tokenProgramID != solana.TokenProgramID && tokenProgramID != solana.Token2022ProgramID {
		return 0, fmt.Errorf("asset was not created by a known token program")
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(mintAccount.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return 0, fmt.Errorf("failed to decode mint data: %w", err)
	}
	return mintData.Decimals, nil
}

// TokenBalance implements Ledger
func (l *RPCLedger) TokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := l.wait(ctx); err != nil {
		return 0, err
	}
	balance, err := l.client.GetTokenAccountBalance(ctx, account, l.commitment)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) || strings.Contains(err.Error(), "could not find account") {
			return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
		}
		return 0, fmt.Errorf("failed to get token balance: %w", err)
	}
	if balance == nil || balance.Value == nil {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
	}
	amount, err := strconv.ParseUint(balance.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token balance %q: %w", balance.Value.Amount, err)
	}
	return amount, nil
}

// SendTransaction implements Ledger
func (l *RPCLedger) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := l.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	sig, err := l.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: l.commitment,
	})
	if err != nil {
		return solana.Signature{}, err
	}
	l.logger.Debug("transaction submitted", zap.String("signature", sig.String()))
	return sig, nil
}

// SignatureStatus implements Ledger
func (l *RPCLedger) SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	statuses, err := l.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return nil, nil
	}

	status := statuses.Value[0]
	return &SignatureStatus{
		Slot:       status.Slot,
		Commitment: Commitment(status.ConfirmationStatus),
		Err:        status.Err,
	}, nil
}

// Transaction implements Ledger
func (l *RPCLedger) Transaction(ctx context.Context, sig solana.Signature) (*TransactionRecord, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}

	maxVersion := uint64(0)
	out, err := l.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     l.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, sig)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if out == nil || out.Transaction == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, sig)
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	record := &TransactionRecord{
		Signature:   sig,
		Slot:        out.Slot,
		Transaction: tx,
	}
	if out.Meta != nil {
		record.Err = out.Meta.Err
		if record.PreTokenBalances, err = convertTokenBalances(out.Meta.PreTokenBalances); err != nil {
			return nil, err
		}
		if record.PostTokenBalances, err = convertTokenBalances(out.Meta.PostTokenBalances); err != nil {
			return nil, err
		}
	}
	return record, nil
}

func convertTokenBalances(balances []rpc.TokenBalance) ([]TokenBalance, error) {
	out := make([]TokenBalance, 0, len(balances))
	for _, b := range balances {
		entry := TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
		}
		if b.Owner != nil {
			entry.Owner = *b.Owner
		}
		if b.UiTokenAmount != nil {
			amount, err := strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid token balance %q: %w", b.UiTokenAmount.Amount, err)
			}
			entry.Amount = amount
		}
		out = append(out, entry)
	}
	return out, nil
}

// Close implements Ledger
func (l *RPCLedger) Close() error {
	return l.client.Close()
}
